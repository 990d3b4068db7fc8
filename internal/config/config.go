package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL"`

	Database Database `envPrefix:"DB_"`
	LGL      LGL      `envPrefix:"LGL_"`
	Queue    Queue    `envPrefix:"QUEUE_"`
	Renewal  Renewal  `envPrefix:"RENEWAL_"`
	Admin    Admin    `envPrefix:"ADMIN_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

type Database struct {
	// Driver is "sqlite" or "mysql".
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"lgl-sync.db"`
}

type LGL struct {
	BaseApiURL string `env:"BASE_API_URL"`
	APIKey     string `env:"API_KEY"`
}

type Queue struct {
	MaxRetries         int           `env:"MAX_RETRIES" envDefault:"5"`
	RetryDelay         time.Duration `env:"RETRY_DELAY" envDefault:"5m"`
	LockStaleness      time.Duration `env:"LOCK_STALENESS" envDefault:"5m"`
	StuckSweepInterval time.Duration `env:"STUCK_SWEEP_INTERVAL" envDefault:"30s"`
	StuckThreshold     time.Duration `env:"STUCK_THRESHOLD" envDefault:"1m"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
}

type Renewal struct {
	SweepHour  int    `env:"SWEEP_HOUR" envDefault:"2"`
	GraceDays  int    `env:"GRACE_DAYS" envDefault:"30"`
	AdminEmail string `env:"ADMIN_EMAIL"`
}

type Admin struct {
	JWTSecret string `env:"JWT_SECRET"`
}
