package client

import (
	"fmt"
	"lgl-sync/internal/model"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// InitDB opens the durable store and migrates the schema. Driver is
// "sqlite" (default) or "mysql".
func InitDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	// Connection pool (the stuck-order sweep and the scheduler runner poll
	// continuously)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.User{},
		&model.Order{},
		&model.OrderLine{},
		&model.OrderMeta{},
		&model.OrderSyncRecord{},
		&model.ProcessedTrigger{},
		&model.ScheduledTask{},
		&model.Membership{},
		&model.Subscription{},
		&model.FamilyMember{},
		&model.TierConfig{},
		&model.Registration{},
		&model.MembershipAuditEntry{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return db, nil
}
