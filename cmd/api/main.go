package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lgl-sync/internal/client"
	"lgl-sync/internal/config"
	"lgl-sync/internal/handler"
	"lgl-sync/internal/notify"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/scheduler"
	"lgl-sync/internal/server"
	"lgl-sync/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	db, err := client.InitDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Fatal("init database")
	}

	crm := client.NewLGLClient(&cfg.LGL)
	clock := scheduler.SystemClock()

	orderRepo := repository.NewOrderRepository(db)
	syncRepo := repository.NewOrderSyncRepository(db)
	taskRepo := repository.NewScheduledTaskRepository(db)
	triggerRepo := repository.NewProcessedTriggerRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	userRepo := repository.NewUserRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	familyRepo := repository.NewFamilyMemberRepository(db)
	tierRepo := repository.NewTierRepository(db)
	regRepo := repository.NewRegistrationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	sched := scheduler.NewScheduler(taskRepo)
	mailer := notify.NewLogMailer(logger)

	membershipSvc := service.NewMembershipService(
		crm, membershipRepo, userRepo, subRepo,
		familyRepo, tierRepo, syncRepo, clock, logger,
	)
	classEventSvc := service.NewClassEventService(crm, regRepo, logger)
	router := service.NewOrderRouter(orderRepo, membershipSvc, classEventSvc, logger)
	queue := service.NewSyncQueueService(
		cfg.Queue, syncRepo, orderRepo, userRepo,
		router, sched, clock, logger,
	)
	familySvc := service.NewFamilyService(
		cfg.Queue, crm, familyRepo, membershipRepo,
		sched, clock, logger,
	)
	renewalSvc := service.NewRenewalService(
		crm, membershipRepo, subRepo, familyRepo,
		auditRepo, familySvc, mailer, clock, logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background task runner: the deferred-task half of the async queue.
	runner := scheduler.NewRunner(taskRepo, clock, logger, cfg.Queue.PollInterval)
	runner.Register(service.HookSyncOrder, func(ctx context.Context, args map[string]interface{}) error {
		orderID, err := service.OrderIDFromArgs(args)
		if err != nil {
			return err
		}
		return queue.HandleAsyncRequest(ctx, orderID)
	})
	runner.Register(service.HookFamilyRelCreate, func(ctx context.Context, args map[string]interface{}) error {
		childID, err := service.ChildUserIDFromArgs(args)
		if err != nil {
			return err
		}
		return familySvc.HandleCreate(ctx, childID)
	})
	runner.Register(service.HookFamilyRelDelete, func(ctx context.Context, args map[string]interface{}) error {
		childID, err := service.ChildUserIDFromArgs(args)
		if err != nil {
			return err
		}
		return familySvc.HandleDelete(ctx, childID)
	})
	go runner.Start(ctx)

	go runDailySweep(ctx, renewalSvc, cfg.Renewal.SweepHour, logger)

	orderHandler := handler.NewOrderHandler(db, orderRepo, triggerRepo, router, queue, logger)
	memberHandler := handler.NewMemberHandler(familyRepo, familySvc, membershipSvc)
	adminHandler := handler.NewAdminHandler(syncRepo, queue, membershipSvc)

	srv := server.NewServer(orderHandler, memberHandler, adminHandler, queue, cfg.Admin.JWTSecret)
	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	logger.WithField("addr", serverAddr).Info("starting HTTP server")
	go func() {
		if err := srv.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	logger.Info("signal received, starting graceful shutdown")
	cancel()

	if err := srv.Shutdown(); err != nil {
		logger.WithError(err).Fatal("HTTP server shutdown error")
	}
}

// runDailySweep fires the renewal sweep once a day at the configured hour.
func runDailySweep(ctx context.Context, renewalSvc service.RenewalService, hour int, logger *logrus.Logger) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			if err := renewalSvc.RunDailySweep(ctx); err != nil {
				logger.WithError(err).Error("renewal sweep")
			}
		}
	}
}

func newLogger(cfg config.Log) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}
