package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bloodwall/internal/app"
	"bloodwall/internal/domain/notification"
	"bloodwall/internal/infra/config"
	idb "bloodwall/internal/infra/database"
	"bloodwall/internal/infra/httpapi"
	"bloodwall/internal/infra/logger"
	"bloodwall/internal/infra/magiclink"
	"bloodwall/internal/infra/mailer"
	"bloodwall/internal/infra/redisstore"
	"bloodwall/internal/infra/scheduler"
	"bloodwall/internal/infra/telegram"
)

func main() {
	fmt.Println("Bloodwall notification dispatcher starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.Infof("Configuration loaded. Environment: %s, claim backend: %s, read-only: %t", cfg.Environment, cfg.ClaimBackend, cfg.ReadOnly)

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(context.Background(), cfg.DatabaseURL, idb.PoolOptions{})
	if err != nil {
		mainLogger.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully.")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := idb.Migrate(migrateCtx, db); err != nil {
		cancelMigrate()
		mainLogger.Fatalf("Could not apply database migrations: %v", err)
	}
	cancelMigrate()

	// Initialize Repositories
	memberRepo := idb.NewPostgresMemberRepository(db)
	pendingRepo := idb.NewPostgresPendingRepository(db)

	var claimStore notification.ClaimStore
	switch cfg.ClaimBackend {
	case "redis":
		client := redisstore.NewClient(redisstore.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			cancelPing()
			mainLogger.Fatalf("Could not reach redis at %s: %v", cfg.RedisAddr, err)
		}
		cancelPing()
		claimStore = redisstore.NewClaimStore(client)
	default:
		claimStore = idb.NewPostgresClaimRepository(db)
	}
	mainLogger.Infof("Claim store initialized (%s).", cfg.ClaimBackend)

	// Mail transport
	mail := mailer.NewFromConfig(cfg, logger.Component("mailer"))
	if err := mail.Ready(); err != nil {
		mainLogger.WithError(err).Error("Mail transport not ready; job triggers will return internal_error.")
	}

	// Operator alerts
	var dispatcherOpts []app.DispatcherOption
	if cfg.TelegramToken != "" && cfg.OpsTelegramChatID != 0 {
		bot, err := telegram.NewOpsBot(cfg.TelegramToken)
		if err != nil {
			mainLogger.Fatalf("Could not create Telegram bot: %v", err)
		}
		dispatcherOpts = append(dispatcherOpts, app.WithOpsAlerts(telegram.NewTelebotAdapter(bot), cfg.OpsTelegramChatID))
		mainLogger.Info("Telegram ops alerts enabled.")
	}

	signer := magiclink.NewSigner(cfg.AppSecret, cfg.AppURL)
	dispatcher := app.NewDispatcher(claimStore, mail, logger.Component("dispatcher"), dispatcherOpts...)
	notificationService := app.NewNotificationServiceImpl(
		dispatcher,
		memberRepo,
		pendingRepo,
		pendingRepo,
		signer,
		cfg.AppURL,
		cfg.AdminEmail,
		logger.Component("notifications"),
	)
	adminService := app.NewAdminService(claimStore, logger.Component("admin"))

	// Initialize NotificationScheduler
	var notifScheduler *scheduler.NotificationScheduler
	if cfg.SchedulerEnabled {
		notifScheduler = scheduler.NewNotificationScheduler(
			notificationService,
			logger.Component("scheduler"),
			scheduler.Specs{Nightly: cfg.CronSpecNightly, MAM: cfg.CronSpecMAM, Digest: cfg.CronSpecDigest},
			cfg.SchedulerCompany,
		)
		if err := notifScheduler.Start(); err != nil {
			mainLogger.Fatalf("Could not start scheduler: %v", err)
		}
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Config:        cfg,
		Notifications: notificationService,
		Admin:         adminService,
		Tokens:        signer,
		Ready:         mail.Ready,
		Logger:        logger.Component("http"),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		mainLogger.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	if notifScheduler != nil {
		notifScheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Error("HTTP server did not shut down cleanly.")
	}
	mainLogger.Info("Application shut down gracefully.")
}
