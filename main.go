package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nextbb-automation/config"
	"nextbb-automation/handlers"
	"nextbb-automation/middleware"
	"nextbb-automation/models"
	"nextbb-automation/services"
	"nextbb-automation/utils"
	"nextbb-automation/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	// --- Engine ---
	ledger := services.NewLedger(db, clock)
	badgeService := services.NewBadgeService(db, clock)
	subjectService := services.NewSubjectService(db, clock)
	ruleStore := services.NewRuleStore(db)
	executor := services.NewActionExecutor(ledger, badgeService, subjectService)
	firer := services.NewFirer(db, services.NewEligibilityGate(), executor, clock, cfg.FiringTimeout)
	eventBus := services.NewEventBus(ruleStore, firer, clock)

	if err := badgeService.EnsureDefaults(ctx); err != nil {
		log.Fatal("failed to seed badges:", err)
	}

	cronOpts := services.CronOptions{Location: cfg.Location(), BatchSize: cfg.CronBatchSize}
	if cfg.CronDistributedLock {
		cronOpts.Locker = services.NewLeaseLocker(db, cfg.InstanceID, cfg.CronLeaseTTL, clock)
		log.Printf("✅ Cron lease locking enabled (instance %s)", cfg.InstanceID)
	}
	cronScheduler, err := services.NewCronScheduler(ruleStore, subjectService, firer, clock, cronOpts)
	if err != nil {
		log.Fatal("failed to create cron scheduler:", err)
	}
	ruleStore.Schedules = cronScheduler
	if err := cronScheduler.RebuildFromStore(ctx); err != nil {
		// the failing rules are logged; the rest stay scheduled
		log.Printf("⚠️  some CRON rules could not be scheduled: %v", err)
	}
	cronScheduler.Start(ctx)

	// --- Workers ---
	dispatcher := workers.NewEventDispatcher(eventBus, cfg.DispatchWorkers, cfg.DispatchQueue)
	eventBus.SetQueue(dispatcher)
	dispatcher.Start(ctx)

	if cfg.Archive.Enabled {
		uploader, err := utils.NewR2Uploader(ctx, utils.R2Config{
			AccountID:       cfg.Archive.AccountID,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			AccessKeySecret: cfg.Archive.AccessKeySecret,
			Bucket:          cfg.Archive.Bucket,
		})
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		archiver := workers.NewLedgerArchiver(ledger, uploader, cfg.Archive.Interval, clock)
		archiver.Prefix = cfg.Archive.Prefix
		archiver.Start(ctx)
	}

	// --- HTTP ---
	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "cron_jobs": len(cronScheduler.Registered())})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// 🔐❗ Everything below requires the gateway token
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	handlers.SetupEventRoutes(app, eventBus)
	handlers.SetupCreditRoutes(app, ledger, badgeService, subjectService)
	handlers.SetupAutomationRoutes(app, ruleStore, cronScheduler)

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost%s", cfg.ListenAddr())
	log.Printf("✅ Event dispatcher running (%d workers)", cfg.DispatchWorkers)
	log.Printf("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Println("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := cronScheduler.Shutdown(); err != nil {
		log.Printf("Cron shutdown: %v", err)
	}
	eventBus.Close()
	dispatcher.Stop()
	eventBus.Wait()
}
