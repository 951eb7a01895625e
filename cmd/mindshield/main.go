package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/MindShield/app/controllers"
	"github.com/ManuelReschke/MindShield/app/repository"
	"github.com/ManuelReschke/MindShield/internal/pkg/cache"
	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/pkg/database"
	"github.com/ManuelReschke/MindShield/internal/pkg/env"
	"github.com/ManuelReschke/MindShield/internal/pkg/eventarchive"
	"github.com/ManuelReschke/MindShield/internal/pkg/jobqueue"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
	"github.com/ManuelReschke/MindShield/internal/pkg/payout"
	"github.com/ManuelReschke/MindShield/internal/pkg/reconciler"
	"github.com/ManuelReschke/MindShield/internal/pkg/router"
)

// Application holds the long-running parts of the service.
type Application struct {
	App        *fiber.App
	reconciler *reconciler.Reconciler
	jobs       *jobqueue.Manager
	archive    eventarchive.Archive
	closeChain func()
}

func main() {
	ctx := context.Background()
	application, err := NewApplication(ctx)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := application.App.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	application.Shutdown()
}

func NewApplication(ctx context.Context) (*Application, error) {
	env.SetupEnvFile()
	if err := database.SetupDatabase(); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	cache.SetupCache()

	ledgerCfg := config.LoadLedgerConfig()
	backend, closeChain, err := ledger.OpenBackend(ctx, ledgerCfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	client, err := ledger.NewClient(backend, ledgerCfg)
	if err != nil {
		closeChain()
		return nil, fmt.Errorf("ledger client: %w", err)
	}

	repos := repository.NewFactory(database.GetDB()).GetRepositories()

	archive, err := eventarchive.Open(ctx, config.LoadArchiveConfig())
	if err != nil {
		// the archive is optional; events are still applied without it
		log.Warnf("[Archive] Disabled: %v", err)
		archive = eventarchive.Noop{}
	}

	// The queue needs the reconciler as repairer and the reconciler needs the
	// queue, so the repairer is bound after both exist.
	repairer := &lateRepairer{}
	jobs := jobqueue.NewManager(cache.GetClient(), env.GetEnvInt("REPAIR_WORKERS", 2), repairer)
	rec := reconciler.New(config.LoadReconcilerConfig(), client, repos, client.Fiat(),
		reconciler.WithRepairQueue(jobs.GetQueue()),
		reconciler.WithArchive(archive),
	)
	repairer.target = rec

	jobs.Start()
	if err := rec.Start(ctx); err != nil {
		jobs.Stop()
		closeChain()
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: controllers.ErrorHandler,
		BodyLimit:    1 << 20,
	})
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: env.GetEnv("OPENAPI_FILE", "./public/docs/v1/openapi.yml"),
		Path:     "v1",
	}))

	deps := &controllers.Deps{
		Repos:         repos,
		Ledger:        client,
		Payouts:       payout.New(config.LoadPayoutConfig()),
		Reconciler:    rec,
		SubmitRetries: ledgerCfg.SubmitRetries,
	}
	var storage fiber.Storage
	if cache.Ping(ctx) == nil {
		storage = router.NewLimiterStorage()
	}
	router.InstallRouter(app, deps, storage)

	return &Application{
		App:        app,
		reconciler: rec,
		jobs:       jobs,
		archive:    archive,
		closeChain: closeChain,
	}, nil
}

// Shutdown stops accepting requests, then drains the reconciler and the
// repair queue before releasing the ledger connection.
func (a *Application) Shutdown() {
	if err := a.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Server] Shutdown: %v", err)
	}
	a.reconciler.Stop()
	a.jobs.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.archive.Close(ctx); err != nil {
		log.Errorf("[Archive] Close: %v", err)
	}
	a.closeChain()
}

type lateRepairer struct {
	target jobqueue.Repairer
}

func (l *lateRepairer) RepairEvent(ctx context.Context, eventID uint) error {
	if l.target == nil {
		return fmt.Errorf("repairer not ready for event %d", eventID)
	}
	return l.target.RepairEvent(ctx, eventID)
}
