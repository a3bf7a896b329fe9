package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/qhomebase/iam/internal/iam/http"
	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/internal/iam/store/drivers/sqlite"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/cryptox"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/obs"
	"github.com/qhomebase/iam/pkg/revocation"
	"github.com/qhomebase/iam/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application encapsulates the IAM service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db          store.Store
	sealer      *cryptox.Sealer
	keyManager  *jwtx.KeyManager
	revocations revocation.Registry
	redis       *redis.Client
	issuer      *jwtx.Issuer
	verifier    *jwtx.Verifier
	gate        *authz.Gate

	// Services
	permissions         *service.PermissionResolver
	tokenService        *service.TokenService
	overrideService     *service.OverrideService
	rolesService        *service.RolesService
	keyRotationService  *service.KeyRotationService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
// A missing signing key aborts startup.
func New(cfg Config) (_ *Application, err error) {
	app := &Application{
		cfg:    cfg,
		logger: NewLogger(cfg),
	}
	obs.Init()

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			app.closeBackends()
		}
	}()

	sealer, err := cryptox.LoadSealer(cfg.MasterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	app.sealer = sealer

	ctx := context.Background()
	keyManager, err := InitKeys(ctx, app.cfg, app.db, app.sealer, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = keyManager

	if err := app.initRevocations(ctx); err != nil {
		return nil, err
	}
	if err := app.initTokens(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "iam",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// OpenStore opens the SQLite database and applies migrations.
func OpenStore(cfg Config) (*sqlite.Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	return db, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("iam service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"permission_mode", app.gate.Mode().String(),
		"revocation_backend", app.cfg.RevocationBackend,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down iam service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.closeBackends(); err != nil {
		return err
	}

	app.logger.Info("iam service stopped")
	return nil
}

// closeBackends releases the redis client and the database.
func (app *Application) closeBackends() error {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
		app.redis = nil
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

func (app *Application) initDatabase() error {
	db, err := OpenStore(app.cfg)
	if err != nil {
		return err
	}
	app.db = db
	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

func (app *Application) initRevocations(ctx context.Context) error {
	switch app.cfg.RevocationBackend {
	case RevocationMemory:
		app.revocations = revocation.NewMemory(time.Now)
		app.logger.Warn("in-memory revocation registry: revocations are lost on restart and not shared between replicas")

	case RevocationRedis:
		app.redis = redis.NewClient(&redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		reg := revocation.NewRedis(app.redis, "")
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := reg.Ping(pingCtx); err != nil {
			_ = app.redis.Close()
			app.redis = nil
			return fmt.Errorf("failed to reach redis at %s: %w", app.cfg.RedisAddr, err)
		}
		app.revocations = reg

	default:
		app.revocations = store.NewRevocationRegistry(app.db, time.Now)
	}

	app.logger.Info("revocation registry ready", "backend", app.cfg.RevocationBackend)
	return nil
}

func (app *Application) initTokens() error {
	issuer, err := jwtx.NewIssuer(app.keyManager, jwtx.IssuerOptions{
		Issuer:   app.cfg.Issuer,
		Audience: app.cfg.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to create issuer: %w", err)
	}
	app.issuer = issuer

	verifier, err := jwtx.NewVerifier(app.keyManager, jwtx.VerifierOptions{
		Issuer:      app.cfg.Issuer,
		Audience:    app.cfg.Audience,
		Leeway:      app.cfg.ClockSkew,
		Revocations: app.revocations,
	})
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	app.verifier = verifier
	return nil
}

func (app *Application) initServices() error {
	app.permissions = &service.PermissionResolver{Store: app.db}

	gate, err := newGate(app.cfg.PermissionMode, app.permissions)
	if err != nil {
		return err
	}
	app.gate = gate

	app.tokenService = &service.TokenService{
		Issuer:      app.issuer,
		Verifier:    app.verifier,
		Revocations: app.revocations,
		Permissions: app.permissions,
		AccessTTL:   app.cfg.AccessTTL,
		RefreshTTL:  app.cfg.RefreshTTL,
		ServiceTTL:  app.cfg.ServiceTTL,
	}
	app.overrideService = &service.OverrideService{Store: app.db}
	app.rolesService = &service.RolesService{Store: app.db}

	// Ephemeral and HS256 rotations only live in memory.
	app.keyRotationService = &service.KeyRotationService{KeyManager: app.keyManager}
	if app.cfg.KeyStorageMode == KeyStoragePersistent && app.cfg.Algorithm != jwtx.AlgorithmHS256 {
		app.keyRotationService.Store = app.db
		app.keyRotationService.Sealer = app.sealer
	}
	app.logger.Info("key rotation service enabled", "mode", app.cfg.KeyStorageMode)

	var purger revocation.Purger
	if p, ok := app.revocations.(revocation.Purger); ok {
		purger = p
	}
	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.keyManager,
		purger,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

func newGate(modeName string, src authz.PermissionSource) (*authz.Gate, error) {
	mode, err := authz.ParseMode(modeName)
	if err != nil {
		return nil, fmt.Errorf("invalid permission mode: %w", err)
	}
	gate, err := authz.NewGate(mode, src)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization gate: %w", err)
	}
	return gate, nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager,
		app.verifier,
		app.gate,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.Limits = app.cfg.RateLimits
	router.Revocations = app.revocations
	router.TokenService = app.tokenService
	router.Permissions = app.permissions
	router.OverrideService = app.overrideService
	router.RolesService = app.rolesService
	router.KeyRotationService = app.keyRotationService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
