// Package runtime assembles the contactbook process from configuration:
// storage, Redis, mail, avatars, the HTTP server and lifecycle services.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/contactbook/internal/app"
	"github.com/R3E-Network/contactbook/internal/app/httpapi"
	"github.com/R3E-Network/contactbook/internal/app/services/auth"
	"github.com/R3E-Network/contactbook/internal/app/services/avatar"
	"github.com/R3E-Network/contactbook/internal/app/services/mail"
	"github.com/R3E-Network/contactbook/internal/app/services/users"
	"github.com/R3E-Network/contactbook/internal/app/storage/postgres"
	"github.com/R3E-Network/contactbook/internal/config"
	"github.com/R3E-Network/contactbook/internal/middleware"
	"github.com/R3E-Network/contactbook/internal/platform/migrations"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication builds the process from cfg. A nil cfg loads configuration
// from the environment.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	a := &Application{cfg: cfg, log: log}
	if err := a.build(); err != nil {
		a.closeClients()
		return nil, err
	}
	return a, nil
}

func (a *Application) build() error {
	cfg := a.cfg

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := OpenDatabase(cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if cfg.Database.AutoMigrate {
			if err := migrations.Up(db); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			a.log.Info("database migrations applied")
		}
		store := postgres.New(db)
		stores = app.Stores{Users: store, Contacts: store, Pinger: store, Backend: "postgres"}
	} else {
		a.log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	opts := app.Options{
		Auth: auth.Config{
			SecretKey:  cfg.Auth.SecretKey,
			Algorithm:  cfg.Auth.Algorithm,
			AccessTTL:  cfg.Auth.AccessTokenTTL,
			RefreshTTL: cfg.Auth.RefreshTokenTTL,
			EmailTTL:   cfg.Auth.EmailTokenTTL,
		},
		MailQueue:          cfg.Mail.QueueSize,
		MailWorkers:        cfg.Mail.Workers,
		Avatars:            avatar.NewGravatar(""),
		LimiterCleanupSpec: cfg.Scheduler.LimiterCleanup,
		BirthdayDigestSpec: cfg.Scheduler.BirthdayDigest,
	}

	if cfg.Mail.Enabled() {
		mailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.Mail.Server,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			FromName: cfg.Mail.FromName,
			StartTLS: cfg.Mail.StartTLS,
			SSLTLS:   cfg.Mail.SSLTLS,
		})
		if err != nil {
			return fmt.Errorf("configure mail: %w", err)
		}
		opts.Mailer = mailer
	}

	if cfg.Images.Enabled() {
		images, err := avatar.NewCloudinary(avatar.CloudinaryConfig{
			CloudName: cfg.Images.CloudName,
			APIKey:    cfg.Images.APIKey,
			APISecret: cfg.Images.APISecret,
			BaseURL:   cfg.Images.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("configure images: %w", err)
		}
		opts.Images = images
	}

	var limiterBackend middleware.LimiterBackend
	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr(), err)
		}
		opts.UserCache = users.NewRedisCache(a.redis, cfg.Redis.UserTTL, a.log.Named("user-cache"))
		limiterBackend = middleware.NewRedisBackend(a.redis, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	} else if cfg.RateLimit.Enabled {
		mem := middleware.NewMemoryBackend(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		opts.LimiterSweep = mem
		limiterBackend = mem
	}

	application, err := app.New(stores, opts, a.log.Named("app"))
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	a.app = application

	httpOpts := httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins(),
		Metrics:        true,
	}
	if cfg.RateLimit.Enabled {
		httpOpts.Limiter = middleware.NewRateLimiter(limiterBackend, cfg.RateLimit.Requests, cfg.RateLimit.Window, a.log.Named("ratelimit"))
	}

	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpapi.NewHandler(application, httpOpts, a.log.Named("http")),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application { return a.app }

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler { return a.httpServer.Handler }

// Run starts lifecycle services and the HTTP server, then blocks until ctx
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server, drains the mail queue and
// closes client connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.closeClients()
	return errors.Join(errs...)
}

func (a *Application) closeClients() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

// OpenDatabase opens and pings the configured database. The migrate
// command uses it without building the rest of the process.
func OpenDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, errors.New("database dsn not configured")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

