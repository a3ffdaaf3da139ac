// Package app assembles labdesk from configuration. Both labd and labctl
// build on it so they share one wiring of stores and services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/audit"
	"labdesk.org/internal/auth"
	"labdesk.org/internal/config"
	"labdesk.org/internal/httpapi"
	"labdesk.org/internal/lab"
	"labdesk.org/internal/library"
	"labdesk.org/internal/maintenance"
	"labdesk.org/internal/migrate"
	"labdesk.org/internal/notify"
	"labdesk.org/internal/obs"
	"labdesk.org/internal/quotes"
	"labdesk.org/internal/reminder"
	"labdesk.org/internal/review"
	"labdesk.org/internal/staging"
	"labdesk.org/internal/store/sqlstore"
	"labdesk.org/internal/stream"
)

type stores struct {
	users     auth.Store
	equipment maintenance.Store
	reports   review.Store
	notes     notify.Store
	audit     audit.Store
	quotes    quotes.Store
	library   library.Store
}

// App holds the wired services. API, Health and Tokens are nil when no JWT
// secret is configured.
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	Sessions    *auth.Manager
	Maintenance *maintenance.Service
	Notes       *notify.Service
	Quotes      *quotes.Service
	Reviews     *review.Service
	Library     *library.Service
	Engine      *lab.Engine
	Hub         *stream.Hub
	Tokens      *auth.TokenIssuer
	API         *httpapi.API
	Health      *httpapi.HealthServer
	Reminders   *reminder.Scheduler

	db *sqlstore.Store
}

// Options carries build-time values.
type Options struct {
	Version string
	// SkipMigrate leaves the schema alone even when auto_migrate is on.
	SkipMigrate bool
}

// New opens the configured store and wires every service on top of it.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}

	st, err := a.openStores(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := a.wire(st, opts); err != nil {
		_ = a.closeDB()
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context, opts Options) (stores, error) {
	cfg := a.Config.Database
	if cfg.Memory() {
		a.Log.Warn("using in-memory store; data is lost on exit")
		return stores{
			users:     auth.NewMemoryStore(),
			equipment: maintenance.NewMemoryStore(),
			reports:   review.NewMemoryStore(),
			notes:     notify.NewMemoryStore(),
			audit:     audit.NewMemoryStore(),
			quotes:    quotes.NewMemoryStore(),
			library:   library.NewMemoryStore(),
		}, nil
	}

	dialect, err := sqlstore.ParseDialect(cfg.Driver)
	if err != nil {
		return stores{}, err
	}
	db, err := sqlstore.Open(ctx, dialect, cfg.DSN, sqlstore.Pool{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("open %s store: %w", dialect, err)
	}
	a.db = db

	if cfg.AutoMigrate && !opts.SkipMigrate {
		applied, err := a.Migrate(ctx)
		if err != nil {
			_ = a.closeDB()
			return stores{}, err
		}
		if len(applied) > 0 {
			a.Log.Info("migrations applied", zap.Strings("files", applied))
		}
	}
	return stores{users: db, equipment: db, reports: db, notes: db, audit: db, quotes: db, library: db}, nil
}

func (a *App) wire(st stores, opts Options) error {
	cfg := a.Config

	sessions, err := auth.NewManager(st.users,
		auth.BcryptHasher{Cost: cfg.Auth.BcryptCost},
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithLogger(a.Log),
	)
	if err != nil {
		return err
	}
	docs, err := staging.New(cfg.Storage.Root, cfg.Storage.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("document storage: %w", err)
	}

	a.Hub = stream.New(stream.OnDrop(obs.StreamDropped))
	obs.WatchSubscribers(a.Hub.Subscribers)
	a.Sessions = sessions
	a.Notes = notify.NewService(st.notes, a.Log).WithPublisher(a.Hub)
	a.Maintenance = maintenance.NewService(st.equipment, docs, a.Log)
	a.Quotes = quotes.NewService(st.quotes)

	a.Reviews, err = review.NewService(st.reports, docs, a.Notes, a.Log)
	if err != nil {
		return err
	}
	a.Library, err = library.NewService(st.library, docs, a.Log)
	if err != nil {
		return err
	}
	a.Engine, err = lab.New(lab.Deps{
		Sessions:    sessions,
		Maintenance: a.Maintenance,
		Reviews:     a.Reviews,
		Library:     a.Library,
		Notes:       a.Notes,
		Trail:       audit.NewTrail(st.audit, a.Log),
		Quotes:      a.Quotes,
		Logger:      a.Log,
	})
	if err != nil {
		return err
	}

	if cfg.Reminder.Enabled {
		loc, err := cfg.Reminder.Location()
		if err != nil {
			return fmt.Errorf("reminder timezone: %w", err)
		}
		a.Reminders, err = reminder.New(a.Maintenance, a.Notes, cfg.Reminder.Time, loc, a.Log)
		if err != nil {
			return err
		}
	}

	if cfg.Auth.JWTSecret == "" {
		return nil
	}
	a.Tokens, err = auth.NewTokenIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	ready := httpapi.ReadyFunc(a.Ready)
	a.API = httpapi.New(a.Engine, a.Tokens, ready, a.Hub, a.Log, httpapi.Options{
		Version:        opts.Version,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		LoginRate:      cfg.Server.LoginRate,
		LoginBurst:     cfg.Server.LoginBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	a.Health = httpapi.NewHealthServer(ready, a.Log)
	return nil
}

// Migrate applies pending migrations. The memory store has none.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	m, err := a.Migrations()
	if err != nil || m == nil {
		return nil, err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return applied, fmt.Errorf("migrate: %w", err)
	}
	return applied, nil
}

// Migrations returns a migration manager for the SQL store, or nil for the
// memory store.
func (a *App) Migrations() (*migrate.Manager, error) {
	if a.db == nil {
		return nil, nil
	}
	return migrate.NewManager(a.db.DB(), string(a.db.Dialect()))
}

// Recover settles reports left mid-approval by a previous process. Every
// approval still in flight at startup is stale.
func (a *App) Recover(ctx context.Context) error {
	n, err := a.Reviews.RecoverApprovals(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("recover approvals: %w", err)
	}
	if n > 0 {
		a.Log.Info("interrupted approvals settled", zap.Int("reports", n))
	}
	return nil
}

// Ready pings the database when there is one.
func (a *App) Ready(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Ping(ctx)
}

// Close ends the sessions this process opened and releases the database.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.EndAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("end sessions: %w", err))
		}
	}
	if err := a.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) closeDB() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
