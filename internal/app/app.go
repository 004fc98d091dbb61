// Package app wires configuration into a running auth service. Both the API
// server and the operator CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/notify"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/memory"
	"gatehouse.dev/internal/store/mongo"
	"gatehouse.dev/internal/store/pg"
)

// App holds the long-lived dependencies.
type App struct {
	Config  config.Config
	Log     *slog.Logger
	Store   auth.Store
	Service *auth.Service

	closers []io.Closer
}

// NewLogger builds the process logger from configuration and installs it as
// the slog default.
func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	l := obs.NewLogger(w, cfg.Log.Level, cfg.Log.Format).With("app", cfg.App.Name)
	slog.SetDefault(l)
	return l
}

// New loads key material, opens the configured store and builds the service.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	apiKeys, err := auth.LoadKeyPair(cfg.Keys.APIPrivate(), cfg.Keys.APIPublic())
	if err != nil {
		return nil, fmt.Errorf("api keys: %w", err)
	}
	tokenOpts := []auth.TokenOption{
		auth.WithAccessTTL(cfg.JWT.AccessTTL.D()),
		auth.WithRefreshTTL(cfg.JWT.RefreshTTL.D()),
	}
	if cfg.JWT.Issuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(cfg.JWT.Issuer))
	}
	tokens, err := auth.NewTokenIssuer(apiKeys, tokenOpts...)
	if err != nil {
		return nil, err
	}

	var sealKeys auth.KeyPair
	if !strings.EqualFold(strings.TrimSpace(cfg.Password.Scheme), auth.SchemeBcrypt) {
		if sealKeys, err = auth.LoadKeyPair(cfg.Keys.EncryptionPrivate(), cfg.Keys.EncryptionPublic()); err != nil {
			return nil, fmt.Errorf("encryption keys: %w", err)
		}
	}
	cipher, err := auth.NewSecretCipher(cfg.Password.Scheme, sealKeys)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Store: store}

	var notifier auth.Notifier = notify.NewLogNotifier(log)
	if len(cfg.Kafka.Brokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.OTPTopic))
		a.closers = append(a.closers, kn)
		notifier = notify.Fanout{notifier, kn}
		log.Info("otp delivery via kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.OTPTopic)
	}

	a.Service, err = auth.NewService(store, tokens, cipher,
		auth.WithNotifier(notifier),
		auth.WithModeEnforcement(cfg.JWT.EnforceMode),
	)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// OpenStore connects the backend named by DB_DRIVER.
func OpenStore(ctx context.Context, cfg config.Config) (auth.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := pg.Open(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return s, nil
	case config.DriverMongo:
		m := cfg.Database.Mongo
		s, err := mongo.Open(ctx, mongo.Options{
			URI:                    m.URI,
			Database:               m.Database,
			MaxPoolSize:            m.MaxPoolSize,
			ServerSelectionTimeout: m.ServerSelectionTimeout.D(),
			SocketTimeout:          m.SocketTimeout.D(),
			ConnectTimeout:         m.ConnectTimeout.D(),
		})
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		if err := SeedRoles(ctx, s); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		s := memory.New()
		if err := SeedRoles(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}
}

// DefaultRoles mirrors migrations/seeds for the backends without SQL seeds.
func DefaultRoles() []*auth.Role {
	return []*auth.Role{
		{Name: "Administrator", Slug: "admin", Status: true, Permissions: auth.Permissions{
			"users": {"create": true, "read": true, "update": true, "delete": true},
			"roles": {"create": true, "read": true, "update": true, "delete": true},
		}},
		{Name: "User", Slug: "user", Status: true, Permissions: auth.Permissions{
			"users": {"read": true},
		}},
	}
}

// SeedRoles creates missing default roles.
func SeedRoles(ctx context.Context, store auth.Store) error {
	roles := store.Roles(ctx)
	for _, r := range DefaultRoles() {
		if _, err := roles.FindBySlug(ctx, r.Slug); err == nil {
			continue
		} else if !errors.Is(err, auth.ErrNotFound) {
			return fmt.Errorf("seed role %s: %w", r.Slug, err)
		}
		if err := roles.Create(ctx, r); err != nil && !errors.Is(err, auth.ErrAlreadyExists) {
			return fmt.Errorf("seed role %s: %w", r.Slug, err)
		}
	}
	return nil
}

// Sweeper returns the background cleanup job for this app.
func (a *App) Sweeper() *auth.Sweeper {
	return auth.NewSweeper(a.Store, a.Config.Sweep.Interval.D(), a.Config.Sweep.SessionRetention.D())
}

// Close releases notifiers and the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	return errors.Join(errs...)
}
