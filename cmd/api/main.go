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

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"gatehouse.dev/internal/app"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/obs"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gatehouse-api:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (overrides GATEHOUSE_CONFIG)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := app.NewLogger(os.Stdout, cfg)

	obs.Init()
	obs.InitBuildInfo(cfg.App.Name, version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Error("close", "err", err)
		}
	}()

	api := httpapi.New(a.Service, httpapi.ReadyProbe{Store: a.Store}, httpapi.Options{
		AppName:         cfg.App.Name,
		Version:         cfg.App.Version,
		Environment:     cfg.App.Environment,
		BasePath:        cfg.BasePath(),
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		RateLimitWindow: cfg.HTTP.RateLimitWindow.D(),
		RateLimitMax:    cfg.HTTP.RateLimitMax,
		BodyLimit:       cfg.HTTP.BodyLimit,
		TrustProxy:      cfg.HTTP.TrustProxy,
		Logger:          log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting",
			"addr", srv.Addr,
			"base_path", cfg.BasePath(),
			"driver", cfg.Database.Driver,
			"environment", cfg.App.Environment,
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Sweeper().Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
