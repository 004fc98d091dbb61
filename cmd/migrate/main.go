package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/pflag"

	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/pg"
	"gatehouse.dev/migrations"
)

const usage = "usage: migrate [flags] up|down|seed|status"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.StringP("config", "c", "", "path to a YAML config file")
		dsn        = pflag.String("dsn", "", "PostgreSQL DSN (defaults to POSTGRES_DSN)")
		dir        = pflag.String("dir", "", "read sql/ and seeds/ from this directory instead of the embedded set")
		timeout    = pflag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		return errors.New(usage)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dsn == "" {
		*dsn = cfg.Database.PostgresDSN
	}
	if *dsn == "" {
		return errors.New("missing DSN: provide via --dsn or POSTGRES_DSN")
	}
	log := obs.NewLogger(os.Stderr, cfg.Log.Level, "text")

	var files fs.FS = migrations.Files
	if *dir != "" {
		files = os.DirFS(*dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close(ctx)

	mgr := migrate.NewManager(store.DB(), files, migrations.SQLDir, migrations.SeedsDir, migrate.WithLogger(log))

	cmd := pflag.Arg(0)
	switch cmd {
	case "up", "seed":
		apply := mgr.Up
		if cmd == "seed" {
			apply = mgr.Seed
		}
		applied, err := apply(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		log.Info(cmd+" complete", "applied", len(applied))
	case "down":
		if _, err := mgr.Down(ctx); err != nil {
			return fmt.Errorf("down: %w", err)
		}
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}
