package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/iedon/reviewhost/change"
	"github.com/iedon/reviewhost/config"
	"github.com/iedon/reviewhost/gitutil"
	"github.com/iedon/reviewhost/hostpage"
	"github.com/iedon/reviewhost/metrics"
	"github.com/iedon/reviewhost/renderer"
	"github.com/iedon/reviewhost/server"
	"github.com/iedon/reviewhost/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", envOr("REVIEWHOST_CONFIG", "config.json"), "path to configuration file, empty for built-in defaults")
	seedPath := flag.String("seed", "", "apply a YAML seed of accounts, grants and changes, then exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting", "version", SERVER_SIGNATURE, "site", cfg.SiteName)

	m := metrics.New()

	page, err := hostpage.Open(cfg, renderer.New(), logger, m)
	if err != nil {
		logger.Error("host page", "error", err)
		os.Exit(1)
	}

	repo, err := gitutil.NewRepository(cfg.Git.BinPath, cfg.Git.Directory, cfg.GitCommandTimeout)
	if err != nil {
		logger.Error("repository", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DatabasePath, repo, logger)
	if err != nil {
		logger.Error("database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *seedPath != "" {
		if err := runSeed(db, *seedPath, logger); err != nil {
			logger.Error("seed", "error", err)
			db.Close()
			os.Exit(1)
		}
		return
	}

	deleteAction := change.NewDeleteAction(db, db, cfg.Change.AllowDrafts, cfg.Change.RetryAttempts, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.Options{
		Page:     page,
		Accounts: db,
		Changes:  db,
		Delete:   deleteAction,
		Metrics:  m,
	}, logger, SERVER_SIGNATURE)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	if cfg.Site.Watch {
		g.Go(func() error { return page.Watch(ctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("server", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runSeed(db *store.Store, path string, logger *slog.Logger) error {
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}
	res, err := db.ApplySeed(context.Background(), seed)
	if err != nil {
		return err
	}
	logger.Info("seed applied", "accounts", res.Accounts, "grants", res.Grants, "changes", res.Changes, "patch_sets", res.PatchSets)
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
