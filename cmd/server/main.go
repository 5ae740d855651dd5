package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/david/bid-intel/internal/api"
	"github.com/david/bid-intel/internal/app"
	"github.com/david/bid-intel/internal/config"
	"github.com/david/bid-intel/internal/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to bidintel.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()
	a.WatchProfile(ctx)

	deps := api.Deps{
		Notices:  a.Feed,
		Pipeline: a.Pipeline,
	}
	if a.Store != nil {
		deps.Decisions = a.Store
	}
	if a.Documents != nil {
		deps.Documents = a.Documents
	}

	srv := api.NewServer(deps, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		JobTimeout:  cfg.Pipeline.JobTimeout,
	}, zl)
	if err := srv.Start(ctx, cfg.Server.Port); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}
