package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/evanhutnik/saferoute-service/internal/common"
	"github.com/evanhutnik/saferoute-service/internal/config"
	"github.com/evanhutnik/saferoute-service/internal/saferoute"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := common.NewLogger(cfg.Env.Log.Level, cfg.Env.Debug)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := saferoute.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("failed to build service", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Errorw("http server stopped", "error", err)
		}
	case <-ctx.Done():
	}

	if err := s.Shutdown(context.Background()); err != nil {
		logger.Errorw("shutdown failed", "error", err)
	}
}
