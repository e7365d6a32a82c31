package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hussain-mohammed/kirana-store/internal/launch"
	"github.com/hussain-mohammed/kirana-store/pkg/config"
	"github.com/hussain-mohammed/kirana-store/pkg/logger"
)

func main() {
	cfg := config.LoadLauncherConfig()
	log := logger.New("boot", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run only returns on failure; on success the process image is replaced.
	if err := launch.New(cfg, log).Run(ctx); err != nil {
		log.Error("boot failed", "error", err)
		os.Exit(1)
	}
}
