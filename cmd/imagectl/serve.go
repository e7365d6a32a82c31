package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hussain-mohammed/kirana-store/internal/docker"
	httpx "github.com/hussain-mohammed/kirana-store/internal/http"
	"github.com/hussain-mohammed/kirana-store/internal/service/bake"
	"github.com/hussain-mohammed/kirana-store/internal/store"
	"github.com/hussain-mohammed/kirana-store/internal/verify"
	"github.com/hussain-mohammed/kirana-store/internal/workspace"
	"github.com/hussain-mohammed/kirana-store/internal/ws"
	"github.com/hussain-mohammed/kirana-store/pkg/config"
	"github.com/hussain-mohammed/kirana-store/pkg/logger"
	"github.com/hussain-mohammed/kirana-store/pkg/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve render, lint and bake endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadServiceConfig()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg, a.logLevel)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $IMAGECTL_ADDR or :5000)")
	return cmd
}

func serve(parent context.Context, cfg config.ServiceConfig, level string) error {
	log := logger.New("imagectl", logger.ParseLevel(level))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		return err
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Warn("docker ping failed; bakes will fail until the daemon is reachable", "error", err)
	}

	workspaceManager, err := workspace.New(cfg.Workdir)
	if err != nil {
		return err
	}

	var bakeStore store.Store = store.NewMemory()
	if cfg.RedisAddr != "" {
		redisStore, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ReportTTL, log)
		if err != nil {
			return err
		}
		bakeStore = redisStore
		log.Info("bake reports stored in redis", "addr", cfg.RedisAddr, "ttl", cfg.ReportTTL)
	}
	defer bakeStore.Close()

	hub := ws.NewHub(cfg.LogBuffer, ws.WithRetention(cfg.LogRetention))
	opts := []bake.Option{bake.WithLogStream(hub)}
	if cfg.CallbackURL != "" {
		emitter, err := telemetry.NewEmitter(cfg.CallbackURL, cfg.CallbackToken, &http.Client{Timeout: cfg.CallbackTimeout})
		if err != nil {
			return err
		}
		opts = append(opts, bake.WithTelemetry(emitter))
	}
	suite := verify.NewSuite(dockerClient, log, verify.WithProbeTimeout(cfg.ProbeTimeout))
	bakeSvc := bake.New(bakeStore, workspaceManager, suite, log, cfg, opts...)
	if cfg.AuthSecret == "" {
		log.Warn("IMAGECTL_JWT_SECRET not set; bake endpoints are unauthenticated")
	}
	router := httpx.New(log, bakeSvc, hub, dockerClient.Ping, cfg.AuthSecret)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("imagectl server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("waiting for running bakes")
		bakeSvc.Wait()
		log.Info("imagectl server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
