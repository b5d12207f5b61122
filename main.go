package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voicecanvas/internal/config"
	"voicecanvas/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voicecanvas: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		addr     string
		agentSet string
	)

	cmd := &cobra.Command{
		Use:           "voicecanvas",
		Short:         "Voice and chat image-generation assistant over a realtime WebRTC session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if agentSet != "" {
				cfg.Agents.Set = agentSet
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.StringVar(&addr, "addr", "", "listen address (overrides VOICECANVAS_ADDR)")
	flags.StringVar(&agentSet, "agent-set", "", "agent set to use (overrides VOICECANVAS_AGENT_SET)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	metrics := server.NewMetrics("")
	app := NewApp(metrics, logger)

	services, err := app.startup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	httpServer := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.NewRouter(server.Options{
			Sessions: services.OpenAI,
			Images:   services.OpenAI,
			Hub:      app.Hub(),
			Metrics:  metrics,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("voicecanvas listening", "addr", cfg.Server.Addr, "agent_set", services.AgentSet)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		app.shutdown()
		if server.IsServerClosed(err) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	app.shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}
