package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/qrave1/voicelink/internal/application/config"
	"github.com/qrave1/voicelink/internal/application/constant"
	"github.com/qrave1/voicelink/internal/application/metric"
	"github.com/qrave1/voicelink/internal/infra/adapters/memory"
	"github.com/qrave1/voicelink/internal/infra/ports/http/handlers"
	"github.com/qrave1/voicelink/internal/infra/ports/http/server"
	"github.com/qrave1/voicelink/internal/usecase"
)

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	if cfg.Debug {
		slog.SetDefault(
			slog.New(
				slog.NewTextHandler(
					os.Stdout,
					&slog.HandlerOptions{Level: slog.LevelDebug},
				),
			),
		)
	}

	slog.Info("Running app", slog.Bool("debug", cfg.Debug))

	registry := memory.NewRoomRegistry(cfg.Room)
	wsConnRepo := memory.NewWSConnectionRepository()

	signalingUsecase := usecase.NewSignalingUsecase(registry, wsConnRepo)

	go signalingUsecase.RunRoomSweeper(ctx, cfg.Room.SweepInterval)

	roomHandler := handlers.NewRoomHandler(signalingUsecase)
	iceHandler := handlers.NewIceHandler(cfg)
	wsHandler := handlers.NewWebSocketHandler(cfg, signalingUsecase, wsConnRepo)

	echoSrv := server.New(roomHandler, iceHandler, wsHandler)
	metricSrv := metric.NewServer()

	srvCh := make(chan (error), 1)
	go func() {
		srvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	go func() {
		if err := metricSrv.Start(":" + cfg.MetricsPort); err != nil {
			slog.Error("metrics server failed", slog.Any(constant.Error, err))
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server due to context cancel")
	case err := <-srvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)

		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
	}

	if err := metricSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metrics server", slog.Any(constant.Error, err))
	}
}
