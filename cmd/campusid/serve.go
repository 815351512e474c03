package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/config"
	"github.com/BrandonDHaskell/campusid/internal/grpcapi"
	"github.com/BrandonDHaskell/campusid/internal/httpapi"
)

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// The server keeps its own snapshot loaded so validation can fall back
	// to it when the stores stop answering.
	refresher := newSnapshotRefresher(a.builder, a.offline, cfg.SnapshotTTL/4, logger.Named("snapshot"))
	refresher.Start(ctx)
	defer refresher.Stop()

	pruner := service.NewHeartbeatPruner(a.heartbeatStore, service.PrunerConfig{
		RetentionDays: cfg.HeartbeatRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger.Named("pruner"))
	pruner.Start(ctx)
	defer pruner.Stop()

	drainer := service.NewQueueDrainer(a.queue, service.ReconcilerClient{Reconciler: a.reconciler}, service.DrainerConfig{
		Interval: cfg.QueueDrainInterval,
	}, a.metrics, logger.Named("drainer"))
	drainer.Start(ctx)
	defer drainer.Stop()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger.Named("http"),
		Addr:        cfg.HTTPAddr,
		Metrics:     a.metrics,
		Validation:  a.validation,
		Heartbeats:  a.heartbeats,
		Credentials: a.manager,
		Emergency:   a.emergency,
		Snapshots:   a.builder,
		Reconciler:  a.reconciler,
		Ready:       a.ready,
	})
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	var gsrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		gsrv = grpcapi.NewServer(grpcapi.Dependencies{
			Logger:     logger.Named("grpc"),
			Validation: a.validation,
			Snapshots:  a.builder,
			Reconciler: a.reconciler,
		})
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := gsrv.Serve(lis); err != nil {
				logger.Error("grpc server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if gsrv != nil {
		gsrv.GracefulStop()
	}
	return srv.Shutdown(shutdownCtx)
}
