package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/cipher"
	"github.com/BrandonDHaskell/campusid/internal/campusid/counter"
	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/signal"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store/postgres"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store/sqlite"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/config"
	"github.com/BrandonDHaskell/campusid/internal/db"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

// app holds the wired dependency graph and the resources it must release.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	sqlDB  *sql.DB
	writer *db.Worker
	redis  *redis.Client
	pg     *pgxpool.Pool
	kafka  *signal.KafkaSink

	heartbeatStore store.HeartbeatStore
	queue          store.OfflineQueue

	manager    *service.CredentialManager
	builder    *service.SnapshotBuilder
	offline    *service.OfflineCache
	reconciler *service.SyncReconciler
	emergency  *service.EmergencyController
	validation *service.ValidationService
	heartbeats *service.HeartbeatService
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	var err error
	a.metrics, err = metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	keys, err := cipher.DeriveKeys(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("derive keys: %w", err)
	}
	qrCipher, err := cipher.New(keys.QR)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	roles, err := config.LoadRolePolicy(cfg.RolePolicyFile)
	if err != nil {
		return nil, err
	}

	// SQLite is the authoritative store for credentials and facilities and
	// the device-local home of the offline queue.
	a.sqlDB, err = db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.writer = db.NewWorker(a.sqlDB)

	devices := sqlite.NewDeviceStore(a.sqlDB, a.writer)
	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, a.sqlDB, db.SeedDevOptions{KnownScanners: cfg.KnownScanners}); err != nil {
			return nil, err
		}
	} else {
		for _, id := range cfg.KnownScanners {
			if err := devices.Commission(ctx, id, ""); err != nil {
				return nil, fmt.Errorf("commission %s: %w", id, err)
			}
		}
	}

	creds := sqlite.NewCredentialStore(a.sqlDB, a.writer)
	facilities := sqlite.NewFacilityStore(a.sqlDB, a.writer)
	a.queue = sqlite.NewOfflineQueue(a.sqlDB, a.writer)
	a.heartbeatStore = sqlite.NewHeartbeatStore(a.sqlDB, a.writer)
	audit := sqlite.NewEmergencyAuditStore(a.sqlDB, a.writer)

	var accessLog store.AccessLogStore = sqlite.NewAccessLogStore(a.sqlDB, a.writer)
	if cfg.PostgresDSN != "" {
		a.pg, err = postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, a.pg); err != nil {
			return nil, err
		}
		accessLog = postgres.NewAccessLogStore(a.pg)
		logger.Info("access log on postgres")
	}

	var (
		failures  counter.FailureCounter = counter.NewMemoryFailures()
		locks     counter.LockStore      = counter.NewMemoryLocks()
		occupancy counter.Occupancy      = counter.NewMemoryOccupancy()
	)
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		failures = counter.NewRedisFailures(a.redis)
		locks = counter.NewRedisLocks(a.redis)
		occupancy = counter.NewRedisOccupancy(a.redis)
		logger.Info("counters on redis", zap.String("addr", cfg.RedisAddr))
	}

	sinks := signal.Fanout{signal.NewLogSink(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		a.kafka, err = signal.NewKafkaSink(signal.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.kafka)
		logger.Info("security signals on kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	retry := service.RetryPolicy{Timeout: cfg.StoreTimeout, MaxRetries: cfg.StoreMaxRetries}
	overrides := service.NewCapacityOverrides()
	nonces := service.NewNonceTracker()
	registry := service.NewDeviceRegistry(devices)

	guard := service.NewActivityGuard(service.GuardConfig{
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		SuspicionWindow:   cfg.SuspicionWindow,
		LockoutWindow:     cfg.LockoutWindow,
		LockoutDuration:   cfg.LockoutDuration,
	}, failures, locks, sinks, a.metrics, logger.Named("guard"))

	signer := service.NewSnapshotSigner(keys.Snapshot)
	a.offline = service.NewOfflineCache(qrCipher, signer, a.queue, nonces, a.metrics, service.OfflineCacheConfig{}, logger.Named("offline"))

	a.manager = service.NewCredentialManager(creds, qrCipher, roles, service.CredentialManagerConfig{
		QRTTL:       cfg.QRTTL,
		Retry:       retry,
		Metrics:     a.metrics,
		Revocations: a.offline,
	}, logger.Named("credentials"))

	a.builder = service.NewSnapshotBuilder(creds, facilities, signer, service.SnapshotConfig{
		TTL:            cfg.SnapshotTTL,
		MaxCredentials: cfg.SnapshotMaxCredentials,
		Rules: types.AccessRules{
			RejectReplayedNonces: cfg.RejectReplayedNonces,
			TimeZone:             cfg.TimeZone.String(),
			QRTTLSeconds:         int(cfg.QRTTL.Seconds()),
		},
		Retry: retry,
	}, logger.Named("snapshot"))

	a.reconciler = service.NewSyncReconciler(accessLog, guard, retry, a.metrics, logger.Named("sync"))
	a.emergency = service.NewEmergencyController(creds, audit, overrides, service.EmergencyConfig{
		Concurrency: cfg.EmergencyConcurrency,
		Retry:       retry,
		Revocations: a.offline,
	}, a.metrics, logger.Named("emergency"))

	a.validation = service.NewValidationService(service.ValidationDeps{
		Cipher:      qrCipher,
		Credentials: creds,
		Facilities:  facilities,
		AccessLog:   accessLog,
		Queue:       a.queue,
		Evaluator:   service.NewEvaluator(occupancy, overrides, cfg.TimeZone, a.metrics),
		Guard:       guard,
		Nonces:      nonces,
		Offline:     a.offline,
		Registry:    registry,
		Metrics:     a.metrics,
		Log:         logger.Named("validate"),
	}, service.ValidationConfig{
		QRTTL:                cfg.QRTTL,
		RejectReplayedNonces: cfg.RejectReplayedNonces,
		EnforceKnownScanners: cfg.EnforceKnownScanners,
		Retry:                retry,
	})

	a.heartbeats = service.NewHeartbeatService(a.heartbeatStore, registry, a.offline, cfg.SnapshotTTL, logger.Named("heartbeat"))
	built = true
	return a, nil
}

// ready pings the stores a validation depends on.
func (a *app) ready(ctx context.Context) error {
	if err := a.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if a.pg != nil {
		if err := a.pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) Close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("kafka close", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.writer != nil {
		a.writer.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
}
