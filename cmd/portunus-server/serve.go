package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/portunus-access/internal/db"
	"github.com/BrandonDHaskell/portunus-access/internal/httpapi"
	"github.com/BrandonDHaskell/portunus-access/internal/observability"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/audit"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/service"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store/sqlite"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for door modules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	log := logger.WithField("component", "main")

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env}, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !cfg.IsProduction() {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{KnownModules: cfg.KnownModules}); err != nil {
			return err
		}
	}

	writer := db.NewWorker(conn)
	defer writer.Close()

	// Stores
	deviceStore := sqlite.NewDeviceStore(conn, writer)
	heartbeatStore := sqlite.NewHeartbeatStore(conn, writer)
	eventStore := sqlite.NewAccessEventStore(conn, writer)
	model := sqlite.NewAccessModel(conn, writer)

	metrics := observability.NewMetrics()

	// Audit
	sinks := audit.MultiSink{audit.Named("sqlite", audit.StoreSink(eventStore))}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis unreachable; stream sink stays attached")
		}
		sinks = append(sinks, audit.Named("redis", audit.NewRedisStreamSink(rdb, cfg.RedisStream, cfg.RedisStreamMaxLen)))
	}
	if cfg.AuditLog {
		sinks = append(sinks, audit.Named("log", audit.LogSink(logger)))
	}
	recorder := audit.NewRecorder(sinks, audit.Options{
		QueueSize:    cfg.AuditQueueSize,
		WriteTimeout: cfg.AuditWriteTimeout,
		Logger:       logger,
		Observer:     metrics,
	})
	metrics.Registerer().MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "portunus_audit_queue_pending",
		Help: "Audit events waiting to be written.",
	}, func() float64 { return float64(recorder.Pending()) }))

	// Services
	registry := service.NewDeviceRegistry(deviceStore)
	heartbeatSvc := service.NewHeartbeatService(heartbeatStore, registry, model, logger)
	accessSvc := service.NewAccessService(registry, model, recorder, formatRegistry(), service.AccessOptions{
		Location:           cfg.Location(),
		Policy:             cfg.Policy(),
		EnrollUnknownCards: cfg.EnrollUnknownCards,
		ClockSkew:          cfg.ClockSkew,
		Logger:             logger,
		Observer:           metrics,
	})

	pruner := service.NewRetentionPruner([]service.PruneTarget{
		{Name: "heartbeats", Store: heartbeatStore, Retention: cfg.HeartbeatRetention()},
		{Name: "access_events", Store: eventStore, Retention: cfg.AccessEventRetention()},
	}, cfg.PruneInterval(), logger, metrics)
	monitor := service.NewDoorStatusMonitor(registry, model, cfg.DoorStaleAfter, cfg.DoorStaleAfter/2, logger)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:           logger,
		Addr:             cfg.HTTPAddr,
		HeartbeatService: heartbeatSvc,
		AccessService:    accessSvc,
		Metrics:          metrics,
		DeviceRateLimit:  cfg.DeviceRateLimit,
		Ready:            conn.PingContext,
	})

	// The recorder outlives the signal so in-flight requests can still
	// audit while HTTP drains; Close below ends it.
	recorder.Start(context.WithoutCancel(ctx))
	pruner.Start(ctx)
	monitor.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "env": cfg.Env, "tz": cfg.Timezone}).Info("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	// HTTP is drained; stop producers before the recorder flushes into the
	// writer, and the writer closes last (deferred).
	pruner.Stop()
	monitor.Stop()
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := recorder.Close(flushCtx); cerr != nil {
		log.WithError(cerr).WithField("pending", recorder.Pending()).Warn("audit flush incomplete")
	}

	log.Info("stopped")
	return err
}
