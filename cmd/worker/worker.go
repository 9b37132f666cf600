package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/energy-sync-worker/internal/config"
	"github.com/septivank/energy-sync-worker/internal/credentials"
	"github.com/septivank/energy-sync-worker/internal/db"
	"github.com/septivank/energy-sync-worker/internal/electricity"
	"github.com/septivank/energy-sync-worker/internal/enedis"
	"github.com/septivank/energy-sync-worker/internal/gas"
	"github.com/septivank/energy-sync-worker/internal/grdf"
	"github.com/septivank/energy-sync-worker/internal/metrics"
	"github.com/septivank/energy-sync-worker/internal/mq"
	"github.com/septivank/energy-sync-worker/internal/publisher"
	"github.com/septivank/energy-sync-worker/internal/repository"
	"github.com/septivank/energy-sync-worker/internal/scheduler"
	"github.com/septivank/energy-sync-worker/internal/service"
	"github.com/septivank/energy-sync-worker/internal/validator"
	"github.com/septivank/energy-sync-worker/internal/window"
)

// syncModule provides everything a sync run needs
var syncModule = fx.Options(
	fx.Provide(
		config.Load,
		newLogger,
		ProvideDBPool,
		ProvideRepository,
		ProvideCredentialStore,
		ProvideMetrics,
		ProvideCredentialHandler,
		ProvideElectricityFetcher,
		ProvideGasFetcher,
		ProvideValidator,
		ProvideSink,
		ProvideMQConnection,
		ProvidePublisher,
		ProvideSyncService,
	),
)

func startWorker(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	conn *mq.Connection,
	svc *service.SyncService,
) error {
	// Cancelled on shutdown, bounds scheduled and triggered runs
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	metrics.RegisterServer(lc, logger, cfg.Metrics.Addr, prometheus.DefaultGatherer)

	daily, err := scheduler.NewDaily(cfg.Sync.DailyAt, cfg.Sync.Location, func(runCtx context.Context) error {
		_, err := svc.Run(runCtx, false)
		return err
	}, logger)
	if err != nil {
		cancel()
		return err
	}
	daily.RegisterLifecycle(lc)

	if conn != nil {
		consumer, err := mq.NewConsumer(mq.ConsumerConfig{
			Connection: conn,
			Queue:      cfg.RabbitMQ.TriggerQueue,
			DLQQueue:   cfg.RabbitMQ.DLQQueue,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.TriggerKey,
			Logger:     logger,
			Handler:    svc.HandleTrigger,
		})
		if err != nil {
			cancel()
			return err
		}
		consumer.RegisterLifecycle(lc, ctx)
	}

	if cfg.Sync.RunOnStart {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if _, err := svc.Run(ctx, true); err != nil {
						logger.Error("startup sync failed", zap.Error(err))
					}
				}()
				return nil
			},
		})
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("worker started",
				zap.String("daily_at", cfg.Sync.DailyAt),
				zap.String("meter_timezone", cfg.Sync.MeterTimezone),
				zap.Bool("run_on_start", cfg.Sync.RunOnStart),
				zap.Bool("trigger_consumer", conn != nil),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return nil
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Storage)
}

// ProvideRepository creates the point repository and ensures its table exists on start
func ProvideRepository(lc fx.Lifecycle, pool *db.Pool, cfg *config.Config, logger *zap.Logger) *repository.PointRepository {
	repo := repository.NewPointRepository(pool, cfg.Storage.Org, cfg.Storage.Bucket, cfg.Storage.BatchSize)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.Error("failed to prepare storage schema", zap.Error(err))
				return err
			}
			return nil
		},
	})
	return repo
}

// ProvideCredentialStore creates the credential store backed by the secrets file
func ProvideCredentialStore(cfg *config.Config) credentials.Store {
	return credentials.NewFileStore(cfg.Credentials.Path)
}

// ProvideMetrics registers the sync collectors on the default registry
func ProvideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideCredentialHandler creates the token rotation handler and runs it for the application lifetime
func ProvideCredentialHandler(lc fx.Lifecycle, store credentials.Store, m *metrics.Metrics, logger *zap.Logger) *credentials.Handler {
	handler := credentials.NewHandler(store, logger).WithObserver(m.RecordCredentialRefresh)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			handler.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			handler.Stop()
			return nil
		},
	})
	return handler
}

// ProvideElectricityFetcher creates the electricity fetcher. Sessions report rotated tokens to the handler.
func ProvideElectricityFetcher(cfg *config.Config, handler *credentials.Handler, logger *zap.Logger) *electricity.Fetcher {
	opts := enedis.Options{
		BaseURL:  cfg.Providers.EnedisAPIURL,
		Timeout:  cfg.Providers.Timeout,
		Location: cfg.Sync.Location,
	}
	newSession := func(account credentials.ElectricityAccount, onRefresh electricity.RefreshFunc) electricity.Session {
		return enedis.NewSession(opts, account.MeterID, account.AccessToken, account.RefreshToken, enedis.RefreshFunc(onRefresh))
	}
	return electricity.NewFetcher(newSession, handler.OnRefresh, cfg.Sync.Location, cfg.Sync.LoadCurveChunkDays, logger)
}

// ProvideGasFetcher creates the gas fetcher
func ProvideGasFetcher(cfg *config.Config, logger *zap.Logger) *gas.Fetcher {
	client := grdf.NewClient(grdf.Options{
		APIURL:  cfg.Providers.GRDFAPIURL,
		AuthURL: cfg.Providers.GRDFAuthURL,
		Timeout: cfg.Providers.Timeout,
	})
	return gas.NewFetcher(client, logger)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Sync.FutureToleranceMinutes)
}

// ProvideSink writes to the repository and mirrors to MQTT when a broker is configured
func ProvideSink(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, repo *repository.PointRepository) (service.Sink, error) {
	if !cfg.MQTT.Enabled() {
		return service.NewMultiSink(logger, repo), nil
	}

	mirror, err := publisher.NewMQTT(cfg.MQTT, cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			mirror.Close()
			return nil
		},
	})
	logger.Info("mirroring points to MQTT", zap.String("broker", cfg.MQTT.Broker))
	return service.NewMultiSink(logger, repo, mirror), nil
}

// ProvideMQConnection creates a RabbitMQ connection, or nil when RABBITMQ_URL is unset
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		logger.Info("rabbitmq disabled, run reports and sync triggers are off")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the run report publisher, or nil without a connection
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	if conn == nil {
		return nil, nil
	}
	pub, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}

// ProvideSyncService creates the sync service instance
func ProvideSyncService(
	cfg *config.Config,
	store credentials.Store,
	elec *electricity.Fetcher,
	gasFetcher *gas.Fetcher,
	v *validator.Validator,
	sink service.Sink,
	pub *mq.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.SyncService {
	deps := service.Deps{
		Store:       store,
		Resolver:    window.NewResolver(cfg.Sync.Location, cfg.Sync.FirstRunLookbackDays, cfg.Sync.RecurringLookbackDays),
		Electricity: elec,
		Gas:         gasFetcher,
		Validator:   v,
		Sink:        sink,
		Metrics:     m,
		Logger:      logger,
	}
	// A nil *mq.Publisher must not become a non-nil interface
	if pub != nil {
		deps.Publisher = pub
	}
	return service.NewSyncService(deps)
}
