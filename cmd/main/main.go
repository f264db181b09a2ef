package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/autoreply"
	"github.com/Linggaept/backend-waspread-sub001/internal/cache"
	"github.com/Linggaept/backend-waspread-sub001/internal/campaign"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/delivery"
	"github.com/Linggaept/backend-waspread-sub001/internal/followup"
	"github.com/Linggaept/backend-waspread-sub001/internal/funnel"
	"github.com/Linggaept/backend-waspread-sub001/internal/healthcheck"
	"github.com/Linggaept/backend-waspread-sub001/internal/ingestion"
	"github.com/Linggaept/backend-waspread-sub001/internal/ingestion/handler"
	"github.com/Linggaept/backend-waspread-sub001/internal/jetstream"
	"github.com/Linggaept/backend-waspread-sub001/internal/lock"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/quota"
	"github.com/Linggaept/backend-waspread-sub001/internal/replygen"
	"github.com/Linggaept/backend-waspread-sub001/internal/scheduler"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage/memory"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting WA Spread messaging core",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("queue_driver", cfg.Queue.Driver),
	)

	store, err := initStore(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize store", zap.Error(err))
	}

	redisClient, err := initRedis(cfg.Redis.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis client", zap.Error(err))
	}

	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	jobQueue, err := initQueue(cfg, jsClient, store)
	if err != nil {
		logger.Log.Fatal("Failed to initialize job queue", zap.Error(err))
	}

	// Ports
	ledger := quota.NewRedisLedger(redisClient, cfg.Quota)
	gateway := transport.NewRateLimited(
		transport.NewNatsTransport(jsClient, cfg.NATS.GatewaySubject, cfg.NATS.RequestTimeout),
		cfg.Transport.RatePerSecond,
		cfg.Transport.Burst,
	)
	generator := replygen.NewNatsGenerator(jsClient, cfg.NATS.AISubject, cfg.NATS.RequestTimeout)
	notifier := notify.NewNatsNotifier(jsClient, cfg.NATS.EventsSubject, logger.Log)
	sender := delivery.NewSender(gateway, ledger, logger.Log)

	// Services
	funnels := funnel.NewService(store, store, cfg.Funnel, notifier, logger.Log)
	campaigns := campaign.NewService(store, jobQueue, sender, funnels, notifier, cfg.Campaign, logger.Log)
	followups := followup.NewScheduler(store, store, store, jobQueue, sender, notifier, cfg.Followup, logger.Log)
	contactFollowups := followup.NewContactService(store, jobQueue, sender, notifier, cfg.ContactFollowup, logger.Log)
	autoReplies := autoreply.NewService(
		store, store, ledger,
		cache.NewBlocklistCache(cfg.AutoReply.BlocklistFPRate),
		generator, gateway, jobQueue, notifier, cfg.AutoReply, logger.Log,
	)

	handlers := map[string]queue.Handler{
		queue.CampaignSend:        campaigns.ProcessMessage,
		queue.FollowupSend:        followups.ProcessMessage,
		queue.ContactFollowupSend: contactFollowups.ProcessMessage,
		queue.AutoReplySend:       autoReplies.ProcessReply,
	}
	for name, h := range handlers {
		if err := jobQueue.Register(name, h); err != nil {
			logger.Log.Fatal("Failed to register queue handler", zap.String("queue", name), zap.Error(err))
		}
	}

	// Periodic tasks
	runner := scheduler.NewRunner(initLocker(cfg, redisClient), cfg.Lock.TTL, cfg.Schedule.RunTimeout, logger.Log)
	tasks := []struct {
		name string
		spec string
		task scheduler.Task
	}{
		{"followup-materialize", cfg.Schedule.FollowupMaterialize, func(ctx context.Context) error {
			_, err := followups.Materialize(ctx)
			return err
		}},
		{"followup-dispatch", cfg.Schedule.FollowupDispatch, func(ctx context.Context) error {
			_, err := followups.DispatchDue(ctx)
			return err
		}},
		{"contact-followup-dispatch", cfg.Schedule.ContactFollowupDispatch, func(ctx context.Context) error {
			_, err := contactFollowups.DispatchDue(ctx)
			return err
		}},
		{"funnel-stale-sweep", cfg.Schedule.FunnelStaleSweep, func(ctx context.Context) error {
			_, err := funnels.SweepStale(ctx)
			return err
		}},
	}
	for _, t := range tasks {
		if err := runner.Register(t.name, t.spec, t.task); err != nil {
			logger.Log.Fatal("Failed to register scheduled task", zap.String("task", t.name), zap.Error(err))
		}
	}

	// Inbound gateway events
	mediaClient := &http.Client{}
	gatewayHandler := handler.NewGatewayHandler(funnels, autoReplies, func(url string) autoreply.MediaFetcher {
		return autoreply.HTTPMediaFetcher(mediaClient, url, cfg.AutoReply.MediaFetchLimit, cfg.AutoReply.MediaFetchTimeout)
	})
	router := ingestion.NewRouter()
	router.Register(model.V1MessagesUpsert, gatewayHandler.HandleEvent)
	router.Register(model.V1MessagesUpdate, gatewayHandler.HandleEvent)

	consumer := ingestion.NewGatewayConsumer(jsClient, router, store, cfg.NATS.Inbound, logger.Log)
	if err := consumer.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up gateway consumer", zap.Error(err))
	}

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterCheck("database", store.Ping)
	healthServer.RegisterCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthServer.RegisterCheck("nats", func(context.Context) error {
		if !jsClient.NatsConn().IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	if err := jobQueue.Start(mainCtx); err != nil {
		logger.Log.Fatal("Failed to start job queue", zap.Error(err))
	}
	if err := consumer.Start(); err != nil {
		logger.Log.Fatal("Failed to start gateway consumer", zap.Error(err))
	}
	runner.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// Intake stops first so no new work reaches the queue while it drains.
	stopComponent("gateway consumer", consumer.Stop)
	stopComponent("scheduler", func() { runner.Stop(shutdownCtx) })

	var wg sync.WaitGroup
	wg.Add(2)

	utils.SafeGo(func() {
		defer wg.Done()
		stopComponent("job queue", jobQueue.Stop)
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping job queue",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	// Connections close last; in-flight handlers may still have been using them.
	if err := store.Close(shutdownCtx); err != nil {
		logger.Log.Error("[shutdown] Failed to close store", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		logger.Log.Error("[shutdown] Failed to close redis client", zap.Error(err))
	}
	jsClient.Close()

	logger.Log.Info("WA Spread messaging core shutdown complete")
}

// stopComponent runs stop and logs how long it took.
func stopComponent(name string, stop func()) {
	logger.Log.Info("[shutdown] Stopping " + name)
	start := time.Now()
	stop()
	logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
}

// initStore opens the configured storage backend.
func initStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Log.Warn("Using in-memory store; data is lost on restart")
		return memory.New(), nil
	case "postgres", "":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
		repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, storage.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
		}
		logger.Log.Info("Initialized PostgreSQL repository")
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func initRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	logger.Log.Info("Connected to redis", zap.String("addr", opts.Addr))
	return client, nil
}

func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url, jetstream.WithName("waspread-core"))
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}

func initQueue(cfg *config.Config, js jetstream.ClientInterface, exhausted storage.ExhaustedJobRepo) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return queue.NewMemoryQueue(logger.Log, exhausted,
			queue.WithPollInterval(cfg.Queue.PollInterval),
			queue.WithJobTimeout(cfg.Queue.JobTimeout),
		), nil
	case "jetstream", "":
		return queue.NewJetStreamQueue(cfg.Queue, logger.Log, js, exhausted)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

func initLocker(cfg *config.Config, client redis.UniversalClient) lock.Locker {
	if cfg.Lock.Driver == "redis" {
		return lock.NewRedisLocker(client)
	}
	return lock.NewLocalLocker()
}
