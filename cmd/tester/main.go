package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/jetstream"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// IndividualTaskDetail holds info for a single event within a batch.
type IndividualTaskDetail struct {
	BaseSubject string
	TenantID    string
	Phone       string
}

// BatchTask represents a batch of events to be published by a worker.
type BatchTask struct {
	Tasks      []IndividualTaskDetail
	NatsClient jetstream.ClientInterface
}

const defaultBatchSize = 50

// inboundTexts mixes funnel keywords with noise so stage detection gets exercised.
var inboundTexts = []string{
	"halo kak, ini masih ada?",
	"harga berapa ya?",
	"bisa nego?",
	"oke saya mau order",
	"sudah transfer ya kak",
	"tidak jadi, terima kasih",
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subjectsStr := flag.String("subjects", "v1.messages.upsert,v1.messages.update", "Comma-separated list of base gateway subjects")
	rate := flag.Int("rate", 50, "Target events per second (total)")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	tenantIDsStr := flag.String("tenant_ids", "tenant_load", "Comma-separated list of tenant IDs")
	contacts := flag.Int("contacts", 200, "Number of distinct contact phones per tenant")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Number of events to generate/publish per worker batch")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Gateway Event Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes fake inbound messages and delivery receipts the way the WA gateway does.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
		fmt.Printf("Invalid batch size, using default: %d\n", defaultBatchSize)
	}
	if *contacts <= 0 {
		*contacts = 200
	}
	if *rate <= 0 {
		*rate = 50
	}

	if err := logger.Initialize(logger.Options{Level: *logLevel}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	go func() {
		defer metricsWg.Done()
		<-ctx.Done()
		logger.Log.Info("Shutting down metrics server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}()

	logger.Log.Info("Starting gateway event load generator",
		zap.String("nats_url", *natsURL),
		zap.String("subjects", *subjectsStr),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("batch_size", *batchSize),
		zap.String("tenant_ids", *tenantIDsStr),
		zap.Int("contacts", *contacts),
	)

	natsClient, err := jetstream.NewClient(*natsURL, jetstream.WithName("waspread-loadgen"))
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()

	baseSubjects := strings.Split(*subjectsStr, ",")
	tenantIDs := strings.Split(*tenantIDsStr, ",")
	if len(baseSubjects) == 0 || baseSubjects[0] == "" {
		logger.Log.Fatal("No base subjects provided")
	}
	if len(tenantIDs) == 0 || tenantIDs[0] == "" {
		logger.Log.Fatal("No tenant IDs provided")
	}

	gofakeit.Seed(time.Now().UnixNano())
	phones := make([]string, *contacts)
	for i := range phones {
		phones[i] = model.FakePhone()
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		batchWorkerFunc(data, &wg)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var loopWg sync.WaitGroup
	loopWg.Add(1)
	go runBatchLoadLoop(ctx, *rate, *duration, *batchSize, baseSubjects, tenantIDs, phones, natsClient, pool, &wg, &loopWg)

	done := make(chan struct{})
	go func() {
		loopWg.Wait()
		close(done)
	}()

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
	case <-done:
		logger.Log.Info("Load generation duration finished")
	}
	cancel()

	loopWg.Wait()
	logger.Log.Info("Waiting for active publishing worker tasks to complete...")
	wg.Wait()

	metricsWg.Wait()
	logger.Log.Info("Load generator shutdown complete.")
}

func startMetricsServer(port int) *http.Server {
	logger.Log.Info("Starting Prometheus metrics server", zap.Int("port", port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()

	return server
}

// runBatchLoadLoop manages the rate-limited submission of batches to the worker pool.
func runBatchLoadLoop(ctx context.Context, rate int, duration time.Duration, batchSize int, subjects, tenants, phones []string, nc jetstream.ClientInterface, pool *ants.PoolWithFunc, wg *sync.WaitGroup, loopWg *sync.WaitGroup) {
	defer loopWg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	counter := 0
	currentBatch := make([]IndividualTaskDetail, 0, batchSize)

	submitBatch := func(batch []IndividualTaskDetail) {
		if len(batch) == 0 {
			return
		}
		wg.Add(len(batch))
		if err := pool.Invoke(BatchTask{Tasks: batch, NatsClient: nc}); err != nil {
			logger.Log.Warn("Failed to invoke worker pool for batch", zap.Int("batch_task_count", len(batch)), zap.Error(err))
			wg.Add(-len(batch))
			for _, td := range batch {
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.TenantID)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			submitBatch(currentBatch)
			return
		case <-durationTimer.C:
			submitBatch(currentBatch)
			return
		case <-ticker.C:
			td := IndividualTaskDetail{
				BaseSubject: subjects[counter%len(subjects)],
				TenantID:    tenants[counter%len(tenants)],
				Phone:       phones[gofakeit.Number(0, len(phones)-1)],
			}
			counter++
			observer.IncLoadgenMessagesAttempted(td.BaseSubject, td.TenantID)

			currentBatch = append(currentBatch, td)
			if len(currentBatch) >= batchSize {
				submitBatch(currentBatch)
				currentBatch = make([]IndividualTaskDetail, 0, batchSize)
			}
		}
	}
}

// batchWorkerFunc publishes a batch of events.
func batchWorkerFunc(data interface{}, wg *sync.WaitGroup) {
	batch := data.(BatchTask)
	for _, td := range batch.Tasks {
		func(td IndividualTaskDetail) {
			defer wg.Done()

			subject := fmt.Sprintf("%s.%s", td.BaseSubject, td.TenantID)
			var payload interface{}
			switch model.EventType(td.BaseSubject) {
			case model.V1MessagesUpsert:
				payload = model.NewInboundMessagePayload(&model.InboundMessagePayload{
					TenantID:    td.TenantID,
					FromPhone:   td.Phone,
					MessageText: gofakeit.RandomString(inboundTexts),
				})
			case model.V1MessagesUpdate:
				payload = model.NewMessageStatusPayload(&model.MessageStatusPayload{TenantID: td.TenantID, ToPhone: td.Phone})
			default:
				logger.Log.Error("Unsupported base subject", zap.String("subject", td.BaseSubject))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.TenantID)
				return
			}

			body, err := json.Marshal(payload)
			if err != nil {
				logger.Log.Error("Failed to marshal payload", zap.String("subject", subject), zap.Error(err))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.TenantID)
				return
			}

			if err := batch.NatsClient.Publish(subject, body, map[string]string{"TenantID": td.TenantID}); err != nil {
				logger.Log.Error("Failed to publish event", zap.String("subject", subject), zap.Error(err))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.TenantID)
				return
			}
			observer.IncLoadgenMessagesPublished(td.BaseSubject, td.TenantID)
		}(td)
	}
}
