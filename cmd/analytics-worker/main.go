// cmd/analytics-worker/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fin-analytics/internal/common/aws"
	"fin-analytics/internal/common/camunda"
	"fin-analytics/internal/common/config"
	"fin-analytics/internal/common/database"
	apphttp "fin-analytics/internal/common/http"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/common/observability"
	"fin-analytics/internal/gateway"
	"fin-analytics/internal/oracle"
	"fin-analytics/internal/pipeline"
	"fin-analytics/internal/pipeline/cache"
	"fin-analytics/internal/pipeline/responder"
	"fin-analytics/internal/pipeline/retrieval"
	"fin-analytics/internal/pipeline/router"
	"fin-analytics/internal/semindex"
	"fin-analytics/internal/visualizer"

	aq "fin-analytics/internal/workers/analytics/answer-query"
	cq "fin-analytics/internal/workers/analytics/classify-query"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting analytics worker...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.Observability.ServiceName, observability.Options{
		TracingEnabled: cfg.Observability.TracingEnabled,
		Exporter:       cfg.Observability.TraceExporter,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
		SampleRatio:    cfg.Observability.SampleRatio,
	})
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Elasticsearch ---
	var es *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Redis (only when it backs the cache) ---
	var rdb *database.RedisClient
	if cfg.Cache.Backend == config.CacheBackendRedis {
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Pipeline ---
	gw := gateway.NewPostgresGateway(pg.DB)

	answerCache := buildCache(cfg, rdb, log)
	defer answerCache.Close()

	index := semindex.NewElasticIndex(es.Client, buildEmbedder(cfg), semindex.ElasticConfig{
		IndexPrefix: cfg.Database.Elasticsearch.IndexPrefix,
		VectorField: cfg.Database.Elasticsearch.VectorField,
		LabelField:  cfg.Database.Elasticsearch.LabelField,
	})

	intentRouter := router.New(router.Config{
		LowConfidenceThreshold: cfg.Pipeline.LowConfidenceThreshold,
		Timeout:                config.GetDuration(cfg.Collaborators.Oracle.Timeout),
		MaxRetries:             cfg.Collaborators.Oracle.MaxRetries,
	}, buildOracle(cfg), log)

	assembler := retrieval.New(retrieval.Config{
		TopK:              cfg.Pipeline.TopK,
		HistoryYears:      cfg.Pipeline.HistoryYears,
		SemanticTimeout:   config.GetDuration(cfg.Collaborators.Semantic.Timeout),
		SemanticRetries:   cfg.Collaborators.Semantic.MaxRetries,
		StructuredTimeout: config.GetDuration(cfg.Collaborators.Structured.Timeout),
		StructuredRetries: cfg.Collaborators.Structured.MaxRetries,
	}, index, gw, answerCache, log)

	responders := responder.NewRegistry(responder.Config{
		MinHistoryPeriods: cfg.Pipeline.MinHistoryPeriods,
		ForecastHorizon:   cfg.Pipeline.ForecastHorizon,
	})

	var renderer visualizer.Renderer
	if cfg.Pipeline.RenderCharts && cfg.APIs.Visualizer.BaseURL != "" {
		vc := cfg.Collaborators.Visualizer
		renderer = visualizer.NewClient(cfg.APIs.Visualizer.BaseURL,
			apphttp.NewClient(config.GetDuration(vc.Timeout)).
				WithAPIKey(cfg.APIs.Visualizer.APIKey).
				WithRetries(vc.MaxRetries))
	}

	service := pipeline.NewService(pipeline.Config{
		MaxQueryLength:    cfg.Pipeline.MaxQueryLength,
		DefaultFiscalYear: cfg.Pipeline.DefaultFiscalYear,
		RenderCharts:      renderer != nil,
		VisualizerTimeout: config.GetDuration(cfg.Collaborators.Visualizer.Timeout),
	}, intentRouter, assembler, responders, renderer, log)

	// --- Data version watcher ---
	if cfg.Cache.VersionPollInterval > 0 {
		var notifier cache.VersionNotifier
		if cfg.Notifications.SNS.Enabled {
			sns, err := aws.NewSNSClient(ctx, cfg.Notifications.SNS.Region, cfg.Notifications.SNS.TopicARN)
			if err != nil {
				zapLog.Fatal("sns client failed", zap.Error(err))
			}
			notifier = sns
		}
		watcher := cache.NewVersionWatcher(answerCache, gw, notifier, config.GetDuration(cfg.Cache.VersionPollInterval), log)
		go watcher.Run(ctx)
	}

	// --- Workers ---
	workers := camunda.NewWorkers(zeebe.GetClient(), log)
	workers.Start(aq.TaskType, config.GetWorkerConfig(cfg, aq.TaskType),
		aq.NewHandler(aq.LoadConfig(config.GetWorkerConfig(cfg, aq.TaskType)), service, log))
	workers.Start(cq.TaskType, config.GetWorkerConfig(cfg, cq.TaskType),
		cq.NewHandler(cq.LoadConfig(config.GetWorkerConfig(cfg, cq.TaskType)), service, log))

	log.Info("workers registered", map[string]interface{}{"running": workers.Running()})

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           healthMux(pg, es, rdb, workers),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("health/metrics server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health/metrics server failed", nil)
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("shutdown signal received, stopping workers", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workers.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("health server shutdown failed", nil)
	}
	if err := zeebe.Close(); err != nil {
		log.WithError(err).Error("error closing Zeebe client", nil)
	}

	log.Info("analytics worker stopped", nil)
}

func buildCache(cfg *config.Config, rdb *database.RedisClient, log logger.Logger) *cache.Cache {
	ttl := config.GetDuration(cfg.Cache.TTL)
	var store cache.Store
	if cfg.Cache.Backend == config.CacheBackendRedis {
		store = cache.NewRedisStore(rdb.Client, cfg.Cache.KeyPrefix)
	} else {
		store = cache.NewMemoryStore(cfg.Cache.MaxEntries, ttl)
	}
	return cache.New(store, ttl, log)
}

func buildOracle(cfg *config.Config) oracle.Oracle {
	if cfg.Collaborators.Oracle.Provider == config.ProviderOpenAI {
		return oracle.NewOpenAIClient(cfg.APIs.OpenAI.APIKey, cfg.APIs.OpenAI.BaseURL, cfg.APIs.OpenAI.ChatModel)
	}
	// The router owns timeouts and retries for classification.
	client := apphttp.NewClient(config.GetDuration(cfg.Collaborators.Oracle.Timeout)).
		WithAPIKey(cfg.APIs.GenAI.APIKey)
	return oracle.NewGenAIClient(cfg.APIs.GenAI.BaseURL, client)
}

func buildEmbedder(cfg *config.Config) semindex.Embedder {
	ec := cfg.Collaborators.Embedder
	if ec.Provider == config.ProviderOpenAI {
		return semindex.NewOpenAIEmbedder(cfg.APIs.OpenAI.APIKey, cfg.APIs.OpenAI.BaseURL,
			cfg.APIs.OpenAI.EmbeddingModel, cfg.APIs.OpenAI.Dimensions)
	}
	client := apphttp.NewClient(config.GetDuration(ec.Timeout)).
		WithAPIKey(cfg.APIs.GenAI.APIKey).
		WithRetries(ec.MaxRetries)
	return semindex.NewGenAIEmbedder(cfg.APIs.GenAI.BaseURL, client)
}

// healthMux serves liveness, readiness and Prometheus metrics. rdb is nil
// when the cache lives in process.
func healthMux(pg *database.PostgresClient, es *database.ElasticsearchClient, rdb *database.RedisClient, workers *camunda.Workers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true
		check := func(name string, ping func(context.Context) error) {
			if err := ping(ctx); err != nil {
				checks[name] = err.Error()
				ready = false
				return
			}
			checks[name] = "ok"
		}
		check("postgres", pg.Ping)
		check("elasticsearch", es.Ping)
		if rdb != nil {
			check("redis", rdb.Ping)
		}

		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not ready", http.StatusServiceUnavailable
		}
		writeStatus(w, code, map[string]interface{}{
			"status":  status,
			"checks":  checks,
			"workers": workers.Running(),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeStatus(w http.ResponseWriter, code int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
