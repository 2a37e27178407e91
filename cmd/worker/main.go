package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/app"
	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/config"
	"github.com/noah-isme/backend-grocery/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "grocery"), nil)
	if addr := envOrDefault("WORKER_METRICS_ADDR", ""); addr != "" {
		go serveMetrics(addr, logger)
	}

	if envBool("OBS_ENABLE_TRACING", true) {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "grocery-worker",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: 1,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpt, err := app.TaskRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{cfg.WorkerQueue: 1},
		ShutdownTimeout: 10 * time.Second,
		Logger:          taskLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(taskCtx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(taskCtx)
			logger.Error().Err(err).Str("type", task.Type()).Int("retried", retried).Msg("task failed")
		}),
	})

	mux := newMux(cfg, logger)
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Str("queue", cfg.WorkerQueue).Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("worker shutting down")
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error().Err(err).Msg("worker metrics server")
	}
}

func mailer(logger zerolog.Logger) common.EmailSender {
	if strings.EqualFold(envOrDefault("NOTIFY_EMAIL_SENDER", "log"), "nop") {
		return common.NopEmailSender{}
	}
	return common.LogEmailSender{Logger: obs.Component(logger, "mailer")}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(envOrDefault(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return v
}
