// Package app builds the infrastructure clients shared by the API, the
// worker and the tools.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/config"
	"github.com/noah-isme/backend-grocery/internal/media"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/resilience"
	"github.com/noah-isme/backend-grocery/internal/store"
)

// OpenPostgres connects a traced pgx pool and pings it. The application name
// is reported to Postgres so connections are attributable per binary.
func OpenPostgres(ctx context.Context, cfg *config.Config, appName string, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{Logger: obs.Component(logger, "db"), SlowQuery: cfg.DBSlowQuery}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies pending migrations when auto-migrate is enabled.
func Migrate(cfg *config.Config, logger zerolog.Logger) error {
	if !cfg.AutoMigrate {
		logger.Info().Msg("auto-migrate disabled")
		return nil
	}
	version, err := store.Migrate(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	logger.Info().Uint("version", version).Msg("database migrated")
	return nil
}

// OpenRedis connects a go-redis client instrumented with redisotel.
// Instrumentation failures are logged and do not abort startup.
func OpenRedis(ctx context.Context, cfg *config.Config, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TaskRedis returns the asynq connection options for the configured Redis URL.
func TaskRedis(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse asynq redis uri: %w", err)
	}
	return opt, nil
}

// MediaStore builds the image store selected by MEDIA_DRIVER. The local
// store is also returned so the API can serve its files; it is nil for s3.
func MediaStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (media.Store, *media.LocalStore, error) {
	switch cfg.MediaDriver {
	case "s3":
		s3Store, err := media.NewS3Store(ctx, media.S3Config{
			Bucket:    cfg.MediaS3Bucket,
			Region:    cfg.MediaS3Region,
			Endpoint:  cfg.MediaS3Endpoint,
			AccessKey: cfg.MediaS3AccessKey,
			SecretKey: cfg.MediaS3SecretKey,
			PathStyle: cfg.MediaS3PathStyle,
			Breaker: resilience.NewBreaker(10, 0.5, 30*time.Second).
				WithTarget("s3").
				WithLogger(obs.Component(logger, "resilience")),
		})
		if err != nil {
			return nil, nil, err
		}
		return s3Store, nil, nil
	default:
		local, err := media.NewLocalStore(cfg.MediaDir, cfg.MediaBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	}
}

// MediaManager wires the image processor limits from cfg around st.
func MediaManager(cfg *config.Config, st media.Store, logger zerolog.Logger) media.Manager {
	return media.Manager{
		Store: st,
		Processor: media.Processor{
			MaxDimension: cfg.MediaMaxDimension,
			MaxBytes:     cfg.MediaMaxUploadBytes,
		},
		Logger: obs.Component(logger, "media"),
	}
}
