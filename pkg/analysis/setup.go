package analysis

import (
	"context"
	"io"
	"log/slog"

	"github.com/beamflow/beamflow/pkg/cache"
	"github.com/beamflow/beamflow/pkg/config"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/resilience"
	"github.com/beamflow/beamflow/pkg/source"
	"github.com/beamflow/beamflow/pkg/storage/s3"
)

// NewS3Client builds the S3 client for the source settings. bucket is the
// default bucket, empty for clients that only read full s3:// URIs.
func NewS3Client(ctx context.Context, cfg config.SourceConfig, bucket string) (*s3.Client, error) {
	sc := s3.DefaultConfig(bucket, cfg.S3Region)
	sc.Endpoint = cfg.S3Endpoint
	sc.UsePathStyle = cfg.S3PathStyle
	sc.AccessKeyID = cfg.S3AccessKey
	sc.SecretAccessKey = cfg.S3SecretKey
	if cfg.HTTPTimeout > 0 {
		sc.DownloadTimeout = cfg.HTTPTimeout
	}
	return s3.NewClient(ctx, sc)
}

// NewOpener builds the artifact opener. progress may be nil.
func NewOpener(ctx context.Context, cfg config.SourceConfig, logger *slog.Logger,
	progress func(total int64, description string) io.Writer) (*source.Opener, error) {

	client, err := NewS3Client(ctx, cfg, "")
	if err != nil {
		return nil, err
	}
	if !cfg.ShowProgress {
		progress = nil
	}
	retry := resilience.DefaultPolicy()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	return source.NewOpener(source.Options{
		HTTPTimeout:     cfg.HTTPTimeout,
		S3:              client,
		Progress:        progress,
		Retry:           retry,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
		Logger:          logger,
	}), nil
}

// NewCache builds the configured cache, or nil when caching is disabled.
func NewCache(ctx context.Context, cfg *config.Config, logger *slog.Logger, runID string) (*cache.Cache, error) {
	cc := cfg.Cache
	if !cc.Enabled {
		return nil, nil
	}

	redisBackend := func() (cache.Backend, error) {
		rc := cache.DefaultRedisConfig(cc.RedisAddr)
		rc.Password = cc.RedisPassword
		rc.Database = cc.RedisDB
		if cc.RedisPrefix != "" {
			rc.Prefix = cc.RedisPrefix
		}
		rc.TTL = cc.RedisTTL
		return cache.NewRedisBackend(rc)
	}

	var backend cache.Backend
	switch cc.Backend {
	case "local":
		local, err := cache.NewLocalBackend(cc.Dir)
		if err != nil {
			return nil, err
		}
		backend = local
	case "s3":
		client, err := NewS3Client(ctx, cfg.Source, cc.S3Bucket)
		if err != nil {
			return nil, err
		}
		backend = cache.NewS3Backend(client, cc.S3Prefix)
	case "redis":
		rb, err := redisBackend()
		if err != nil {
			return nil, err
		}
		backend = rb
	case "multi":
		local, err := cache.NewLocalBackend(cc.Dir)
		if err != nil {
			return nil, err
		}
		rb, err := redisBackend()
		if err != nil {
			return nil, err
		}
		backend = cache.NewMultiBackend(local, rb)
	default:
		return nil, bferrors.New(bferrors.CodeValidationFailed, "unknown cache backend").With("backend", cc.Backend)
	}
	logger.Debug("cache ready", "backend", backend.Name())
	return cache.New(backend, cache.WithLogger(logger), cache.WithRunID(runID)), nil
}
