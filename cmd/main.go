package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/thumbproxy/internal/cache"
	"github.com/l0p7/thumbproxy/internal/config"
	"github.com/l0p7/thumbproxy/internal/index"
	"github.com/l0p7/thumbproxy/internal/logging"
	"github.com/l0p7/thumbproxy/internal/metrics"
	"github.com/l0p7/thumbproxy/internal/origin"
	"github.com/l0p7/thumbproxy/internal/queue"
	"github.com/l0p7/thumbproxy/internal/resolver"
	"github.com/l0p7/thumbproxy/internal/server"
	"github.com/l0p7/thumbproxy/internal/store"
)

const closeTimeout = 5 * time.Second

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return config.NewLoader(envPrefix, configFile)
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		srv, err := server.New(cfg, logger, handler)
		if err != nil {
			return nil, err
		}
		return srv, nil
	}
	newCacheStore = func(ctx context.Context, logger *slog.Logger, cfg config.StoreConfig) (resolver.CacheStore, error) {
		client, err := store.NewClient(ctx, store.ClientConfig{
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		bucket, err := store.New(client, logger, store.Options{
			Bucket:       cfg.Bucket,
			SignedURLTTL: cfg.SignedURLTTL(),
		})
		if err != nil {
			return nil, err
		}
		return bucket, nil
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file (yaml, json or toml)")
		envPrefix  = flag.String("env-prefix", "THUMBPROXY", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	bucket, err := newCacheStore(ctx, logger, cfg.Store)
	if err != nil {
		return fmt.Errorf("configure cache store: %w", err)
	}

	lookup, err := index.NewLookup(logger, index.Options{
		Endpoint:  cfg.Index.Endpoint,
		Timeout:   cfg.Index.Timeout(),
		UserAgent: cfg.Origin.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("configure index lookup: %w", err)
	}
	factoryLogger := logger.With(slog.String("agent", "bootstrap"))
	memo := index.NewMemo(lookup, buildLookupCache(factoryLogger, cfg.Index.Cache), logger)

	dispatcher := queue.NewAsync(
		buildPublisher(ctx, factoryLogger, cfg.Queue),
		cfg.Queue.SubmitTimeout(),
		logger,
		metricsRecorder,
	)

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Error("queue shutdown failed", slog.Any("error", err))
		}
		if err := memo.Close(closeCtx); err != nil {
			logger.Error("lookup cache shutdown failed", slog.Any("error", err))
		}
		if err := lookup.Close(); err != nil {
			logger.Error("index client shutdown failed", slog.Any("error", err))
		}
	}()

	fetcher := origin.NewFetcher(logger, origin.Options{
		Timeout:   cfg.Origin.Timeout(),
		UserAgent: cfg.Origin.UserAgent,
	})
	thumbs, err := resolver.New(logger, resolver.Options{
		Store:             bucket,
		Index:             memo,
		Fetcher:           fetcher,
		Queue:             dispatcher,
		Metrics:           metricsRecorder,
		HitMaxAge:         cfg.CacheControl.HitMaxAge(),
		MissMaxAge:        cfg.CacheControl.MissMaxAge(),
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
	})
	if err != nil {
		return fmt.Errorf("configure resolver: %w", err)
	}

	handler := server.NewThumbnailHandler(server.Routes{
		Thumbnails: thumbs,
		Metrics:    metricsRecorder.Handler(),
	})

	srv, err := newHTTPServer(cfg, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

func buildLookupCache(logger *slog.Logger, cfg config.IndexCacheConfig) cache.LookupCache {
	ttl := cfg.TTL()
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	if ttl <= 0 && backend != "none" {
		logger.Info("lookup cache disabled by zero ttl")
		return cache.NewNoop()
	}
	switch backend {
	case "", "memory":
		logger.Info("using memory lookup cache", slog.Duration("ttl", ttl), slog.Int("size", cfg.Size))
		return cache.NewMemory(cfg.Size, ttl)
	case "none":
		logger.Info("lookup cache disabled")
		return cache.NewNoop()
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
			TTL: ttl,
		})
		if err != nil {
			logger.Error("redis lookup cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory lookup cache")
			return cache.NewMemory(cfg.Size, ttl)
		}
		logger.Info("using redis lookup cache", slog.String("address", cfg.Redis.Address))
		return redisCache
	default:
		logger.Warn("unsupported lookup cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory(cfg.Size, ttl)
	}
}

// buildPublisher falls back to discarding requests when the configured broker
// cannot be reached at startup.
func buildPublisher(ctx context.Context, logger *slog.Logger, cfg config.QueueConfig) queue.Publisher {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	var (
		publisher queue.Publisher
		err       error
	)
	switch backend {
	case "", "none":
		logger.Info("cache population disabled")
		return queue.NewDiscard()
	case "sqs":
		publisher, err = queue.NewSQS(ctx, queue.SQSConfig{
			QueueURL: cfg.SQS.QueueURL,
			Region:   cfg.SQS.Region,
		})
	case "amqp":
		publisher, err = queue.NewAMQP(queue.AMQPConfig{
			URL:         cfg.AMQP.URL,
			QueueName:   cfg.AMQP.QueueName,
			MaxPriority: cfg.AMQP.MaxPriority,
		})
	default:
		logger.Warn("unsupported queue backend, discarding cache population requests", slog.String("backend", cfg.Backend))
		return queue.NewDiscard()
	}
	if err != nil {
		logger.Error("queue initialization failed; discarding cache population requests",
			slog.String("backend", backend),
			slog.Any("error", err),
		)
		return queue.NewDiscard()
	}
	logger.Info("cache population enabled", slog.String("backend", backend))
	return publisher
}
