package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option the proxy reads at startup.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Store        StoreConfig        `koanf:"store"`
	Index        IndexConfig        `koanf:"index"`
	Origin       OriginConfig       `koanf:"origin"`
	CacheControl CacheControlConfig `koanf:"cacheControl"`
	Queue        QueueConfig        `koanf:"queue"`
}

// ServerConfig collects the listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// StoreConfig points at the bucket holding pre-rendered thumbnails.
type StoreConfig struct {
	Bucket              string `koanf:"bucket"`
	Region              string `koanf:"region"`
	Endpoint            string `koanf:"endpoint"`
	UsePathStyle        bool   `koanf:"usePathStyle"`
	SignedURLTTLSeconds int    `koanf:"signedURLTTLSeconds"`
}

// SignedURLTTL is the lifetime of presigned cache URLs.
func (c StoreConfig) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

// IndexConfig locates the search index and the memo in front of it.
type IndexConfig struct {
	Endpoint       string           `koanf:"endpoint"`
	TimeoutSeconds int              `koanf:"timeoutSeconds"`
	Cache          IndexCacheConfig `koanf:"cache"`
}

func (c IndexConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type IndexCacheConfig struct {
	Backend    string           `koanf:"backend"`
	TTLSeconds int              `koanf:"ttlSeconds"`
	Size       int              `koanf:"size"`
	Redis      RedisCacheConfig `koanf:"redis"`
}

func (c IndexCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// OriginConfig tunes upstream image fetches.
type OriginConfig struct {
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
	UserAgent      string `koanf:"userAgent"`
}

func (c OriginConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheControlConfig sets the client cache lifetimes per serving tier.
type CacheControlConfig struct {
	HitMaxAgeSeconds  int `koanf:"hitMaxAgeSeconds"`
	MissMaxAgeSeconds int `koanf:"missMaxAgeSeconds"`
}

func (c CacheControlConfig) HitMaxAge() time.Duration {
	return time.Duration(c.HitMaxAgeSeconds) * time.Second
}

func (c CacheControlConfig) MissMaxAge() time.Duration {
	return time.Duration(c.MissMaxAgeSeconds) * time.Second
}

// QueueConfig selects where cache population requests are published.
type QueueConfig struct {
	Backend              string          `koanf:"backend"`
	SubmitTimeoutSeconds int             `koanf:"submitTimeoutSeconds"`
	SQS                  QueueSQSConfig  `koanf:"sqs"`
	AMQP                 QueueAMQPConfig `koanf:"amqp"`
}

func (c QueueConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

type QueueSQSConfig struct {
	QueueURL string `koanf:"queueURL"`
	Region   string `koanf:"region"`
}

type QueueAMQPConfig struct {
	URL         string `koanf:"url"`
	QueueName   string `koanf:"queueName"`
	MaxPriority int    `koanf:"maxPriority"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Store.Bucket) == "" {
		return errors.New("config: store.bucket required")
	}
	if err := validateHTTPURL("index.endpoint", c.Index.Endpoint); err != nil {
		return err
	}
	if c.Index.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: index.timeoutSeconds invalid: %d", c.Index.TimeoutSeconds)
	}
	if c.Origin.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: origin.timeoutSeconds invalid: %d", c.Origin.TimeoutSeconds)
	}
	if c.Store.SignedURLTTLSeconds < c.Origin.TimeoutSeconds {
		return fmt.Errorf("config: store.signedURLTTLSeconds (%d) must cover origin.timeoutSeconds (%d)",
			c.Store.SignedURLTTLSeconds, c.Origin.TimeoutSeconds)
	}
	if c.CacheControl.HitMaxAgeSeconds <= 0 {
		return fmt.Errorf("config: cacheControl.hitMaxAgeSeconds invalid: %d", c.CacheControl.HitMaxAgeSeconds)
	}
	if c.CacheControl.MissMaxAgeSeconds <= 0 {
		return fmt.Errorf("config: cacheControl.missMaxAgeSeconds invalid: %d", c.CacheControl.MissMaxAgeSeconds)
	}
	if err := c.Index.Cache.validate(); err != nil {
		return err
	}
	return c.Queue.validate()
}

func (c IndexCacheConfig) validate() error {
	if c.TTLSeconds < 0 {
		return fmt.Errorf("config: index.cache.ttlSeconds invalid: %d", c.TTLSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Backend))
	switch backend {
	case "", "none":
	case "memory":
		if c.Size <= 0 {
			return fmt.Errorf("config: index.cache.size invalid: %d", c.Size)
		}
	case "redis":
		if strings.TrimSpace(c.Redis.Address) == "" {
			return errors.New("config: index.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: index.cache.backend unsupported: %s", c.Backend)
	}
	return nil
}

func (c QueueConfig) validate() error {
	if c.SubmitTimeoutSeconds <= 0 {
		return fmt.Errorf("config: queue.submitTimeoutSeconds invalid: %d", c.SubmitTimeoutSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Backend))
	switch backend {
	case "", "none":
	case "sqs":
		if strings.TrimSpace(c.SQS.QueueURL) == "" {
			return errors.New("config: queue.sqs.queueURL required for sqs backend")
		}
	case "amqp":
		if strings.TrimSpace(c.AMQP.URL) == "" {
			return errors.New("config: queue.amqp.url required for amqp backend")
		}
		if strings.TrimSpace(c.AMQP.QueueName) == "" {
			return errors.New("config: queue.amqp.queueName required for amqp backend")
		}
		if c.AMQP.MaxPriority < 0 || c.AMQP.MaxPriority > 255 {
			return fmt.Errorf("config: queue.amqp.maxPriority invalid: %d", c.AMQP.MaxPriority)
		}
	default:
		return fmt.Errorf("config: queue.backend unsupported: %s", c.Backend)
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("config: %s invalid: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: %s must be an absolute http(s) url: %q", field, raw)
	}
	return nil
}

// DefaultConfig returns the baseline values used when neither file nor env override them.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Store: StoreConfig{
			Bucket:              "dpla-thumbnails",
			Region:              "us-east-1",
			SignedURLTTLSeconds: 30,
		},
		Index: IndexConfig{
			Endpoint:       "http://localhost:9200/items",
			TimeoutSeconds: 5,
			Cache: IndexCacheConfig{
				Backend:    "memory",
				TTLSeconds: 60,
				Size:       10000,
			},
		},
		Origin: OriginConfig{
			TimeoutSeconds: 10,
			UserAgent:      "DPLA Image Proxy",
		},
		CacheControl: CacheControlConfig{
			HitMaxAgeSeconds:  30 * 24 * 60 * 60,
			MissMaxAgeSeconds: 60,
		},
		Queue: QueueConfig{
			Backend:              "none",
			SubmitTimeoutSeconds: 5,
		},
	}
}
