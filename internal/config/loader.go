package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// canonicalEnvKeys restores camelCase segments lost when env keys are lowercased.
var canonicalEnvKeys = map[string]string{
	"server.logging.correlationheader": "server.logging.correlationHeader",
	"store.usepathstyle":               "store.usePathStyle",
	"store.signedurlttlseconds":        "store.signedURLTTLSeconds",
	"index.timeoutseconds":             "index.timeoutSeconds",
	"index.cache.ttlseconds":           "index.cache.ttlSeconds",
	"index.cache.redis.tls.cafile":     "index.cache.redis.tls.caFile",
	"origin.timeoutseconds":            "origin.timeoutSeconds",
	"origin.useragent":                 "origin.userAgent",
	"cachecontrol.hitmaxageseconds":    "cacheControl.hitMaxAgeSeconds",
	"cachecontrol.missmaxageseconds":   "cacheControl.missMaxAgeSeconds",
	"queue.submittimeoutseconds":       "queue.submitTimeoutSeconds",
	"queue.sqs.queueurl":               "queue.sqs.queueURL",
	"queue.amqp.queuename":             "queue.amqp.queueName",
	"queue.amqp.maxpriority":           "queue.amqp.maxPriority",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalEnvKeys[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(lower, "_", "")
			if mapped, ok := canonicalEnvKeys[key]; ok {
				return mapped
			}
			return key
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file type %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
		},
		"store": map[string]any{
			"bucket":              cfg.Store.Bucket,
			"region":              cfg.Store.Region,
			"endpoint":            cfg.Store.Endpoint,
			"usePathStyle":        cfg.Store.UsePathStyle,
			"signedURLTTLSeconds": cfg.Store.SignedURLTTLSeconds,
		},
		"index": map[string]any{
			"endpoint":       cfg.Index.Endpoint,
			"timeoutSeconds": cfg.Index.TimeoutSeconds,
			"cache": map[string]any{
				"backend":    cfg.Index.Cache.Backend,
				"ttlSeconds": cfg.Index.Cache.TTLSeconds,
				"size":       cfg.Index.Cache.Size,
				"redis": map[string]any{
					"address":  cfg.Index.Cache.Redis.Address,
					"username": cfg.Index.Cache.Redis.Username,
					"password": cfg.Index.Cache.Redis.Password,
					"db":       cfg.Index.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Index.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Index.Cache.Redis.TLS.CAFile,
					},
				},
			},
		},
		"origin": map[string]any{
			"timeoutSeconds": cfg.Origin.TimeoutSeconds,
			"userAgent":      cfg.Origin.UserAgent,
		},
		"cacheControl": map[string]any{
			"hitMaxAgeSeconds":  cfg.CacheControl.HitMaxAgeSeconds,
			"missMaxAgeSeconds": cfg.CacheControl.MissMaxAgeSeconds,
		},
		"queue": map[string]any{
			"backend":              cfg.Queue.Backend,
			"submitTimeoutSeconds": cfg.Queue.SubmitTimeoutSeconds,
			"sqs": map[string]any{
				"queueURL": cfg.Queue.SQS.QueueURL,
				"region":   cfg.Queue.SQS.Region,
			},
			"amqp": map[string]any{
				"url":         cfg.Queue.AMQP.URL,
				"queueName":   cfg.Queue.AMQP.QueueName,
				"maxPriority": cfg.Queue.AMQP.MaxPriority,
			},
		},
	}
}
