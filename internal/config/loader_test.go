package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name: "returns defaults when no overrides",
			setup: func(t *testing.T) []string {
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "merges yaml overrides",
			setup: func(t *testing.T) []string {
				return []string{writeConfigFile(t, "thumbproxy.yaml",
					"server:\n  listen:\n    port: 9090\nstore:\n  bucket: thumbs-staging\n  usePathStyle: true\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, "thumbs-staging", cfg.Store.Bucket)
				require.True(t, cfg.Store.UsePathStyle)
				require.Equal(t, "us-east-1", cfg.Store.Region)
			},
		},
		{
			name: "merges json overrides",
			setup: func(t *testing.T) []string {
				return []string{writeConfigFile(t, "thumbproxy.json",
					`{"index":{"endpoint":"https://search.example.org/items","cache":{"backend":"none"}}}`)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "https://search.example.org/items", cfg.Index.Endpoint)
				require.Equal(t, "none", cfg.Index.Cache.Backend)
			},
		},
		{
			name: "merges toml overrides",
			setup: func(t *testing.T) []string {
				return []string{writeConfigFile(t, "thumbproxy.toml",
					"[queue]\nbackend = \"sqs\"\n\n[queue.sqs]\nqueueURL = \"https://sqs.us-east-1.amazonaws.com/123/thumbs\"\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "sqs", cfg.Queue.Backend)
				require.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/thumbs", cfg.Queue.SQS.QueueURL)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := writeConfigFile(t, "thumbproxy.yaml", "server:\n  listen:\n    port: 9090\n")
				t.Setenv("THUMBPROXY_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps camel case env keys",
			setup: func(t *testing.T) []string {
				t.Setenv("THUMBPROXY_ORIGIN__TIMEOUTSECONDS", "3")
				t.Setenv("THUMBPROXY_ORIGIN__USER_AGENT", "Thumb Bot")
				t.Setenv("THUMBPROXY_CACHECONTROL__MISS_MAX_AGE_SECONDS", "120")
				t.Setenv("THUMBPROXY_SERVER__LOGGING__CORRELATIONHEADER", "X-Trace-ID")
				t.Setenv("THUMBPROXY_INDEX__CACHE__REDIS__TLS__CAFILE", "/etc/ca.pem")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 3, cfg.Origin.TimeoutSeconds)
				require.Equal(t, "Thumb Bot", cfg.Origin.UserAgent)
				require.Equal(t, 120, cfg.CacheControl.MissMaxAgeSeconds)
				require.Equal(t, "X-Trace-ID", cfg.Server.Logging.CorrelationHeader)
				require.Equal(t, "/etc/ca.pem", cfg.Index.Cache.Redis.TLS.CAFile)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported file type",
			setup: func(t *testing.T) []string {
				return []string{writeConfigFile(t, "thumbproxy.ini", "port=1\n")}
			},
			wantErr: true,
		},
		{
			name: "fails validation",
			setup: func(t *testing.T) []string {
				return []string{writeConfigFile(t, "thumbproxy.yaml", "queue:\n  backend: kafka\n")}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			loader := NewLoader("THUMBPROXY", files...)
			cfg, err := loader.Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	path := writeConfigFile(t, "thumbproxy.yaml", "server:\n  listen:\n    port: 9090\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader("THUMBPROXY", path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStructToMapCoversDefaults(t *testing.T) {
	m := structToMap(DefaultConfig())
	store, ok := m["store"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 30, store["signedURLTTLSeconds"])
	cacheControl, ok := m["cacheControl"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 2592000, cacheControl["hitMaxAgeSeconds"])
}
