package response

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeStatus(t *testing.T) {
	tests := []struct {
		upstream int
		want     int
	}{
		{upstream: 200, want: 200},
		{upstream: 404, want: 404},
		{upstream: 410, want: 404},
		{upstream: 201, want: 502},
		{upstream: 204, want: 502},
		{upstream: 301, want: 502},
		{upstream: 302, want: 502},
		{upstream: 304, want: 502},
		{upstream: 400, want: 502},
		{upstream: 401, want: 502},
		{upstream: 403, want: 502},
		{upstream: 429, want: 502},
		{upstream: 500, want: 502},
		{upstream: 503, want: 502},
		{upstream: 0, want: 502},
	}

	// Run twice in opposite orders; the mapping must not depend on call history.
	for i := range tests {
		tc := tests[i]
		assert.Equal(t, tc.want, ShapeStatus(tc.upstream), "upstream %d", tc.upstream)
	}
	for i := len(tests) - 1; i >= 0; i-- {
		tc := tests[i]
		assert.Equal(t, tc.want, ShapeStatus(tc.upstream), "upstream %d", tc.upstream)
	}
}

func TestPruneHeaders(t *testing.T) {
	upstream := http.Header{
		"Content-Type":     {"image/jpeg"},
		"Content-Length":   {"1024"},
		"Last-Modified":    {"Mon, 02 Jan 2006 15:04:05 GMT"},
		"Date":             {"Tue, 03 Jan 2006 15:04:05 GMT"},
		"Cache-Control":    {"private, no-store"},
		"Set-Cookie":       {"session=abc"},
		"Vary":             {"Accept-Encoding"},
		"Www-Authenticate": {"Basic"},
		"Expires":          {"0"},
	}
	upstream["content-type"] = []string{"image/png"}

	pruned := PruneHeaders(upstream)

	for name := range pruned {
		lower := strings.ToLower(name)
		assert.Contains(t, []string{"content-length", "content-type", "last-modified", "date"}, lower)
	}
	require.Equal(t, "1024", pruned.Get("Content-Length"))
	require.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", pruned.Get("Last-Modified"))
	require.Empty(t, pruned.Get("Cache-Control"))
	require.Empty(t, pruned.Get("Set-Cookie"))
	require.Empty(t, pruned.Get("Vary"))
	require.ElementsMatch(t, []string{"image/jpeg", "image/png"}, pruned.Values("Content-Type"))
}

func TestPruneHeadersIdempotent(t *testing.T) {
	upstream := http.Header{
		"Content-Type":  {"image/jpeg"},
		"Date":          {"Tue, 03 Jan 2006 15:04:05 GMT"},
		"Etag":          {`"abc"`},
		"Cache-Control": {"no-cache"},
	}
	once := PruneHeaders(upstream)
	twice := PruneHeaders(once)
	require.Equal(t, once, twice)
}

func TestPruneHeadersDoesNotAliasInput(t *testing.T) {
	upstream := http.Header{"Content-Type": {"image/jpeg"}}
	pruned := PruneHeaders(upstream)
	pruned.Set("Content-Type", "text/plain")
	require.Equal(t, "image/jpeg", upstream.Get("Content-Type"))
}

func TestSetCacheHeaders(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	SetCacheHeaders(h, 2592000, now)
	require.Equal(t, "public, max-age=2592000", h.Get("Cache-Control"))
	require.Equal(t, "Sun, 31 Mar 2024 12:00:00 GMT", h.Get("Expires"))

	h = http.Header{}
	SetCacheHeaders(h, 60, now)
	require.Equal(t, "public, max-age=60", h.Get("Cache-Control"))
	require.Equal(t, "Fri, 01 Mar 2024 12:01:00 GMT", h.Get("Expires"))
}
