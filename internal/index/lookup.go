package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/l0p7/thumbproxy/internal/thumb"
)

var (
	// ErrMalformedResponse reports a search response without the expected envelope.
	ErrMalformedResponse = errors.New("index: malformed response")
	// ErrNotFound reports that no record matches the identifier.
	ErrNotFound = errors.New("index: item not found")
	// ErrMissingImageReference reports a record without a usable object field.
	ErrMissingImageReference = errors.New("index: item has no image reference")
	// ErrMalformedURL reports an image reference that is not an absolute http(s) URL.
	ErrMalformedURL = errors.New("index: malformed image url")
	// ErrUnavailable reports a transport failure or non-success status from the index.
	ErrUnavailable = errors.New("index: unavailable")
)

const defaultTimeout = 5 * time.Second

// Finder resolves the origin image URL recorded for an item.
type Finder interface {
	FindOriginURL(ctx context.Context, id thumb.ItemID) (string, error)
}

// Options configures an Elasticsearch backed Lookup.
type Options struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// Lookup queries an Elasticsearch index for an item's object field.
type Lookup struct {
	client   *resty.Client
	endpoint string
	logger   *slog.Logger
}

type searchResponse struct {
	Hits *searchHits `json:"hits"`
}

type searchHits struct {
	Total json.RawMessage `json:"total"`
	Hits  []searchHit     `json:"hits"`
}

type searchHit struct {
	Source struct {
		Object json.RawMessage `json:"object"`
	} `json:"_source"`
}

func NewLookup(logger *slog.Logger, opts Options) (*Lookup, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("index: endpoint required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	return &Lookup{
		client:   client,
		endpoint: endpoint,
		logger:   logger.With(slog.String("agent", "index_lookup")),
	}, nil
}

// Close releases idle connections held by the client.
func (l *Lookup) Close() error {
	return l.client.Close()
}

// FindOriginURL searches for the single record with the given id, fetching
// only the fields needed to resolve its image.
func (l *Lookup) FindOriginURL(ctx context.Context, id thumb.ItemID) (string, error) {
	var body searchResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":       "id:" + id.String(),
			"_source": "id,object",
			"size":    "1",
		}).
		SetResult(&body).
		Get(l.endpoint + "/_search")
	if err != nil {
		if resp != nil && resp.RawResponse != nil {
			return "", fmt.Errorf("%w: decode %s: %w", ErrMalformedResponse, id, err)
		}
		return "", fmt.Errorf("%w: search %s: %w", ErrUnavailable, id, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: search %s: status %d", ErrUnavailable, id, resp.StatusCode())
	}

	rawURL, err := extractOriginURL(body)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", id, err)
	}
	l.logger.Debug("origin resolved", slog.String("item_id", id.String()), slog.String("url", rawURL))
	return rawURL, nil
}

// extractOriginURL checks the envelope, the match count, the image field and
// the URL scheme, in that order.
func extractOriginURL(body searchResponse) (string, error) {
	if body.Hits == nil || len(body.Hits.Total) == 0 {
		return "", ErrMalformedResponse
	}
	total, ok := parseTotal(body.Hits.Total)
	if !ok {
		return "", ErrMalformedResponse
	}
	if total == 0 {
		return "", ErrNotFound
	}
	if len(body.Hits.Hits) == 0 {
		return "", ErrMalformedResponse
	}

	candidate, ok := imageReference(body.Hits.Hits[0].Source.Object)
	if !ok {
		return "", ErrMissingImageReference
	}
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		return "", fmt.Errorf("%w: %q", ErrMalformedURL, candidate)
	}
	return candidate, nil
}

// parseTotal accepts both the legacy numeric total and the {"value": n} form.
func parseTotal(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var obj struct {
		Value *int64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != nil {
		return *obj.Value, true
	}
	return 0, false
}

// imageReference returns the object field when it is a string, or its first
// element when it is an array of strings.
func imageReference(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, single != ""
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return "", false
	}
	first, ok := list[0].(string)
	return first, ok && first != ""
}
