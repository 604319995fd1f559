package resolver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/thumbproxy/internal/index"
	"github.com/l0p7/thumbproxy/internal/metrics"
	"github.com/l0p7/thumbproxy/internal/origin"
	"github.com/l0p7/thumbproxy/internal/queue"
	"github.com/l0p7/thumbproxy/internal/response"
	"github.com/l0p7/thumbproxy/internal/thumb"
)

const (
	DefaultHitMaxAge  = 30 * 24 * time.Hour
	DefaultMissMaxAge = 60 * time.Second
)

// CacheStore is the cache tier the resolver consults first.
type CacheStore interface {
	Exists(ctx context.Context, id thumb.ItemID) (bool, error)
	SignedURL(ctx context.Context, id thumb.ItemID) (string, error)
}

// Fetcher retrieves an upstream image.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*origin.Result, error)
}

// Submitter hands cache population requests off without waiting for them.
type Submitter interface {
	Submit(ctx context.Context, req queue.Request)
}

type discardSubmitter struct{}

func (discardSubmitter) Submit(context.Context, queue.Request) {}

// Options wires the resolver's collaborators. Store, Index and Fetcher are
// required.
type Options struct {
	Store             CacheStore
	Index             index.Finder
	Fetcher           Fetcher
	Queue             Submitter
	Metrics           *metrics.Recorder
	HitMaxAge         time.Duration
	MissMaxAge        time.Duration
	CorrelationHeader string
	Now               func() time.Time
}

// Resolver turns /thumb/<id> requests into image responses, preferring the
// cache tier and falling back to the item's origin image.
type Resolver struct {
	store             CacheStore
	index             index.Finder
	fetcher           Fetcher
	queue             Submitter
	metrics           *metrics.Recorder
	hitMaxAge         time.Duration
	missMaxAge        time.Duration
	correlationHeader string
	now               func() time.Time
	logger            *slog.Logger
}

func New(logger *slog.Logger, opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, errors.New("resolver: cache store required")
	}
	if opts.Index == nil {
		return nil, errors.New("resolver: index lookup required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("resolver: fetcher required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	submitter := opts.Queue
	if submitter == nil {
		submitter = discardSubmitter{}
	}
	hitMaxAge := opts.HitMaxAge
	if hitMaxAge <= 0 {
		hitMaxAge = DefaultHitMaxAge
	}
	missMaxAge := opts.MissMaxAge
	if missMaxAge <= 0 {
		missMaxAge = DefaultMissMaxAge
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		store:             opts.Store,
		index:             opts.Index,
		fetcher:           opts.Fetcher,
		queue:             submitter,
		metrics:           opts.Metrics,
		hitMaxAge:         hitMaxAge,
		missMaxAge:        missMaxAge,
		correlationHeader: strings.TrimSpace(opts.CorrelationHeader),
		now:               now,
		logger:            logger.With(slog.String("agent", "thumbnail_resolver")),
	}, nil
}

// Resolve runs the resolution pipeline for a request path. The caller owns the
// returned image and must Close it.
func (r *Resolver) Resolve(ctx context.Context, requestPath string) *ResolvedImage {
	return r.resolve(ctx, requestPath, r.logger)
}

func (r *Resolver) resolve(ctx context.Context, requestPath string, logger *slog.Logger) *ResolvedImage {
	img := &ResolvedImage{Phase: PhaseParsingPath, Tier: TierNone, Header: http.Header{}}

	id, err := thumb.ParseIdentifier(requestPath)
	if err != nil {
		return img.fail(http.StatusBadRequest, err)
	}
	img.ID = id
	logger = logger.With(slog.String("item_id", id.String()))

	img.Phase = PhaseCheckingCache
	if r.cached(ctx, id, logger) {
		img.Phase = PhaseProxyingCached
		img.Tier = TierCache
		img.MaxAge = r.hitMaxAge
		signed, err := r.store.SignedURL(ctx, id)
		if err == nil {
			r.proxy(ctx, img, signed)
			if img.Status != http.StatusOK {
				// Only a served cached image earns the long lifetime.
				img.MaxAge = r.missMaxAge
			}
			return img
		}
		logger.Warn("signed url generation failed; falling back to index", slog.Any("error", err))
	}

	img.Phase = PhaseLookingUpIndex
	img.Tier = TierOrigin
	img.MaxAge = r.missMaxAge
	originURL, err := r.index.FindOriginURL(ctx, id)
	if err != nil {
		return img.fail(indexStatus(err), err)
	}

	img.Phase = PhaseProxyingOrigin
	r.proxy(ctx, img, originURL)
	if img.Status == http.StatusOK {
		r.queue.Submit(ctx, queue.Request{ID: id, URL: originURL})
	}
	return img
}

// cached reports whether the cache tier holds id. Check failures count as a
// miss but stay distinguishable in logs and metrics.
func (r *Resolver) cached(ctx context.Context, id thumb.ItemID, logger *slog.Logger) bool {
	ok, err := r.store.Exists(ctx, id)
	switch {
	case err != nil:
		logger.Warn("cache check failed; falling back to index",
			slog.String("cache_check", string(metrics.CacheCheckError)),
			slog.Any("error", err),
		)
		r.metrics.ObserveCacheCheck(metrics.CacheCheckError)
		return false
	case ok:
		r.metrics.ObserveCacheCheck(metrics.CacheCheckHit)
		return true
	default:
		r.metrics.ObserveCacheCheck(metrics.CacheCheckMiss)
		return false
	}
}

func (r *Resolver) proxy(ctx context.Context, img *ResolvedImage, rawURL string) {
	res, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		img.fail(fetchStatus(err), err)
		return
	}
	img.Phase = PhaseResponding
	img.Status = response.ShapeStatus(res.Status)
	img.Header = response.PruneHeaders(res.Header)
	img.Body = res.Body
}

func indexStatus(err error) int {
	switch {
	case errors.Is(err, index.ErrNotFound),
		errors.Is(err, index.ErrMissingImageReference),
		errors.Is(err, index.ErrMalformedURL):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func fetchStatus(err error) int {
	if errors.Is(err, origin.ErrTimeout) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// ServeHTTP answers GET and HEAD requests for thumbnails.
func (r *Resolver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := r.now()
	correlationID := r.requestCorrelationID(req)
	if r.correlationHeader != "" {
		w.Header().Set(r.correlationHeader, correlationID)
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	reqLogger := r.logger.With(slog.String("correlation_id", correlationID))
	img := r.resolve(req.Context(), req.URL.Path, reqLogger)
	defer img.Close()

	header := w.Header()
	for key, values := range img.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	if img.MaxAge > 0 {
		response.SetCacheHeaders(header, int(img.MaxAge/time.Second), start)
	}
	w.WriteHeader(img.Status)
	latency := r.now().Sub(start)
	r.metrics.ObserveRequest(string(img.Tier), img.Status, latency)

	var copyErr error
	if req.Method != http.MethodHead && img.Body != nil {
		if _, err := io.Copy(w, img.Body); err != nil {
			copyErr = fmt.Errorf("resolver: stream body: %w", err)
		}
	}
	if img.Phase == PhaseResponding {
		img.Phase = PhaseResponded
	}

	attrs := []any{
		slog.String("item_id", img.ID.String()),
		slog.String("tier", string(img.Tier)),
		slog.Int("http_status", img.Status),
		slog.Int64("latency_ms", latency.Milliseconds()),
		slog.String("phase", img.Phase.String()),
	}
	if img.Err != nil {
		attrs = append(attrs, slog.Any("error", img.Err))
	}
	if copyErr != nil {
		attrs = append(attrs, slog.Any("stream_error", copyErr))
	}
	if img.Status >= http.StatusInternalServerError || copyErr != nil {
		reqLogger.Warn("thumbnail resolved", attrs...)
		return
	}
	reqLogger.Info("thumbnail resolved", attrs...)
}

func (r *Resolver) requestCorrelationID(req *http.Request) string {
	if req != nil && r.correlationHeader != "" {
		if candidate := strings.TrimSpace(req.Header.Get(r.correlationHeader)); candidate != "" {
			return candidate
		}
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
