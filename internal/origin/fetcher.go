package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds how long an upstream may take to answer.
	DefaultTimeout   = 10 * time.Second
	defaultUserAgent = "DPLA Image Proxy"
)

var (
	// ErrTimeout reports an upstream that did not answer before the deadline.
	ErrTimeout = errors.New("origin: fetch timed out")
	// ErrConnection reports any other transport level failure.
	ErrConnection = errors.New("origin: connection failed")
)

// httpDoer represents the minimal client contract the fetcher relies on.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options tunes a Fetcher. Zero values fall back to defaults.
type Options struct {
	Client  httpDoer
	Timeout time.Duration
	// IdleTimeout bounds the gap between body reads. Defaults to Timeout.
	IdleTimeout time.Duration
	UserAgent   string
}

// Fetcher retrieves image bytes from arbitrary upstream URLs.
type Fetcher struct {
	client      httpDoer
	timeout     time.Duration
	idleTimeout time.Duration
	userAgent   string
	logger      *slog.Logger
}

// Result is an upstream response whose body is still streaming. Closing Body
// releases the underlying request.
type Result struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

func NewFetcher(logger *slog.Logger, opts Options) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			// Redirects are followed; the final hop's status is what gets shaped.
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = timeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Fetcher{
		client:      client,
		timeout:     timeout,
		idleTimeout: idle,
		userAgent:   ua,
		logger:      logger.With(slog.String("agent", "origin_fetcher")),
	}
}

// Timeout reports the deadline applied to each fetch.
func (f *Fetcher) Timeout() time.Duration { return f.timeout }

// Fetch issues a GET against rawURL. The deadline covers the wait for response
// headers; when it fires the in-flight request is cancelled through its
// context, so no connection outlives a timeout. Once headers arrive the body
// streams under an idle deadline that restarts on every read making progress;
// a stalled body fails with ErrTimeout. Closing Body releases the request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	reqCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(f.timeout, func() { cancel(ErrTimeout) })

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, fmt.Errorf("%w: build request %s: %w", ErrConnection, rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		timer.Stop()
		cause := context.Cause(reqCtx)
		cancel(nil)
		if errors.Is(cause, ErrTimeout) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, rawURL, f.timeout)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, rawURL, err)
	}

	if !timer.Stop() {
		// The deadline fired while the response was being handed back.
		resp.Body.Close()
		cancel(nil)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, rawURL, f.timeout)
	}

	f.logger.Debug("origin responded",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
	)

	return &Result{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   newIdleBody(reqCtx, resp.Body, cancel, f.idleTimeout),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// idleBody cancels the request when no bytes arrive within idle.
type idleBody struct {
	rc     io.ReadCloser
	ctx    context.Context
	cancel context.CancelCauseFunc
	idle   time.Duration
	timer  *time.Timer
}

func newIdleBody(ctx context.Context, rc io.ReadCloser, cancel context.CancelCauseFunc, idle time.Duration) *idleBody {
	return &idleBody{
		rc:     rc,
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
		timer:  time.AfterFunc(idle, func() { cancel(ErrTimeout) }),
	}
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && b.ctx.Err() == nil {
		b.timer.Reset(b.idle)
	}
	if err != nil && err != io.EOF && errors.Is(context.Cause(b.ctx), ErrTimeout) {
		return n, fmt.Errorf("%w: body idle for %s", ErrTimeout, b.idle)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel(nil)
	return err
}
