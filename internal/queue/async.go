package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/l0p7/thumbproxy/internal/metrics"
)

const defaultSubmitTimeout = 5 * time.Second

// Async submits requests in the background. Submit never blocks on the
// publisher and failures are only logged.
type Async struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Recorder

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsync(publisher Publisher, timeout time.Duration, logger *slog.Logger, recorder *metrics.Recorder) *Async {
	if publisher == nil {
		publisher = NewDiscard()
	}
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With(slog.String("agent", "queue_dispatcher")),
		metrics:   recorder,
	}
}

// Submit hands req to the publisher on its own goroutine. The request context
// only contributes values; its cancellation does not abort the submission.
func (a *Async) Submit(ctx context.Context, req Request) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn("cache population dropped after shutdown", slog.String("item_id", req.ID.String()))
		a.metrics.ObserveQueueSubmission(metrics.QueueSubmissionDropped)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.publisher.Publish(submitCtx, req); err != nil {
			a.logger.Error("cache population submit failed",
				slog.String("item_id", req.ID.String()),
				slog.String("url", req.URL),
				slog.Any("error", err),
			)
			a.metrics.ObserveQueueSubmission(metrics.QueueSubmissionError)
			return
		}
		a.logger.Debug("cache population submitted", slog.String("item_id", req.ID.String()))
		a.metrics.ObserveQueueSubmission(metrics.QueueSubmissionSubmitted)
	}()
}

// Close stops accepting submissions, waits for in-flight ones until ctx is
// done and closes the publisher.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("queue: waiting for in-flight submissions: %w", ctx.Err())
	}
	return errors.Join(waitErr, a.publisher.Close())
}
