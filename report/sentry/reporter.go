// Package sentry reports errors raised outside any transaction to Sentry.
package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// DefaultFlushTimeout bounds how long Flush waits for queued events.
const DefaultFlushTimeout = 2 * time.Second

// Reporter sends errors to a Sentry hub.
type Reporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// New creates a reporter on hub.
func New(hub *sentry.Hub, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{hub: hub, logger: logger.Named("sentry")}
}

// NewFromOptions creates a reporter on a fresh hub built from opts.
func NewFromOptions(opts sentry.ClientOptions, logger *zap.Logger) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return New(sentry.NewHub(client, sentry.NewScope()), logger), nil
}

// Report captures err as a Sentry exception event.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	eventID := r.hub.CaptureException(err)
	if eventID == nil {
		r.logger.Debug("sentry dropped event", zap.Error(err))
		return
	}
	r.logger.Debug("sent error to sentry", zap.Error(err), zap.String("event_id", string(*eventID)))
}

// Flush waits up to timeout for queued events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	return r.hub.Flush(timeout)
}
