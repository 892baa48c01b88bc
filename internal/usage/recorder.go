package usage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Recorder writes usage records off the request path. Telemetry must never
// slow down or fail a generation, so records go through a bounded buffer and
// overflow is dropped with a warning instead of blocking.
type Recorder struct {
	store  Store
	logger *zap.Logger
	ch     chan *Record
	done   chan struct{}
}

const (
	recorderBuffer = 256
	insertTimeout  = 5 * time.Second
)

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		ch:     make(chan *Record, recorderBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues a usage record. It never blocks the caller.
func (r *Recorder) Record(rec *Record) {
	select {
	case r.ch <- rec:
	default:
		r.logger.Warn("usage buffer full, dropping record",
			zap.String("tenant_id", rec.TenantID),
			zap.String("request_id", rec.RequestID),
		)
	}
}

// Close drains buffered records and stops the writer.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := r.store.Insert(ctx, rec); err != nil {
			r.logger.Error("failed to persist usage record",
				zap.String("request_id", rec.RequestID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
