// Package intake performs the single storage attempt for an accepted lead and
// reports where it ended up.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-capture-api/internal/gateway"
	"github.com/JakeFAU/lead-capture-api/internal/lead"
	"github.com/JakeFAU/lead-capture-api/internal/logging"
	"github.com/JakeFAU/lead-capture-api/internal/metrics"
)

// Category is the collection leads are written to.
const Category = "lead"

// EventLeadReceived is published after every storage attempt.
const EventLeadReceived = "lead.received"

// NoteLimit bounds the failure reason echoed back to the client.
const NoteLimit = 80

// DefaultPublishTimeout bounds one lead event publish.
const DefaultPublishTimeout = 10 * time.Second

var errNoGateway = errors.New("database gateway not wired")

// StoredVia names where a lead ended up.
type StoredVia string

// Storage destinations.
const (
	StoredDatabase StoredVia = "database"
	StoredMemory   StoredVia = "memory"
)

// Outcome is the result of one storage attempt. ID is set only for
// StoredDatabase, Reason only for StoredMemory.
type Outcome struct {
	Via    StoredVia
	ID     string
	Reason string
}

// Response is the public body for an accepted lead.
type Response struct {
	OK     bool      `json:"ok"`
	ID     *string   `json:"id"`
	Stored StoredVia `json:"stored"`
	Note   string    `json:"note,omitempty"`
}

// Response maps the outcome to the body returned by the lead endpoint.
func (o Outcome) Response() Response {
	if o.Via == StoredDatabase {
		id := o.ID
		return Response{OK: true, ID: &id, Stored: StoredDatabase}
	}
	return Response{
		OK:     true,
		Stored: StoredMemory,
		Note:   "DB unavailable: " + gateway.Truncate(o.Reason, NoteLimit),
	}
}

// Notifier publishes lead events.
type Notifier interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Event is the payload published for each accepted lead.
type Event struct {
	ID     *string        `json:"id"`
	Stored StoredVia      `json:"stored"`
	Lead   map[string]any `json:"lead"`
}

// Recorder writes leads through the gateway handle. Lead events are published
// in the background so the response only waits on the gateway write.
type Recorder struct {
	handle         *gateway.Handle
	notifier       Notifier
	logger         *zap.Logger
	publishTimeout time.Duration
	inflight       sync.WaitGroup
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithPublishTimeout bounds each background publish. Non-positive values keep
// DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

// NewRecorder builds a Recorder. handle and notifier may be nil.
func NewRecorder(handle *gateway.Handle, notifier Notifier, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		handle:         handle,
		notifier:       notifier,
		logger:         logging.OrNop(logger).Named("intake"),
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record makes exactly one storage attempt for l. It never fails: any gateway
// problem turns into a StoredMemory outcome carrying the reason. The
// lead.received event is handed off without waiting for the broker.
func (r *Recorder) Record(ctx context.Context, l lead.Lead) Outcome {
	doc := l.Document()
	out := r.store(ctx, doc)

	metrics.ObserveLead(string(out.Via))
	if out.Via == StoredMemory {
		r.logger.Warn("lead not persisted", zap.String("reason", out.Reason))
	} else {
		r.logger.Info("lead stored", zap.String("id", out.ID))
	}

	if r.notifier != nil {
		pubCtx := context.WithoutCancel(ctx)
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.notify(pubCtx, out, doc)
		}()
	}
	return out
}

// Wait blocks until every background publish has finished. Each publish is
// bounded by the publish timeout.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}

func (r *Recorder) store(ctx context.Context, doc map[string]any) Outcome {
	switch {
	case r.handle == nil:
		return Outcome{Via: StoredMemory, Reason: errNoGateway.Error()}
	case !r.handle.Ready():
		reason := errNoGateway.Error()
		if r.handle.Err != nil {
			reason = r.handle.Err.Error()
		}
		return Outcome{Via: StoredMemory, Reason: reason}
	}

	id, err := createDocument(ctx, r.handle.Gateway, doc)
	if err != nil {
		return Outcome{Via: StoredMemory, Reason: err.Error()}
	}
	return Outcome{Via: StoredDatabase, ID: id}
}

func createDocument(ctx context.Context, gw gateway.Gateway, doc map[string]any) (id string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			id, err = "", fmt.Errorf("gateway panic: %v", rec)
		}
	}()
	return gw.CreateDocument(ctx, Category, doc)
}

func (r *Recorder) notify(ctx context.Context, out Outcome, doc map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveNotification("error")
			r.logger.Error("lead event publish panicked", zap.Any("error", rec))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	resp := out.Response()
	event := Event{ID: resp.ID, Stored: out.Via, Lead: doc}
	msgID, err := r.notifier.Publish(ctx, EventLeadReceived, event)
	if err != nil {
		metrics.ObserveNotification("error")
		r.logger.Warn("lead event publish failed", zap.Error(err))
		return
	}
	metrics.ObserveNotification("ok")
	r.logger.Debug("lead event published", zap.String("message_id", msgID))
}
