// Package audit provides the best-effort audit sink. Audit writes never
// fail the primary operation: failures are logged and requeued into a
// bounded in-memory buffer that a background loop retries.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/caseops/casepilot/pkg/models"
)

// Writer persists audit entries. *store.AuditStore satisfies this.
type Writer interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
}

// Recorder is the narrow interface handed to subsystems that emit audit
// entries.
type Recorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

const (
	defaultMaxPending    = 1024
	defaultFlushInterval = 30 * time.Second
	writeTimeout         = 5 * time.Second
)

// Sink is the durable Recorder. A nil *Sink is safe to use; all methods
// no-op (mirrors the Slack service contract).
type Sink struct {
	writer Writer

	mu      sync.Mutex
	pending []*models.AuditEntry

	maxPending    int
	flushInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Sink.
type Option func(*Sink)

// WithMaxPending bounds the retry buffer.
func WithMaxPending(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

// WithFlushInterval sets the retry cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// NewSink creates an audit sink over the given writer.
func NewSink(writer Writer, opts ...Option) *Sink {
	s := &Sink{
		writer:        writer,
		maxPending:    defaultMaxPending,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record persists one entry. It never returns an error: a failed write
// is logged and requeued for the background flush. Safe on a nil sink.
func (s *Sink) Record(_ context.Context, entry *models.AuditEntry) {
	if s == nil || entry == nil {
		return
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}

	// Use a detached context so audit survives cancelled request
	// contexts during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.writer.Insert(ctx, entry); err != nil {
		slog.Warn("Audit write failed, requeueing",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err)
		s.requeue(entry)
	}
}

func (s *Sink) requeue(entry *models.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.maxPending {
		// Drop the oldest entry; audit is best-effort and the buffer is
		// bounded to protect memory during a long outage.
		dropped := s.pending[0]
		s.pending = s.pending[1:]
		slog.Warn("Audit buffer full, dropping oldest entry",
			"entity_type", dropped.EntityType,
			"action", dropped.Action)
	}
	s.pending = append(s.pending, entry)
}

// Pending returns the number of buffered entries awaiting retry.
func (s *Sink) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start launches the background flush loop.
func (s *Sink) Start(ctx context.Context) {
	if s == nil || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Audit sink started",
		"flush_interval", s.flushInterval,
		"max_pending", s.maxPending)
}

// Stop flushes what it can and waits for the loop to exit. Safe to call
// on a nil or never-started sink.
func (s *Sink) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.Flush()
	slog.Info("Audit sink stopped", "pending", s.Pending())
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Flush retries buffered entries once, in order. Entries that fail again
// stay buffered.
func (s *Sink) Flush() {
	if s == nil {
		return
	}

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var failed []*models.AuditEntry
	for _, entry := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.writer.Insert(ctx, entry)
		cancel()
		if err != nil {
			failed = append(failed, entry)
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		// Older entries go back in front of anything recorded meanwhile.
		s.pending = append(failed, s.pending...)
		if overflow := len(s.pending) - s.maxPending; overflow > 0 {
			s.pending = s.pending[overflow:]
		}
		s.mu.Unlock()
		slog.Warn("Audit flush left entries buffered", "count", len(failed))
		return
	}

	slog.Debug("Audit flush complete", "count", len(batch))
}
