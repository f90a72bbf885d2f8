package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher carries audit events to a sink. Emission is best-effort for the
// domain services: they log a failed emit and continue, so audit outages
// never block contact operations.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Emit(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                      { return nil }

// LogPublisher writes events to the structured log. The default sink when no
// broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.log.Info("audit event",
		zap.String("category", string(event.Category)),
		zap.String("action", string(event.Action)),
		zap.String("unit_id", event.UnitID.String()),
		zap.String("subject_id", event.SubjectID),
		zap.String("operator_id", event.Operator.String()),
		zap.String("outcome", event.Outcome),
		zap.String("reason", event.Reason),
		zap.String("request_id", event.RequestID),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// FanoutPublisher emits to every configured sink, e.g. the durable store and
// a streaming broker. Every sink sees every event; the first emit error is
// returned after the rest have run.
type FanoutPublisher struct {
	sinks []Publisher
}

func NewFanoutPublisher(sinks ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks}
}

func (p *FanoutPublisher) Emit(ctx context.Context, event Event) error {
	var first error
	for _, sink := range p.sinks {
		if err := sink.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *FanoutPublisher) Close() error {
	var first error
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemoryPublisher collects events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Emit(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a snapshot in emission order.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
