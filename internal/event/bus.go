// Package event fans engine events out to observers after the state
// change they describe has been committed.
package event

import (
	"context"
	"sync"

	"github.com/ppiankov/delayguard/internal/model"
)

// Subscriber receives published events. Publish must not block for long;
// it runs on the engine's call path.
type Subscriber interface {
	Publish(ctx context.Context, e model.Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e model.Event)

func (f SubscriberFunc) Publish(ctx context.Context, e model.Event) { f(ctx, e) }

// Bus delivers each event to every subscriber in subscription order.
// A nil *Bus drops events.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewBus creates a Bus with the given subscribers.
func NewBus(subs ...Subscriber) *Bus {
	return &Bus{subs: subs}
}

// Subscribe adds s.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish delivers events in order.
func (b *Bus) Publish(ctx context.Context, events ...model.Event) {
	if b == nil || len(events) == 0 {
		return
	}
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, e := range events {
		for _, s := range subs {
			s.Publish(ctx, e)
		}
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *Recorder) Publish(_ context.Context, e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
