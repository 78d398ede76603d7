package alert

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ppiankov/delayguard/internal/model"
)

// Dispatcher fans out alert events to matching webhook configurations.
// Its destinations can be replaced at runtime.
type Dispatcher struct {
	mu         sync.RWMutex
	configs    []AlertConfig
	configHash string
	sender     *Sender
	logger     *slog.Logger
	inflight   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
func NewDispatcher(configs []AlertConfig) *Dispatcher {
	return &Dispatcher{configs: configs, sender: DefaultSender, logger: slog.Default()}
}

// SetSender replaces how payloads are delivered.
func (d *Dispatcher) SetSender(s *Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = s
}

// Update replaces the destinations and the config hash stamped on alerts.
func (d *Dispatcher) Update(configs []AlertConfig, configHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = configs
	d.configHash = configHash
}

// SetLogger sets where delivery failures are reported.
func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = logger
}

// Len returns the number of configured destinations.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.configs)
}

// Publish turns an engine event into an alert.
func (d *Dispatcher) Publish(_ context.Context, e model.Event) {
	d.mu.RLock()
	hash := d.configHash
	d.mu.RUnlock()
	d.Dispatch(FromEvent(e, hash))
}

// Dispatch sends the event to all webhooks whose Events list matches its
// kind. Delivery runs in goroutines and does not block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	d.mu.RLock()
	configs := d.configs
	logger := d.logger
	sender := d.sender
	d.mu.RUnlock()

	for _, cfg := range configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.inflight.Add(1)
		go func(cfg AlertConfig) {
			defer d.inflight.Done()
			if err := sender.Send(context.Background(), cfg, event); err != nil {
				logger.Warn("alert delivery failed", "url", cfg.URL, "kind", event.Kind, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == "*" || e == event.Kind {
			return true
		}
	}
	return false
}
