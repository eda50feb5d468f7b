package alert

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/logging"
)

// Dispatcher fans out alert events to matching webhook configurations.
// A nil *Dispatcher is valid and drops every event.
type Dispatcher struct {
	configs []AlertConfig
	log     logging.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty.
func NewDispatcher(configs []AlertConfig, log logging.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{configs: configs, log: log}
}

// Dispatch sends the event to every webhook whose Events list matches
// event.Event (or contains "*"). Sends run in goroutines and never block
// the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := Send(ctx, cfg, event); err != nil {
				d.log.Warn("alert delivery failed", "url", cfg.URL, "event", event.Event, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == "*" || e == event.Event {
			return true
		}
	}
	return false
}
