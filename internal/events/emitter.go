// Package events delivers engine notifications to the alerting and observability layers.
// The engine never waits on a consumer: emitters must not block and never return errors to callers.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/types"
)

// Emitter receives every event the vault, its strategies and the risk gate produce.
type Emitter interface {
	Emit(event types.Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(types.Event) {}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct {
	log zerolog.Logger
}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{log: logger.GetForComponent("events")}
}

func (e *LogEmitter) Emit(event types.Event) {
	entry := e.log.Info()
	switch event.Type {
	case types.EventUtilizationAlert, types.EventPegDeviationAlert, types.EventUnprofitableAlert:
		entry = e.log.Warn()
	case types.EventEmergencyExitTriggered, types.EventRiskModeChanged:
		entry = e.log.Error()
	}
	entry = entry.Str("event", string(event.Type))
	if event.Vault != "" {
		entry = entry.Str("vault", event.Vault)
	}
	if event.Strategy != "" {
		entry = entry.Str("strategy", string(event.Strategy))
	}
	if event.Account != "" {
		entry = entry.Str("account", event.Account)
	}
	if event.Amount != nil {
		entry = entry.Str("amount", event.Amount.String())
	}
	if event.Value != 0 {
		entry = entry.Float64("value", event.Value)
	}
	if event.WeightBps != 0 {
		entry = entry.Uint32("weight_bps", event.WeightBps)
	}
	if event.Reason != "" {
		entry = entry.Str("reason", event.Reason)
	}
	entry.Msg("engine event")
}

// Multi fans an event out to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(event types.Event) {
	for _, e := range m {
		e.Emit(event)
	}
}

// Recorder keeps every event in memory. Used by tests and the web layer's recent-events view.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(event types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t types.EventType) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
