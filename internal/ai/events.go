package ai

import "time"

// EventKind is a normalized engine lifecycle event type.
type EventKind string

const (
	EventRunStarted      EventKind = "run.started"
	EventMessageAppended EventKind = "message.appended"
	EventRouteSelected   EventKind = "route.selected"
	EventRunFinished     EventKind = "run.finished"
	EventRunFailed       EventKind = "run.failed"
)

type Event struct {
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"run_id"`
	Step     int       `json:"step"`
	Route    Route     `json:"route,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Err      string    `json:"error,omitempty"`
	AtUnixMs int64     `json:"at_unix_ms"`
	// Labels are caller-supplied run attributes, set on run.started only.
	Labels map[string]string `json:"labels,omitempty"`
}

func newEvent(kind EventKind, runID string, step int) Event {
	return Event{Kind: kind, RunID: runID, Step: step, AtUnixMs: time.Now().UnixMilli()}
}

// Observer receives engine events synchronously on the run's goroutine. Implementations must not block for long.
type Observer interface {
	OnEvent(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// MultiObserver fans an event out to every non-nil observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(ev Event) {
	for _, o := range m {
		if o != nil {
			o.OnEvent(ev)
		}
	}
}
