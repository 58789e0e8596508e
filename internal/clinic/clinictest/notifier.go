// Package clinictest holds test doubles shared by the engine packages.
package clinictest

import (
	"context"
	"sync"
)

type Event struct {
	Kind    string
	Payload map[string]any
}

// RecordingNotifier keeps every event it is told about.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *RecordingNotifier) Notify(_ context.Context, kind string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, Event{Kind: kind, Payload: payload})
}

func (n *RecordingNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

// Kinds returns the kinds of all recorded events in order.
func (n *RecordingNotifier) Kinds() []string {
	var kinds []string
	for _, ev := range n.Events() {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
