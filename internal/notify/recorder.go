package notify

import (
	"context"
	"sync"
)

// Recorder is a Notifier that captures pushed events for tests.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent

	// FailWith, when set, is returned by Push after recording.
	FailWith error
}

// RecordedEvent pairs an event with the user it was sent to.
type RecordedEvent struct {
	UserID string
	Event  Event
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) Push(_ context.Context, userID string, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{UserID: userID, Event: event})
	return r.FailWith
}

// Events returns a copy of everything pushed so far.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns the recorded events of the given type, in push order.
func (r *Recorder) ByType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, re := range r.events {
		if re.Event.Type == t {
			out = append(out, re.Event)
		}
	}
	return out
}

// Reset clears all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
