package gpu

import (
	"strings"
	"sync"
)

// Recorder observes the command stream as the execution goroutine runs it.
// Methods are called on the execution goroutine.
type Recorder interface {
	BatchStarted(fence uint64, label string)
	CommandExecuted(fence uint64, name string, err error)
	BatchCompleted(fence uint64, label string, err error)
}

// EventKind classifies a recorded event.
type EventKind uint8

const (
	EventBatchStarted EventKind = iota
	EventCommand
	EventBatchCompleted
)

// Event is one entry in an EventLog.
type Event struct {
	Kind  EventKind
	Fence uint64
	Name  string // batch label or command name
	Err   error
}

// EventLog is an in-memory Recorder.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) append(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *EventLog) BatchStarted(fence uint64, label string) {
	l.append(Event{Kind: EventBatchStarted, Fence: fence, Name: label})
}

func (l *EventLog) CommandExecuted(fence uint64, name string, err error) {
	l.append(Event{Kind: EventCommand, Fence: fence, Name: name, Err: err})
}

func (l *EventLog) BatchCompleted(fence uint64, label string, err error) {
	l.append(Event{Kind: EventBatchCompleted, Fence: fence, Name: label, Err: err})
}

// Events returns a copy of all recorded events.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Commands returns the names of the commands executed for a batch.
func (l *EventLog) Commands(fence uint64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var names []string
	for _, e := range l.events {
		if e.Kind == EventCommand && e.Fence == fence {
			names = append(names, e.Name)
		}
	}
	return names
}

// Dispatches returns the kernel labels of every dispatch in execution order.
func (l *EventLog) Dispatches() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var labels []string
	for _, e := range l.events {
		if e.Kind == EventCommand {
			if label, ok := strings.CutPrefix(e.Name, "dispatch:"); ok {
				labels = append(labels, label)
			}
		}
	}
	return labels
}

// Completed returns the fence values of completed batches in order.
func (l *EventLog) Completed() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var fences []uint64
	for _, e := range l.events {
		if e.Kind == EventBatchCompleted {
			fences = append(fences, e.Fence)
		}
	}
	return fences
}

// Reset discards all recorded events.
func (l *EventLog) Reset() {
	l.mu.Lock()
	l.events = l.events[:0]
	l.mu.Unlock()
}
