package connection

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// EventKind identifies a notification emitted by the Manager.
type EventKind string

const (
	EventStateChange        EventKind = "state_change"
	EventReconnectCountdown EventKind = "reconnect_countdown"
	EventHandshake          EventKind = "handshake"
	EventPluginState        EventKind = "plugin_state"
	EventPluginReset        EventKind = "plugin_reset"
	EventAgent              EventKind = "agent"
	EventDisconnect         EventKind = "disconnect"
	EventError              EventKind = "error"
	EventFatalClose         EventKind = "fatal_close"
	EventPluginStateReset   EventKind = "plugin_state_reset"
)

// Event is a one-shot notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	At   time.Time

	Phase   Phase           // EventStateChange
	Seconds int             // EventReconnectCountdown
	OK      bool            // EventHandshake, EventPluginReset
	Reason  string          // EventHandshake, EventPluginReset on failure
	Method  string          // EventPluginState, EventPluginReset
	Name    string          // EventAgent: gateway event name
	Payload json.RawMessage // EventPluginState, EventAgent
	Close   *CloseInfo      // EventDisconnect, EventFatalClose
	Err     error           // EventError
}

// EventSink receives events on the manager's control goroutine. Emit must
// not block.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit calls f(e).
func (f EventSinkFunc) Emit(e Event) {
	f(e)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

// Emit forwards e to every sink.
func (ms MultiSink) Emit(e Event) {
	for _, s := range ms {
		if s != nil {
			s.Emit(e)
		}
	}
}

// ChannelSink buffers events on a channel. When the buffer is full the
// event is dropped and counted.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Event, size)}
}

// Emit queues e without blocking.
func (s *ChannelSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the buffer.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns the number of events lost to a full buffer.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
