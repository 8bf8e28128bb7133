package events

import (
	"sync"
	"sync/atomic"
)

// Sink receives progress events. Emit must not block the orchestrator for long.
type Sink interface {
	Emit(e *Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e *Event)

func (f SinkFunc) Emit(e *Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(*Event) {})

// ChannelSink forwards events to a channel. Events that do not fit are dropped
// and counted rather than stalling the turn.
type ChannelSink struct {
	ch      chan<- *Event
	dropped atomic.Int64
}

// NewChannelSink creates a sink writing to ch.
func NewChannelSink(ch chan<- *Event) *ChannelSink {
	return &ChannelSink{ch: ch}
}

func (s *ChannelSink) Emit(e *Event) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the channel.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Multi fans events out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(e *Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *Recorder) Emit(e *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// Types returns the types of the recorded events.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
