// Package eventlog records every event of a run in emission order. The
// simulation folds the entries of each tick into its totals; tests query the
// log the way they would grep a trace.
package eventlog

import (
	"fmt"
	"strings"

	"formation-flying/internal/domain"
)

// Log is an append-only, unbounded event log. It is not safe for concurrent
// use.
type Log struct {
	entries []domain.Event
	tick    int
	forward []domain.EventSink
}

// New creates a Log that also passes every entry on to forward.
func New(forward ...domain.EventSink) *Log {
	return &Log{forward: forward}
}

// SetTick sets the tick stamped on events emitted from now on.
func (l *Log) SetTick(tick int) { l.tick = tick }

// Emit stamps e with the current tick, appends it and passes it to the
// forward sinks.
func (l *Log) Emit(e domain.Event) {
	e.Tick = l.tick
	l.entries = append(l.entries, e)
	for _, s := range l.forward {
		s.Emit(e)
	}
}

// Len returns the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Entries returns all entries.
func (l *Log) Entries() []domain.Event { return l.entries }

// Since returns the entries appended at or after index i.
func (l *Log) Since(i int) []domain.Event {
	if i >= len(l.entries) {
		return nil
	}
	return l.entries[max(i, 0):]
}

// Filter returns entries of the given types; no types matches everything.
func (l *Log) Filter(types ...domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range l.entries {
		if len(types) == 0 || matches(e.Type, types) {
			out = append(out, e)
		}
	}
	return out
}

func matches(t domain.EventType, types []domain.EventType) bool {
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// FilterFlight returns entries where id is the actor or the peer.
func (l *Log) FilterFlight(id domain.FlightID) []domain.Event {
	var out []domain.Event
	for _, e := range l.entries {
		if e.Flight == id || e.Peer == id {
			out = append(out, e)
		}
	}
	return out
}

// FilterTickRange returns entries within [from, to] inclusive.
func (l *Log) FilterTickRange(from, to int) []domain.Event {
	var out []domain.Event
	for _, e := range l.entries {
		if e.Tick >= from && e.Tick <= to {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many entries have type t.
func (l *Log) Count(t domain.EventType) int { return len(l.Filter(t)) }

// LastOf returns the most recent entry of type t, or false if none.
func (l *Log) LastOf(t domain.EventType) (domain.Event, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Type == t {
			return l.entries[i], true
		}
	}
	return domain.Event{}, false
}

// Line formats e as a fixed-width log line.
//
//	[T=042] flight-3   bid.placed                 -> flight-1 price=12.50
func Line(e domain.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[T=%03d] %-10s %-26s", e.Tick, e.Flight, e.Type)
	if e.Peer != domain.NoFlight {
		fmt.Fprintf(&sb, " -> %s", e.Peer)
	}
	if e.Value != 0 {
		fmt.Fprintf(&sb, " value=%.2f", e.Value)
	}
	if e.Price != 0 {
		fmt.Fprintf(&sb, " price=%.2f", e.Price)
	}
	if e.Detail != "" {
		fmt.Fprintf(&sb, " (%s)", e.Detail)
	}
	return sb.String()
}

// Format returns the whole log, one line per entry, for t.Log output.
func (l *Log) Format() string {
	var sb strings.Builder
	for _, e := range l.entries {
		sb.WriteString(Line(e))
		sb.WriteByte('\n')
	}
	return sb.String()
}
