package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"formation-flying/internal/domain"
)

// Stats counts the live event stream.
type Stats struct {
	mu       sync.Mutex
	byType   map[domain.EventType]uint64
	lastTick int
	fuel     float64
	saved    float64

	clients atomic.Int64
	dropped atomic.Uint64
}

// NewStats returns empty counters.
func NewStats() *Stats {
	return &Stats{byType: make(map[domain.EventType]uint64)}
}

// Observe counts one event.
func (s *Stats) Observe(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byType[e.Type]++
	s.lastTick = max(s.lastTick, e.Tick)
	switch e.Type {
	case domain.EventFuelBurned:
		s.fuel += e.Value
	case domain.EventFlightArrived:
		s.saved += e.Value
	}
}

// Count returns the number of events of type t seen so far.
func (s *Stats) Count(t domain.EventType) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byType[t]
}

// Uptime is the time elapsed since start.
func (s *Stats) Uptime(start time.Time) time.Duration { return time.Since(start) }

// handleMetrics writes the counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	s.stats.mu.Lock()
	types := make([]domain.EventType, 0, len(s.stats.byType))
	for t := range s.stats.byType {
		types = append(types, t)
	}
	slices.Sort(types)
	counts := make([]uint64, len(types))
	for i, t := range types {
		counts[i] = s.stats.byType[t]
	}
	lastTick, fuel, saved := s.stats.lastTick, s.stats.fuel, s.stats.saved
	s.stats.mu.Unlock()

	fmt.Fprintf(w, "# HELP formation_events_total Simulation events by type.\n")
	fmt.Fprintf(w, "# TYPE formation_events_total counter\n")
	for i, t := range types {
		fmt.Fprintf(w, "formation_events_total{type=%q} %d\n", string(t), counts[i])
	}

	fmt.Fprintf(w, "# HELP formation_tick Last tick seen on the live stream.\n")
	fmt.Fprintf(w, "# TYPE formation_tick gauge\n")
	fmt.Fprintf(w, "formation_tick %d\n", lastTick)

	fmt.Fprintf(w, "# HELP formation_fuel_burned_total Fuel burned by live flights.\n")
	fmt.Fprintf(w, "# TYPE formation_fuel_burned_total counter\n")
	fmt.Fprintf(w, "formation_fuel_burned_total %g\n", fuel)

	fmt.Fprintf(w, "# HELP formation_real_fuel_saved_total Real fuel saved by arrived flights.\n")
	fmt.Fprintf(w, "# TYPE formation_real_fuel_saved_total counter\n")
	fmt.Fprintf(w, "formation_real_fuel_saved_total %g\n", saved)

	fmt.Fprintf(w, "# HELP formation_stream_clients Connected websocket clients.\n")
	fmt.Fprintf(w, "# TYPE formation_stream_clients gauge\n")
	fmt.Fprintf(w, "formation_stream_clients %d\n", s.stats.clients.Load())

	fmt.Fprintf(w, "# HELP formation_stream_dropped_total Events dropped for slow clients.\n")
	fmt.Fprintf(w, "# TYPE formation_stream_dropped_total counter\n")
	fmt.Fprintf(w, "formation_stream_dropped_total %d\n", s.stats.dropped.Load())

	fmt.Fprintf(w, "# HELP formation_uptime_seconds Seconds since the gateway started.\n")
	fmt.Fprintf(w, "# TYPE formation_uptime_seconds gauge\n")
	fmt.Fprintf(w, "formation_uptime_seconds %.0f\n", s.stats.Uptime(s.started).Seconds())

	fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())
}
