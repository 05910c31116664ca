package sim

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"formation-flying/internal/domain"
)

type flightSpec struct {
	from, to  orb.Point
	departure int
	behavior  domain.Behavior
	closure   int
}

type scenario struct {
	cfg     Config
	flights []flightSpec
}

// scenarioOption adjusts a hand-built test scenario.
type scenarioOption func(*scenario)

func withMethod(m domain.Method) scenarioOption {
	return func(sc *scenario) { sc.cfg.Method = m }
}

func withSpeed(v float64) scenarioOption {
	return func(sc *scenario) { sc.cfg.Speed = v }
}

func withReroute() scenarioOption {
	return func(sc *scenario) { sc.cfg.Reroute = true }
}

// withFlight adds a flight from (x0,y0) to its own destination airport at
// (x1,y1).
func withFlight(x0, y0, x1, y1 float64, departure int) scenarioOption {
	return func(sc *scenario) {
		sc.flights = append(sc.flights, flightSpec{
			from:      orb.Point{x0, y0},
			to:        orb.Point{x1, y1},
			departure: departure,
			behavior:  domain.BehaviorBalanced,
		})
	}
}

// withClosingDestination makes the destination of the last added flight
// close at tick.
func withClosingDestination(tick int) scenarioOption {
	return func(sc *scenario) { sc.flights[len(sc.flights)-1].closure = tick }
}

func newScenario(t *testing.T, opts ...scenarioOption) *Simulation {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Speed = 5
	cfg.MaxTicks = 2000
	sc := &scenario{cfg: cfg}
	for _, o := range opts {
		o(sc)
	}
	s, err := New(sc.cfg)
	require.NoError(t, err)
	for _, fs := range sc.flights {
		dest := s.AddAirport(fs.to, domain.AirportDestination, fs.closure)
		_, err := s.AddFlight(fs.from, dest, fs.departure, fs.behavior)
		require.NoError(t, err)
	}
	return s
}

// stepChecked runs n ticks and verifies formation symmetry after each.
func stepChecked(t *testing.T, s *Simulation, n int) {
	t.Helper()
	for range n {
		require.NoError(t, s.Step(context.Background()))
		for _, f := range s.Fleet().Flights() {
			if f.HasMates() {
				require.NoError(t, s.Fleet().CheckFormation(f), "tick %d\n%s", s.Tick(), s.Log().Format())
			}
		}
	}
}
