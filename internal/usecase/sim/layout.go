package sim

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"formation-flying/internal/domain"
)

// Populate generates the airports inside the configured areas and schedules
// cfg.Flights flights between random origins and open destinations.
func (s *Simulation) Populate() error {
	if s.fleet.Len() > 0 {
		return domain.NewDomainError("Simulation.Populate", domain.ErrInvalidInput, "fleet already populated")
	}
	var origins []*domain.Airport
	for range s.cfg.OriginAirports {
		origins = append(origins, s.AddAirport(s.placeIn(s.cfg.OriginArea), domain.AirportOrigin, 0))
	}
	for i := range s.cfg.DestinationAirports {
		closure := 0
		if i < len(s.cfg.ClosureTicks) {
			closure = s.cfg.ClosureTicks[i]
		}
		s.AddAirport(s.placeIn(s.cfg.DestinationArea), domain.AirportDestination, closure)
	}
	if len(origins) == 0 {
		return domain.NewSubSystemError("airport", "Simulation.Populate", domain.ErrNotFound, "no origin airports")
	}

	pick, err := behaviorPicker(s.cfg.BehaviorWeights)
	if err != nil {
		return err
	}
	for range s.cfg.Flights {
		dests := s.fleet.OpenDestinations()
		if len(dests) == 0 {
			return domain.NewSubSystemError("airport", "Simulation.Populate", domain.ErrNoDestination, "every destination is closed")
		}
		origin := origins[s.rng.Intn(len(origins))]
		dest := dests[s.rng.Intn(len(dests))]
		departure := 0
		if s.cfg.DepartureWindow > 0 {
			departure = s.rng.Intn(s.cfg.DepartureWindow + 1)
		}
		if _, err := s.AddFlight(origin.Pos, dest, departure, pick(s.rng.Float64())); err != nil {
			return err
		}
	}
	s.logger.Debug("layout generated",
		"origins", len(origins),
		"destinations", s.cfg.DestinationAirports,
		"flights", s.fleet.Len(),
	)
	return nil
}

// placeIn returns a uniform point inside area scaled to the plane.
func (s *Simulation) placeIn(area orb.Bound) orb.Point {
	x := area.Min[0] + s.rng.Float64()*(area.Max[0]-area.Min[0])
	y := area.Min[1] + s.rng.Float64()*(area.Max[1]-area.Min[1])
	return orb.Point{x * s.cfg.Width, y * s.cfg.Height}
}

// behaviorPicker maps a uniform draw in [0, 1) to a behavior with the given
// relative weights.
func behaviorPicker(weights map[domain.Behavior]float64) (func(float64) domain.Behavior, error) {
	if len(weights) == 0 {
		return func(float64) domain.Behavior { return domain.BehaviorBudget }, nil
	}
	type slot struct {
		b   domain.Behavior
		cum float64
	}
	var slots []slot
	var total float64
	for _, b := range domain.Behaviors {
		w := weights[b]
		if w < 0 {
			return nil, domain.NewDomainError("sim.behaviorPicker", domain.ErrInvalidInput,
				fmt.Sprintf("negative weight for %s", b))
		}
		if w == 0 {
			continue
		}
		total += w
		slots = append(slots, slot{b: b, cum: total})
	}
	for b := range weights {
		if _, err := domain.ParseBehavior(string(b)); err != nil {
			return nil, err
		}
	}
	if total == 0 {
		return nil, domain.NewDomainError("sim.behaviorPicker", domain.ErrInvalidInput, "behavior weights sum to zero")
	}
	return func(u float64) domain.Behavior {
		target := u * total
		i := sort.Search(len(slots), func(i int) bool { return slots[i].cum > target })
		if i == len(slots) {
			i = len(slots) - 1
		}
		return slots[i].b
	}, nil
}

// closeAirports applies closure ticks and moves free flights off closed
// destinations when rerouting is on.
func (s *Simulation) closeAirports() {
	for _, a := range s.fleet.Airports() {
		if a.Tick(s.tick) {
			s.log.Emit(domain.Event{
				Type:   domain.EventAirportClosed,
				Flight: domain.NoFlight,
				Peer:   domain.NoFlight,
				Detail: fmt.Sprintf("airport-%d", a.ID),
			})
		}
	}
	if !s.cfg.Reroute {
		return
	}
	for _, f := range s.fleet.Flights() {
		if f.Lifecycle == domain.LifecycleArrived || !f.IsFree() {
			continue
		}
		a, err := s.fleet.Airport(f.DestAirport)
		if err != nil || a.Type != domain.AirportClosed {
			continue
		}
		open := s.fleet.OpenDestinations()
		if len(open) == 0 {
			continue
		}
		next := open[s.rng.Intn(len(open))]
		delta := f.Redirect(next)
		s.log.Emit(domain.Event{
			Type:   domain.EventFlightRerouted,
			Flight: f.ID,
			Peer:   domain.NoFlight,
			Value:  delta,
			Detail: fmt.Sprintf("airport-%d -> airport-%d", a.ID, next.ID),
		})
	}
}
