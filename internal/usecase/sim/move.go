package sim

import (
	"fmt"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/geometry"
	"formation-flying/internal/usecase/utility"
)

// move runs the move phase. Every transition is decided on the positions
// the flights had at the start of the phase, then every flying flight
// advances one tick.
func (s *Simulation) move() error {
	for _, f := range s.fleet.Flights() {
		if err := s.transition(f); err != nil {
			return err
		}
	}
	for _, f := range s.fleet.Flights() {
		if f.IsFlying() {
			if err := s.advance(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Simulation) transition(f *domain.Flight) error {
	switch f.Lifecycle {
	case domain.LifecycleArrived:
		return nil
	case domain.LifecycleScheduled:
		if s.tick >= f.Departure {
			f.Lifecycle = domain.LifecycleFlying
			s.log.Emit(domain.Event{Type: domain.EventFlightDeparted, Flight: f.ID, Peer: domain.NoFlight})
		}
		return nil
	}

	if f.DistanceTo(f.Dest) <= f.Speed/2 {
		return s.arrive(f)
	}
	switch {
	case f.State == domain.StateInFormation && !f.HasMates():
		return f.SetFormationState(domain.StateNoFormation)
	case f.State == domain.StateInFormation && f.DistanceTo(f.LeavingPoint) <= f.Speed/2:
		return s.ledger.Dissolve(f.ID)
	case f.IsJoining() && reachedJoining(f):
		return s.assemble(f)
	}
	return nil
}

func reachedJoining(f *domain.Flight) bool {
	return f.DistanceTo(f.JoiningPoint) <= max(f.SpeedToJoining/2, geometry.Tolerance)
}

// assemble moves the formation into flight once every joining member has
// reached the joining point. Members that are early hold there.
func (s *Simulation) assemble(f *domain.Flight) error {
	members, err := s.fleet.Members(f)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.IsJoining() && !reachedJoining(m) {
			return nil
		}
	}
	for _, m := range members {
		if err := m.SetFormationState(domain.StateInFormation); err != nil {
			return err
		}
		m.SpeedToJoining = 0
	}
	s.log.Emit(domain.Event{Type: domain.EventFormationAssembled, Flight: f.ID, Peer: domain.NoFlight, Value: float64(len(members))})
	return nil
}

// arrive records the real indicators of f and releases its formation.
func (s *Simulation) arrive(f *domain.Flight) error {
	c := &f.Counters
	c.RealFuelSaved = c.PlannedFuel - c.FuelConsumed
	c.RealArrival = f.Departure + c.RealFlightTime
	c.Delay = float64(c.RealArrival) - c.ScheduledArrival
	if f.DealValue != 0 {
		score, err := utility.Score(c.RealFuelSaved+f.DealValue, c.RealFuelSaved, c.Delay, f.Behavior)
		if err != nil {
			return err
		}
		c.RealUtility = score
	}
	if err := s.ledger.Dissolve(f.ID); err != nil {
		return err
	}
	if f.State != domain.StateNoFormation {
		if err := f.SetFormationState(domain.StateNoFormation); err != nil {
			return err
		}
	}
	f.Lifecycle = domain.LifecycleArrived
	f.AcceptingBids = false
	s.log.Emit(domain.Event{
		Type:   domain.EventFlightArrived,
		Flight: f.ID,
		Peer:   domain.NoFlight,
		Value:  c.RealFuelSaved,
		Price:  f.DealValue,
	})
	s.logger.Debug("flight arrived",
		"flight", f.ID,
		"tick", s.tick,
		"delay", c.Delay,
		"real_fuel_saved", c.RealFuelSaved,
	)
	return nil
}

// advance integrates one tick of movement and fuel burn.
func (s *Simulation) advance(f *domain.Flight) error {
	var burn, step float64
	target := f.Dest
	switch {
	case f.State == domain.StateInFormation:
		target, step = f.LeavingPoint, f.Speed
		burn = s.calc.Discount * f.Speed
	case f.IsJoining():
		target, step = f.JoiningPoint, f.SpeedToJoining
		switch {
		case geometry.Same(f.Pos, f.JoiningPoint):
			// Holding for the rest of the formation.
			step = 0
		case step <= 0:
			step = f.Speed
		}
		burn = step
		if f.State == domain.StateAdding && f.HasMates() {
			burn *= s.calc.Discount
		}
	default:
		step, burn = f.Speed, f.Speed
	}
	if burn < 0 {
		return domain.NewDomainError("Simulation.advance", domain.ErrNegativeFuel,
			fmt.Sprintf("%s would burn %.4f", f.ID, burn))
	}
	f.Pos = geometry.Toward(f.Pos, target, step)
	f.Counters.FuelConsumed += burn
	s.log.Emit(domain.Event{Type: domain.EventFuelBurned, Flight: f.ID, Peer: domain.NoFlight, Value: burn})
	return nil
}
