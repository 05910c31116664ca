// Package fleet is the arena holding every flight and airport of a run.
// Flights refer to each other only by ID.
package fleet

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"formation-flying/internal/domain"
)

// Fleet stores flights in creation order. It is not safe for concurrent use;
// a simulation owns exactly one.
type Fleet struct {
	flights  []*domain.Flight
	airports []*domain.Airport
}

// New creates an empty fleet.
func New() *Fleet { return &Fleet{} }

// NextFlightID returns the ID the next registered flight must carry.
func (f *Fleet) NextFlightID() domain.FlightID { return domain.FlightID(len(f.flights)) }

// AddFlight registers fl. IDs must be handed out by NextFlightID.
func (f *Fleet) AddFlight(fl *domain.Flight) error {
	if int(fl.ID) < len(f.flights) && fl.ID >= 0 {
		return domain.NewSubSystemError("flight", "Fleet.AddFlight", domain.ErrDuplicate, fl.ID.String())
	}
	if fl.ID != f.NextFlightID() {
		return domain.NewSubSystemError("flight", "Fleet.AddFlight", domain.ErrInvalidInput,
			fmt.Sprintf("%s out of sequence, want %s", fl.ID, f.NextFlightID()))
	}
	f.flights = append(f.flights, fl)
	return nil
}

// AddAirport registers a new airport and returns it.
func (f *Fleet) AddAirport(pos orb.Point, typ domain.AirportType, closureTick int) *domain.Airport {
	a := &domain.Airport{
		ID:          domain.AirportID(len(f.airports)),
		Pos:         pos,
		Type:        typ,
		ClosureTick: closureTick,
	}
	f.airports = append(f.airports, a)
	return a
}

// Flight returns the flight with id, or nil.
func (f *Fleet) Flight(id domain.FlightID) *domain.Flight {
	if id < 0 || int(id) >= len(f.flights) {
		return nil
	}
	return f.flights[id]
}

// Lookup returns the flight with id or ErrFlightNotFound.
func (f *Fleet) Lookup(id domain.FlightID) (*domain.Flight, error) {
	fl := f.Flight(id)
	if fl == nil {
		return nil, domain.NewDomainError("Fleet.Lookup", domain.ErrFlightNotFound, id.String())
	}
	return fl, nil
}

// Flights returns every flight in creation order.
func (f *Fleet) Flights() []*domain.Flight { return f.flights }

// Len returns the number of flights.
func (f *Fleet) Len() int { return len(f.flights) }

// Airports returns every airport.
func (f *Fleet) Airports() []*domain.Airport { return f.airports }

// Airport returns the airport with id or an error.
func (f *Fleet) Airport(id domain.AirportID) (*domain.Airport, error) {
	if id < 0 || int(id) >= len(f.airports) {
		return nil, domain.NewSubSystemError("airport", "Fleet.Airport", domain.ErrNotFound, fmt.Sprint(int(id)))
	}
	return f.airports[id], nil
}

// OpenDestinations returns the destinations that still accept flights.
func (f *Fleet) OpenDestinations() []*domain.Airport {
	var out []*domain.Airport
	for _, a := range f.airports {
		if a.OpenDestination() {
			out = append(out, a)
		}
	}
	return out
}

// Within returns the flying flights within radius of pos, in creation order.
func (f *Fleet) Within(pos orb.Point, radius float64) []*domain.Flight {
	var out []*domain.Flight
	for _, fl := range f.flights {
		if fl.IsFlying() && planar.Distance(fl.Pos, pos) <= radius {
			out = append(out, fl)
		}
	}
	return out
}

// Neighbors returns the flying flights inside fl's communication range.
func (f *Fleet) Neighbors(fl *domain.Flight, includeSelf bool) []*domain.Flight {
	all := f.Within(fl.Pos, fl.CommRange)
	if includeSelf {
		return all
	}
	return slices.DeleteFunc(all, func(o *domain.Flight) bool { return o.ID == fl.ID })
}

// Members resolves fl and its mates.
func (f *Fleet) Members(fl *domain.Flight) ([]*domain.Flight, error) {
	out := make([]*domain.Flight, 0, len(fl.Mates)+1)
	for _, id := range fl.Members() {
		m, err := f.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// CheckFormation verifies that every member of fl's formation lists every
// other member and nobody lists itself.
func (f *Fleet) CheckFormation(fl *domain.Flight) error {
	members, err := f.Members(fl)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.IsMate(m.ID) {
			return domain.NewDomainError("Fleet.CheckFormation", domain.ErrAsymmetricFormation,
				m.ID.String()+" lists itself")
		}
		if len(m.Mates) != len(members)-1 {
			return domain.NewDomainError("Fleet.CheckFormation", domain.ErrAsymmetricFormation,
				fmt.Sprintf("%s has %d mates, formation has %d members", m.ID, len(m.Mates), len(members)))
		}
		for _, o := range members {
			if o.ID != m.ID && !m.IsMate(o.ID) {
				return domain.NewDomainError("Fleet.CheckFormation", domain.ErrAsymmetricFormation,
					fmt.Sprintf("%s does not list %s", m.ID, o.ID))
			}
		}
	}
	return nil
}

// AllArrived reports whether every flight has reached its destination.
func (f *Fleet) AllArrived() bool {
	for _, fl := range f.flights {
		if fl.Lifecycle != domain.LifecycleArrived {
			return false
		}
	}
	return true
}
