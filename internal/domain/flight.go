package domain

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// FlightID addresses a flight in the fleet arena. IDs are handed out in
// creation order, so comparing two IDs compares creation order.
type FlightID int

// NoFlight marks the absence of a flight reference.
const NoFlight FlightID = -1

func (id FlightID) String() string { return fmt.Sprintf("flight-%d", int(id)) }

// Role is the negotiation role of a flight.
type Role int

const (
	RoleContractor Role = iota
	RoleManager
)

func (r Role) String() string {
	if r == RoleManager {
		return "manager"
	}
	return "contractor"
}

// FormationState is the position of a flight in the formation lifecycle.
type FormationState string

const (
	StateNoFormation FormationState = "no_formation"
	StateCommitted   FormationState = "committed"
	StateAdding      FormationState = "adding_to_formation"
	StateInFormation FormationState = "in_formation"
)

// Lifecycle tracks whether a flight is waiting, airborne or done.
type Lifecycle string

const (
	LifecycleScheduled Lifecycle = "scheduled"
	LifecycleFlying    Lifecycle = "flying"
	LifecycleArrived   Lifecycle = "arrived"
)

// transitions lists the legal formation state changes. Committed and adding
// flights may fall back to no_formation when a member arrives before the
// formation assembled.
var transitions = map[FormationState][]FormationState{
	StateNoFormation: {StateCommitted, StateInFormation},
	StateCommitted:   {StateInFormation, StateNoFormation},
	StateInFormation: {StateAdding, StateNoFormation},
	StateAdding:      {StateInFormation, StateNoFormation},
}

// Counters are the per-flight performance indicators read by metrics
// collection.
type Counters struct {
	PlannedFuel         float64 `json:"planned_fuel"`
	FuelConsumed        float64 `json:"fuel_consumed"`
	EstimatedFuelSaved  float64 `json:"estimated_fuel_saved"`
	RealFuelSaved       float64 `json:"real_fuel_saved"`
	DistanceInFormation float64 `json:"distance_in_formation"`
	FormationSize       int     `json:"formation_size"`
	EstimatedDelay      float64 `json:"estimated_delay"`
	Delay               float64 `json:"delay"`
	EstimatedUtility    float64 `json:"estimated_utility"`
	RealUtility         float64 `json:"real_utility"`
	PlannedFlightTime   float64 `json:"planned_flight_time"`
	ScheduledArrival    float64 `json:"scheduled_arrival"`
	RealFlightTime      int     `json:"real_flight_time"`
	RealArrival         int     `json:"real_arrival"`
}

// Flight is an agent travelling from an origin to a destination airport.
// Formation mates are stored as IDs and resolved through the fleet.
type Flight struct {
	ID          FlightID
	Pos         orb.Point
	Origin      orb.Point
	Dest        orb.Point
	DestAirport AirportID
	Speed       float64
	Departure   int
	CommRange   float64
	Behavior    Behavior

	Role          Role
	AcceptingBids bool
	State         FormationState
	Lifecycle     Lifecycle

	Mates          []FlightID
	JoiningPoint   orb.Point
	LeavingPoint   orb.Point
	SpeedToJoining float64
	DealValue      float64

	Inbox    []Bid
	Counters Counters
}

// NewFlight creates a scheduled contractor with its planned fuel and
// schedule derived from the direct route.
func NewFlight(id FlightID, pos orb.Point, dest *Airport, speed float64, departure int, commRange float64, behavior Behavior) *Flight {
	f := &Flight{
		ID:          id,
		Pos:         pos,
		Origin:      pos,
		Dest:        dest.Pos,
		DestAirport: dest.ID,
		Speed:       speed,
		Departure:   departure,
		CommRange:   commRange,
		Behavior:    behavior,
		Role:        RoleContractor,
		State:       StateNoFormation,
		Lifecycle:   LifecycleScheduled,
	}
	f.plan(planar.Distance(pos, dest.Pos))
	return f
}

func (f *Flight) plan(remaining float64) {
	f.Counters.PlannedFuel = f.Counters.FuelConsumed + remaining
	f.Counters.PlannedFlightTime = float64(f.Counters.RealFlightTime)
	if f.Speed > 0 {
		f.Counters.PlannedFlightTime += remaining / f.Speed
	}
	f.Counters.ScheduledArrival = float64(f.Departure) + f.Counters.PlannedFlightTime
}

// Redirect sends the flight to dest and replans from its current position:
// the fuel and time already spent plus the direct leg to dest. It returns the
// change in planned fuel.
func (f *Flight) Redirect(dest *Airport) float64 {
	before := f.Counters.PlannedFuel
	f.Dest, f.DestAirport = dest.Pos, dest.ID
	f.plan(planar.Distance(f.Pos, dest.Pos))
	return f.Counters.PlannedFuel - before
}

// IsFlying reports whether the flight is airborne.
func (f *Flight) IsFlying() bool { return f.Lifecycle == LifecycleFlying }

// HasMates reports whether the flight is linked to a formation.
func (f *Flight) HasMates() bool { return len(f.Mates) > 0 }

// IsFree reports whether the flight is available to start a new formation.
func (f *Flight) IsFree() bool { return f.State == StateNoFormation && !f.HasMates() }

// IsJoining reports whether the flight is on its way to a joining point.
func (f *Flight) IsJoining() bool {
	return f.State == StateCommitted || f.State == StateAdding
}

// IsMate reports whether id is one of the flight's formation mates.
func (f *Flight) IsMate(id FlightID) bool { return slices.Contains(f.Mates, id) }

// Members returns the flight followed by its mates.
func (f *Flight) Members() []FlightID {
	out := make([]FlightID, 0, len(f.Mates)+1)
	out = append(out, f.ID)
	return append(out, f.Mates...)
}

// UpdateRole recomputes AcceptingBids from the role. Only a manager that is
// not joining up can accept bids.
func (f *Flight) UpdateRole() {
	f.AcceptingBids = f.Role == RoleManager && !f.IsJoining()
}

// Promote makes the flight a manager.
func (f *Flight) Promote() {
	f.Role = RoleManager
	f.UpdateRole()
}

// Demote makes the flight a contractor and stops it accepting bids.
func (f *Flight) Demote() {
	f.Role = RoleContractor
	f.UpdateRole()
}

// SetFormationState moves the flight to next. Staying in the current state is
// a no-op; any change not in the transition table is rejected.
func (f *Flight) SetFormationState(next FormationState) error {
	if next == f.State {
		return nil
	}
	if !slices.Contains(transitions[f.State], next) {
		return NewDomainError("Flight.SetFormationState", ErrIllegalTransition,
			fmt.Sprintf("%s: %s -> %s", f.ID, f.State, next))
	}
	f.State = next
	f.UpdateRole()
	return nil
}

// Receive appends a bid to the inbox.
func (f *Flight) Receive(b Bid) { f.Inbox = append(f.Inbox, b) }

// DiscardBids empties the inbox.
func (f *Flight) DiscardBids() { f.Inbox = nil }

// DistanceTo returns the planar distance from the flight to p.
func (f *Flight) DistanceTo(p orb.Point) float64 { return planar.Distance(f.Pos, p) }
