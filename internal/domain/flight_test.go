package domain

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlight(id FlightID) *Flight {
	dest := &Airport{ID: 1, Pos: orb.Point{30, 40}, Type: AirportDestination}
	return NewFlight(id, orb.Point{0, 0}, dest, 0.5, 3, 200, BehaviorBalanced)
}

func TestNewFlightCounters(t *testing.T) {
	f := newTestFlight(7)

	assert.Equal(t, FlightID(7), f.ID)
	assert.Equal(t, LifecycleScheduled, f.Lifecycle)
	assert.Equal(t, StateNoFormation, f.State)
	assert.Equal(t, RoleContractor, f.Role)
	assert.False(t, f.AcceptingBids)
	assert.InDelta(t, 50.0, f.Counters.PlannedFuel, 1e-9)
	assert.InDelta(t, 100.0, f.Counters.PlannedFlightTime, 1e-9)
	assert.InDelta(t, 103.0, f.Counters.ScheduledArrival, 1e-9)
}

func TestRedirectReplans(t *testing.T) {
	f := newTestFlight(1)
	f.Pos = orb.Point{0, 10}
	f.Counters.FuelConsumed = 10
	f.Counters.RealFlightTime = 20

	delta := f.Redirect(&Airport{ID: 4, Pos: orb.Point{0, 40}, Type: AirportDestination})

	assert.Equal(t, AirportID(4), f.DestAirport)
	assert.Equal(t, orb.Point{0, 40}, f.Dest)
	assert.InDelta(t, -10.0, delta, 1e-9)
	assert.InDelta(t, 40.0, f.Counters.PlannedFuel, 1e-9)
	assert.InDelta(t, 80.0, f.Counters.PlannedFlightTime, 1e-9)
	assert.InDelta(t, 83.0, f.Counters.ScheduledArrival, 1e-9)
}

func TestPromoteDemote(t *testing.T) {
	f := newTestFlight(1)

	f.Promote()
	assert.Equal(t, RoleManager, f.Role)
	assert.True(t, f.AcceptingBids)

	f.Demote()
	assert.Equal(t, RoleContractor, f.Role)
	assert.False(t, f.AcceptingBids)
}

func TestManagerJoiningDoesNotAcceptBids(t *testing.T) {
	f := newTestFlight(1)
	f.Promote()

	require.NoError(t, f.SetFormationState(StateCommitted))
	assert.False(t, f.AcceptingBids)

	require.NoError(t, f.SetFormationState(StateInFormation))
	assert.True(t, f.AcceptingBids)

	require.NoError(t, f.SetFormationState(StateAdding))
	assert.False(t, f.AcceptingBids)
}

func TestSetFormationState(t *testing.T) {
	tests := []struct {
		from, to FormationState
		wantErr  bool
	}{
		{StateNoFormation, StateCommitted, false},
		{StateNoFormation, StateInFormation, false},
		{StateNoFormation, StateAdding, true},
		{StateCommitted, StateInFormation, false},
		{StateCommitted, StateAdding, true},
		{StateInFormation, StateAdding, false},
		{StateInFormation, StateNoFormation, false},
		{StateInFormation, StateCommitted, true},
		{StateAdding, StateInFormation, false},
		{StateAdding, StateCommitted, true},
		{StateCommitted, StateCommitted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			f := newTestFlight(1)
			f.State = tt.from
			err := f.SetFormationState(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("SetFormationState = %v, want ErrIllegalTransition", err)
				}
				if f.State != tt.from {
					t.Errorf("State = %v, want %v after rejected transition", f.State, tt.from)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetFormationState: %v", err)
			}
			if f.State != tt.to {
				t.Errorf("State = %v, want %v", f.State, tt.to)
			}
		})
	}
}

func TestMembersAndMates(t *testing.T) {
	f := newTestFlight(2)
	assert.False(t, f.HasMates())
	assert.True(t, f.IsFree())

	f.Mates = []FlightID{5, 9}
	assert.True(t, f.HasMates())
	assert.False(t, f.IsFree())
	assert.True(t, f.IsMate(9))
	assert.False(t, f.IsMate(2))
	assert.Equal(t, []FlightID{2, 5, 9}, f.Members())
}

func TestBidLive(t *testing.T) {
	assert.True(t, Bid{Valid: true}.Live(100))
	assert.True(t, Bid{Valid: true, Expires: 5}.Live(5))
	assert.False(t, Bid{Valid: true, Expires: 5}.Live(6))
	assert.False(t, Bid{Valid: false}.Live(0))
}

func TestInbox(t *testing.T) {
	f := newTestFlight(1)
	f.Receive(Bid{Bidder: 2, Value: 3, Valid: true})
	f.Receive(Bid{Bidder: 3, Value: 4, Valid: true})
	assert.Len(t, f.Inbox, 2)

	f.DiscardBids()
	assert.Empty(t, f.Inbox)
}

func TestAirportTick(t *testing.T) {
	a := &Airport{ID: 1, Type: AirportDestination, ClosureTick: 10}
	assert.False(t, a.Tick(9))
	assert.True(t, a.OpenDestination())
	assert.True(t, a.Tick(10))
	assert.Equal(t, AirportClosed, a.Type)
	assert.False(t, a.Tick(11), "already closed")

	never := &Airport{ID: 2, Type: AirportDestination}
	assert.False(t, never.Tick(1000))
	assert.True(t, never.OpenDestination())
}
