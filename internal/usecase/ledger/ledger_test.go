package ledger

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/fleet"
	"formation-flying/internal/usecase/geometry"
)

type recorder struct{ events []domain.Event }

func (r *recorder) Emit(e domain.Event) { r.events = append(r.events, e) }

type harness struct {
	fleet  *fleet.Fleet
	ledger *Ledger
	events *recorder
}

func newHarness() *harness {
	f := fleet.New()
	rec := &recorder{}
	return &harness{fleet: f, ledger: New(f, geometry.New(0.75, 100), rec), events: rec}
}

func (h *harness) add(t *testing.T, pos, dest orb.Point) *domain.Flight {
	t.Helper()
	a := h.fleet.AddAirport(dest, domain.AirportDestination, 0)
	fl := domain.NewFlight(h.fleet.NextFlightID(), pos, a, 0.5, 0, 200, domain.BehaviorBalanced)
	fl.Lifecycle = domain.LifecycleFlying
	require.NoError(t, h.fleet.AddFlight(fl))
	return fl
}

func TestStartFormation(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{0, 0}, orb.Point{0, 300})
	b := h.add(t, orb.Point{10, 0}, orb.Point{10, 300})
	a.Promote()

	require.NoError(t, h.ledger.StartFormation(a.ID, b.ID, 4, true))

	assert.InDelta(t, 4, a.DealValue, 1e-9)
	assert.InDelta(t, -4, b.DealValue, 1e-9)
	assert.Equal(t, []domain.FlightID{b.ID}, a.Mates)
	assert.Equal(t, []domain.FlightID{a.ID}, b.Mates)
	assert.Contains(t, []domain.FormationState{domain.StateCommitted, domain.StateInFormation}, a.State)
	assert.Contains(t, []domain.FormationState{domain.StateCommitted, domain.StateInFormation}, b.State)
	assert.Equal(t, a.JoiningPoint, b.JoiningPoint)
	assert.Equal(t, a.LeavingPoint, b.LeavingPoint)
	assert.False(t, a.AcceptingBids, "manager joining up")
	assert.Greater(t, a.Counters.EstimatedFuelSaved, 0.0)
	assert.Greater(t, b.Counters.EstimatedFuelSaved, 0.0)
	assert.Greater(t, a.SpeedToJoining, 0.0)

	require.Len(t, h.events.events, 1)
	ev := h.events.events[0]
	assert.Equal(t, domain.EventFormationStarted, ev.Type)
	assert.Equal(t, a.ID, ev.Flight)
	assert.Equal(t, b.ID, ev.Peer)
	assert.InDelta(t, a.Counters.EstimatedFuelSaved+b.Counters.EstimatedFuelSaved, ev.Value, 1e-9)
}

func TestStartFormationCoLocated(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{5, 5}, orb.Point{0, 300})
	b := h.add(t, orb.Point{5, 5}, orb.Point{10, 300})
	a.Promote()

	require.NoError(t, h.ledger.StartFormation(a.ID, b.ID, 1, true))
	assert.Equal(t, domain.StateInFormation, a.State)
	assert.Equal(t, domain.StateInFormation, b.State)
	assert.True(t, a.AcceptingBids)
}

func TestStartFormationDiscardsInbox(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{0, 0}, orb.Point{0, 300})
	b := h.add(t, orb.Point{10, 0}, orb.Point{10, 300})
	a.Receive(domain.Bid{Bidder: b.ID, Value: 1, Valid: true})

	require.NoError(t, h.ledger.StartFormation(a.ID, b.ID, 1, false))
	assert.Len(t, a.Inbox, 1)

	h2 := newHarness()
	c := h2.add(t, orb.Point{0, 0}, orb.Point{0, 300})
	d := h2.add(t, orb.Point{10, 0}, orb.Point{10, 300})
	c.Receive(domain.Bid{Bidder: d.ID, Value: 1, Valid: true})
	require.NoError(t, h2.ledger.StartFormation(c.ID, d.ID, 1, true))
	assert.Empty(t, c.Inbox)
}

func TestSelfMerge(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{0, 0}, orb.Point{0, 300})

	err := h.ledger.StartFormation(a.ID, a.ID, 1, true)
	assert.True(t, errors.Is(err, domain.ErrSelfMerge))
	err = h.ledger.AddToFormation(a.ID, a.ID, 1, true)
	assert.True(t, errors.Is(err, domain.ErrSelfMerge))
}

func TestAlreadyMates(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{0, 0}, orb.Point{0, 300})
	b := h.add(t, orb.Point{10, 0}, orb.Point{10, 300})
	require.NoError(t, h.ledger.StartFormation(a.ID, b.ID, 1, true))

	err := h.ledger.AddToFormation(a.ID, b.ID, 1, true)
	assert.True(t, errors.Is(err, domain.ErrSelfMerge))
}

// formation builds an assembled two-flight formation.
func (h *harness) formation(t *testing.T, x float64) (*domain.Flight, *domain.Flight) {
	t.Helper()
	a := h.add(t, orb.Point{x, 0}, orb.Point{x, 300})
	b := h.add(t, orb.Point{x, 0}, orb.Point{x + 10, 300})
	a.Promote()
	require.NoError(t, h.ledger.StartFormation(a.ID, b.ID, 2, true))
	require.Equal(t, domain.StateInFormation, a.State)
	return a, b
}

func TestAddToFormationRejectsMerge(t *testing.T) {
	h := newHarness()
	a, b := h.formation(t, 0)
	c, d := h.formation(t, 20)
	h.events.events = nil

	before := *a
	err := h.ledger.AddToFormation(a.ID, c.ID, 5, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFormationMerge))
	assert.True(t, domain.IsInvariantViolation(err))

	assert.Equal(t, before.DealValue, a.DealValue)
	assert.Equal(t, []domain.FlightID{b.ID}, a.Mates)
	assert.Equal(t, []domain.FlightID{d.ID}, c.Mates)
	assert.Empty(t, h.events.events)
}

func TestAddToFormation(t *testing.T) {
	h := newHarness()
	a, b := h.formation(t, 0)
	j := h.add(t, orb.Point{30, 10}, orb.Point{40, 300})

	require.NoError(t, h.ledger.AddToFormation(a.ID, j.ID, 6, true))

	assert.InDelta(t, 2+3, a.DealValue, 1e-9)
	assert.InDelta(t, -2+3, b.DealValue, 1e-9)
	assert.InDelta(t, -6, j.DealValue, 1e-9)
	assert.ElementsMatch(t, []domain.FlightID{b.ID, j.ID}, a.Mates)
	assert.ElementsMatch(t, []domain.FlightID{a.ID, j.ID}, b.Mates)
	assert.ElementsMatch(t, []domain.FlightID{a.ID, b.ID}, j.Mates)
	assert.Equal(t, domain.StateAdding, a.State)
	assert.Equal(t, domain.StateAdding, b.State)
	assert.Equal(t, domain.StateCommitted, j.State)
	assert.Equal(t, a.JoiningPoint, j.JoiningPoint)
	assert.Equal(t, a.LeavingPoint, j.LeavingPoint)
	assert.Equal(t, a.SpeedToJoining, b.SpeedToJoining)
	assert.False(t, a.AcceptingBids)
	require.NoError(t, h.fleet.CheckFormation(j))

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, domain.EventFormationJoined, last.Type)
	assert.Equal(t, j.ID, last.Peer)
}

func TestAddToFormationSwapsLoneReceiver(t *testing.T) {
	h := newHarness()
	a, _ := h.formation(t, 0)
	lone := h.add(t, orb.Point{30, 10}, orb.Point{40, 300})

	require.NoError(t, h.ledger.AddToFormation(lone.ID, a.ID, 6, true))
	assert.InDelta(t, -6, lone.DealValue, 1e-9)
	assert.Equal(t, domain.StateCommitted, lone.State)
	assert.Len(t, lone.Mates, 2)
}

func TestAddToFormationDelegatesToStart(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{0, 0}, orb.Point{0, 300})
	b := h.add(t, orb.Point{10, 0}, orb.Point{10, 300})

	require.NoError(t, h.ledger.AddToFormation(a.ID, b.ID, 3, true))
	assert.InDelta(t, 3, a.DealValue, 1e-9)
	assert.Equal(t, domain.EventFormationStarted, h.events.events[0].Type)
}

func TestAddToFormationBusy(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{0, 0}, orb.Point{0, 300})
	b := h.add(t, orb.Point{10, 0}, orb.Point{10, 300})
	c := h.add(t, orb.Point{30, 0}, orb.Point{30, 300})
	require.NoError(t, h.ledger.StartFormation(a.ID, b.ID, 1, true))
	require.Equal(t, domain.StateCommitted, a.State)

	err := h.ledger.AddToFormation(a.ID, c.ID, 1, true)
	assert.True(t, errors.Is(err, domain.ErrFormationBusy))
	assert.False(t, domain.IsInvariantViolation(err))
	assert.Empty(t, c.Mates)
}

func TestDissolveClearsEveryMember(t *testing.T) {
	h := newHarness()
	a, b := h.formation(t, 0)
	a.Counters.EstimatedFuelSaved = 1

	require.NoError(t, h.ledger.Dissolve(b.ID))
	for _, f := range []*domain.Flight{a, b} {
		assert.Equal(t, domain.StateNoFormation, f.State)
		assert.Empty(t, f.Mates)
	}
	assert.True(t, a.AcceptingBids, "manager accepts bids again")
	assert.False(t, b.AcceptingBids)

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, domain.EventFormationDissolved, last.Type)
	assert.Equal(t, 2.0, last.Value)

	require.NoError(t, h.ledger.Dissolve(a.ID), "no formation left to dissolve")
}

func TestUnknownFlight(t *testing.T) {
	h := newHarness()
	a := h.add(t, orb.Point{0, 0}, orb.Point{0, 300})
	err := h.ledger.StartFormation(a.ID, 42, 1, true)
	assert.True(t, errors.Is(err, domain.ErrFlightNotFound))
}
