package negotiation

import (
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/fleet"
	"formation-flying/internal/usecase/geometry"
	"formation-flying/internal/usecase/ledger"
)

type recorder struct{ events []domain.Event }

func (r *recorder) Emit(e domain.Event) { r.events = append(r.events, e) }

func (r *recorder) of(typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	env      *Env
	protocol Protocol
	events   *recorder
}

func newHarness(t *testing.T, method domain.Method, p Params) *harness {
	t.Helper()
	f := fleet.New()
	calc := geometry.New(0.75, 100)
	rec := &recorder{}
	proto, err := New(method, p)
	require.NoError(t, err)
	return &harness{
		env: &Env{
			Fleet:  f,
			Ledger: ledger.New(f, calc, rec),
			Calc:   calc,
			Rand:   rand.New(rand.NewSource(1)),
			Sink:   rec,
		},
		protocol: proto,
		events:   rec,
	}
}

// add creates a flying flight heading north from pos and lets the protocol
// assign its role.
func (h *harness) add(t *testing.T, x float64) *domain.Flight {
	t.Helper()
	a := h.env.Fleet.AddAirport(orb.Point{x, 300}, domain.AirportDestination, 0)
	fl := domain.NewFlight(h.env.Fleet.NextFlightID(), orb.Point{x, 0}, a, 5, 0, 200, domain.BehaviorBalanced)
	fl.Lifecycle = domain.LifecycleFlying
	require.NoError(t, h.env.Fleet.AddFlight(fl))
	h.protocol.Assign(h.env, fl)
	return fl
}

// tick runs one negotiate phase over every flight in creation order.
func (h *harness) tick(t *testing.T, tick int) {
	t.Helper()
	h.env.Tick = tick
	for _, fl := range h.env.Fleet.Flights() {
		require.NoError(t, Negotiate(h.env, h.protocol, fl))
	}
}

func TestNewUnknownMethod(t *testing.T) {
	_, err := New(domain.Method(9), DefaultParams())
	assert.ErrorIs(t, err, domain.ErrUnknownMethod)
}

func TestNewBuildsEveryMethod(t *testing.T) {
	for _, m := range []domain.Method{
		domain.MethodGreedy, domain.MethodCNP, domain.MethodEnglish, domain.MethodVickrey, domain.MethodJapanese,
	} {
		p, err := New(m, DefaultParams())
		require.NoError(t, err)
		assert.Equal(t, m, p.Method())
	}
}

func TestNegotiateSkipsGroundedFlights(t *testing.T) {
	h := newHarness(t, domain.MethodGreedy, DefaultParams())
	a := h.add(t, 0)
	b := h.add(t, 10)
	a.Promote()
	b.Demote()
	b.Lifecycle = domain.LifecycleScheduled

	h.tick(t, 0)
	assert.False(t, a.HasMates())
	assert.Empty(t, h.events.events)
}

func TestGreedyMergesNeighbours(t *testing.T) {
	h := newHarness(t, domain.MethodGreedy, DefaultParams())
	a := h.add(t, 0)
	b := h.add(t, 10)
	a.Promote()
	b.Demote()

	h.tick(t, 0)

	assert.Equal(t, []domain.FlightID{b.ID}, a.Mates)
	assert.Equal(t, []domain.FlightID{a.ID}, b.Mates)
	assert.Greater(t, a.Counters.EstimatedFuelSaved, 0.0)
	assert.Greater(t, b.Counters.EstimatedFuelSaved, 0.0)
	assert.Greater(t, a.DealValue, 0.0)
	assert.InDelta(t, -a.DealValue, b.DealValue, 1e-9)

	accepted := h.events.of(domain.EventBidAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, a.ID, accepted[0].Flight)
	assert.Equal(t, b.ID, accepted[0].Peer)
}

func TestGreedyContractorsStayApart(t *testing.T) {
	h := newHarness(t, domain.MethodGreedy, DefaultParams())
	a := h.add(t, 0)
	b := h.add(t, 10)
	a.Demote()
	b.Demote()

	h.tick(t, 0)
	assert.False(t, a.HasMates())
	assert.False(t, b.HasMates())
}

func TestGreedySkipsMidMergeManager(t *testing.T) {
	h := newHarness(t, domain.MethodGreedy, DefaultParams())
	a := h.add(t, 0)
	b := h.add(t, 10)
	c := h.add(t, 20)
	a.Promote()
	b.Demote()
	c.Demote()

	h.tick(t, 0)

	// b joined a first; a is committed and no longer takes bids.
	assert.Equal(t, []domain.FlightID{b.ID}, a.Mates)
	assert.False(t, c.HasMates())
}
