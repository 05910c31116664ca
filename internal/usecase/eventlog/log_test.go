package eventlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formation-flying/internal/domain"
)

type sink struct{ got []domain.Event }

func (s *sink) Emit(e domain.Event) { s.got = append(s.got, e) }

func TestEmitStampsTickAndForwards(t *testing.T) {
	fwd := &sink{}
	l := New(fwd)
	l.SetTick(7)
	l.Emit(domain.Event{Type: domain.EventFormationStarted, Flight: 1, Peer: 2, Tick: 99})

	require.Equal(t, 1, l.Len())
	assert.Equal(t, 7, l.Entries()[0].Tick)
	require.Len(t, fwd.got, 1)
	assert.Equal(t, 7, fwd.got[0].Tick)
}

func TestQueries(t *testing.T) {
	l := New()
	for tick, ev := range []domain.Event{
		{Type: domain.EventBidPlaced, Flight: 1, Peer: 0, Price: 3},
		{Type: domain.EventBidPlaced, Flight: 2, Peer: 0, Price: 4},
		{Type: domain.EventBidAccepted, Flight: 0, Peer: 2, Price: 4},
		{Type: domain.EventFuelBurned, Flight: 1, Peer: domain.NoFlight, Value: 5},
	} {
		l.SetTick(tick)
		l.Emit(ev)
	}

	assert.Len(t, l.Filter(), 4)
	assert.Len(t, l.Filter(domain.EventBidPlaced, domain.EventBidAccepted), 3)
	assert.Equal(t, 2, l.Count(domain.EventBidPlaced))
	assert.Len(t, l.FilterFlight(2), 2)
	assert.Len(t, l.FilterTickRange(1, 2), 2)
	assert.Len(t, l.Since(3), 1)
	assert.Empty(t, l.Since(4))

	last, ok := l.LastOf(domain.EventBidPlaced)
	require.True(t, ok)
	assert.Equal(t, domain.FlightID(2), last.Flight)
	_, ok = l.LastOf(domain.EventAuctionClosed)
	assert.False(t, ok)
}

func TestLine(t *testing.T) {
	line := Line(domain.Event{Tick: 42, Type: domain.EventBidPlaced, Flight: 3, Peer: 1, Price: 12.5})
	assert.Contains(t, line, "[T=042]")
	assert.Contains(t, line, "flight-3")
	assert.Contains(t, line, "-> flight-1")
	assert.Contains(t, line, "price=12.50")

	solo := Line(domain.Event{Type: domain.EventRoleDemoted, Flight: 3, Peer: domain.NoFlight, Detail: "window expired"})
	assert.NotContains(t, solo, "->")
	assert.Contains(t, solo, "(window expired)")

	l := New()
	l.Emit(domain.Event{Type: domain.EventAirportClosed, Peer: domain.NoFlight})
	l.Emit(domain.Event{Type: domain.EventAirportClosed, Peer: domain.NoFlight})
	assert.Equal(t, 2, strings.Count(l.Format(), "\n"))
}
