package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"formation-flying/internal/domain"
)

func TestAggregatorFold(t *testing.T) {
	a := NewAggregator()
	a.Fold([]domain.Event{
		{Type: domain.EventFlightScheduled, Value: 100},
		{Type: domain.EventFlightScheduled, Value: 50},
		{Type: domain.EventFuelBurned, Value: 2},
		{Type: domain.EventFuelBurned, Value: 1.5},
	})
	a.Fold([]domain.Event{
		{Type: domain.EventFormationStarted, Value: 12},
		{Type: domain.EventBidAccepted, Price: 4},
		{Type: domain.EventFormationJoined, Value: 3},
		{Type: domain.EventFlightArrived, Value: 9},
		{Type: domain.EventAirportClosed},
		{Type: domain.EventFlightRerouted, Value: 20},
		{Type: domain.EventBidPlaced, Price: 99},
	})

	got := a.Totals()
	assert.Equal(t, 2, got.Steps)
	assert.InDelta(t, 170, got.PlannedFuel, 1e-9)
	assert.InDelta(t, 3.5, got.TotalFuel, 1e-9)
	assert.Equal(t, 2, got.FlightTime)
	assert.Equal(t, 1, got.NewFormations)
	assert.Equal(t, 1, got.AddedToFormations)
	assert.InDelta(t, 15, got.FuelSavingsClosedDeals, 1e-9)
	assert.InDelta(t, 4, got.DealValue, 1e-9)
	assert.InDelta(t, 9, got.RealFuelSaved, 1e-9)
	assert.Equal(t, 1, got.Arrived)
	assert.Equal(t, 1, got.Closures)
	assert.Equal(t, 1, got.Reroutes)
}

func TestSummarize(t *testing.T) {
	results := []FlightResult{
		{Flight: 0, Arrived: true, Counters: domain.Counters{RealFuelSaved: 10, Delay: 1, PlannedFuel: 100, DistanceInFormation: 40}},
		{Flight: 1, Arrived: true, Counters: domain.Counters{RealFuelSaved: 20, Delay: 3, PlannedFuel: 100, DistanceInFormation: 40}},
		{Flight: 2, Arrived: false, Counters: domain.Counters{PlannedFuel: 100}},
	}
	s := Summarize(results)

	assert.Equal(t, 3, s.Flights)
	assert.Equal(t, 2, s.Arrived)
	assert.Equal(t, 2, s.InFormation)
	assert.InDelta(t, 15, s.MeanFuelSaved, 1e-9)
	assert.InDelta(t, 7.0710678, s.StdDevFuelSaved, 1e-6)
	assert.InDelta(t, 2, s.MeanDelay, 1e-9)
	assert.InDelta(t, 80, s.FormationDistance, 1e-9)
	assert.InDelta(t, 0.15, s.SavingRatio, 1e-9)
}

func TestSummarizeEmptyAndSingle(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	s := Summarize([]FlightResult{{Arrived: true, Counters: domain.Counters{RealFuelSaved: 5, Delay: 2, PlannedFuel: 50}}})
	assert.InDelta(t, 5, s.MeanFuelSaved, 1e-9)
	assert.Zero(t, s.StdDevFuelSaved)
	assert.InDelta(t, 0.1, s.SavingRatio, 1e-9)
}

func TestResults(t *testing.T) {
	a := &domain.Airport{ID: 0}
	f := domain.NewFlight(0, [2]float64{0, 0}, a, 1, 0, 10, domain.BehaviorGreen)
	f.DealValue = -3
	f.Lifecycle = domain.LifecycleArrived

	got := Results([]*domain.Flight{f})
	assert.Len(t, got, 1)
	assert.Equal(t, domain.BehaviorGreen, got[0].Behavior)
	assert.True(t, got[0].Arrived)
	assert.InDelta(t, -3, got[0].Deal, 1e-9)
}
