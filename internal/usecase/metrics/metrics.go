// Package metrics folds the event log into run totals and summarises the
// per-flight indicators.
package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"formation-flying/internal/domain"
)

// Totals are the model-level reporters of one run.
type Totals struct {
	Steps                  int     `json:"steps"`
	TotalFuel              float64 `json:"total_fuel"`
	PlannedFuel            float64 `json:"planned_fuel"`
	NewFormations          int     `json:"new_formations"`
	AddedToFormations      int     `json:"added_to_formations"`
	FuelSavingsClosedDeals float64 `json:"fuel_savings_closed_deals"`
	RealFuelSaved          float64 `json:"real_fuel_saved"`
	DealValue              float64 `json:"deal_value"`
	FlightTime             int     `json:"flight_time"`
	Arrived                int     `json:"arrived"`
	Closures               int     `json:"closures"`
	Reroutes               int     `json:"reroutes"`
}

// Aggregator accumulates Totals from events. It is not safe for concurrent
// use.
type Aggregator struct {
	totals Totals
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator { return &Aggregator{} }

// Fold adds one tick worth of events to the totals.
func (a *Aggregator) Fold(events []domain.Event) {
	a.totals.Steps++
	for _, e := range events {
		a.apply(e)
	}
}

func (a *Aggregator) apply(e domain.Event) {
	t := &a.totals
	switch e.Type {
	case domain.EventFlightScheduled:
		t.PlannedFuel += e.Value
	case domain.EventFuelBurned:
		t.TotalFuel += e.Value
		t.FlightTime++
	case domain.EventFormationStarted:
		t.NewFormations++
		t.FuelSavingsClosedDeals += e.Value
	case domain.EventFormationJoined:
		t.AddedToFormations++
		t.FuelSavingsClosedDeals += e.Value
	case domain.EventBidAccepted:
		t.DealValue += e.Price
	case domain.EventFlightArrived:
		t.Arrived++
		t.RealFuelSaved += e.Value
	case domain.EventAirportClosed:
		t.Closures++
	case domain.EventFlightRerouted:
		t.Reroutes++
		t.PlannedFuel += e.Value
	}
}

// Totals returns the totals folded so far.
func (a *Aggregator) Totals() Totals { return a.totals }

// FlightResult is the set of indicators reported for one flight.
type FlightResult struct {
	Flight   domain.FlightID `json:"flight"`
	Behavior domain.Behavior `json:"behavior"`
	Arrived  bool            `json:"arrived"`
	Deal     float64         `json:"deal_value"`
	domain.Counters
}

// Results extracts the indicators of every flight in order.
func Results(flights []*domain.Flight) []FlightResult {
	out := make([]FlightResult, 0, len(flights))
	for _, f := range flights {
		out = append(out, FlightResult{
			Flight:   f.ID,
			Behavior: f.Behavior,
			Arrived:  f.Lifecycle == domain.LifecycleArrived,
			Deal:     f.DealValue,
			Counters: f.Counters,
		})
	}
	return out
}

// Summary describes the spread of per-flight outcomes over arrived flights.
type Summary struct {
	Flights           int     `json:"flights"`
	Arrived           int     `json:"arrived"`
	InFormation       int     `json:"in_formation"`
	MeanFuelSaved     float64 `json:"mean_fuel_saved"`
	StdDevFuelSaved   float64 `json:"stddev_fuel_saved"`
	MeanDelay         float64 `json:"mean_delay"`
	StdDevDelay       float64 `json:"stddev_delay"`
	FormationDistance float64 `json:"formation_distance"`
	SavingRatio       float64 `json:"saving_ratio"`
}

// Summarize computes a Summary. Flights that flew in a formation at some
// point count towards InFormation.
func Summarize(results []FlightResult) Summary {
	s := Summary{Flights: len(results)}
	var saved, delay, planned, distance []float64
	for _, r := range results {
		distance = append(distance, r.DistanceInFormation)
		if r.DistanceInFormation > 0 {
			s.InFormation++
		}
		if !r.Arrived {
			continue
		}
		s.Arrived++
		saved = append(saved, r.RealFuelSaved)
		delay = append(delay, r.Delay)
		planned = append(planned, r.PlannedFuel)
	}
	if len(distance) > 0 {
		s.FormationDistance = floats.Sum(distance)
	}
	switch len(saved) {
	case 0:
		return s
	case 1:
		s.MeanFuelSaved, s.MeanDelay = saved[0], delay[0]
	default:
		s.MeanFuelSaved, s.StdDevFuelSaved = stat.MeanStdDev(saved, nil)
		s.MeanDelay, s.StdDevDelay = stat.MeanStdDev(delay, nil)
	}
	if p := floats.Sum(planned); p > 0 {
		s.SavingRatio = floats.Sum(saved) / p
	}
	return s
}
