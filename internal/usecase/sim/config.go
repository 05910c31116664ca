package sim

import (
	"github.com/paulmach/orb"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/geometry"
	"formation-flying/internal/usecase/negotiation"
)

// Config is everything a run needs. Areas are fractions of Width and Height.
type Config struct {
	Method      domain.Method
	Negotiation negotiation.Params
	Seed        int64

	Flights             int
	OriginAirports      int
	DestinationAirports int
	Width               float64
	Height              float64
	OriginArea          orb.Bound
	DestinationArea     orb.Bound
	// ClosureTicks are assigned to destination airports in creation order;
	// zero keeps an airport open.
	ClosureTicks []int

	Speed           float64
	CommRange       float64
	DepartureWindow int
	Discount        float64
	Samples         int
	BehaviorWeights map[domain.Behavior]float64
	Reroute         bool

	MaxTicks int
}

// DefaultConfig is the standard scenario: 50 flights between 20
// origin and 20 destination airports on a 750 by 750 plane.
func DefaultConfig() Config {
	return Config{
		Method:              domain.MethodCNP,
		Negotiation:         negotiation.DefaultParams(),
		Seed:                1,
		Flights:             50,
		OriginAirports:      20,
		DestinationAirports: 20,
		Width:               750,
		Height:              750,
		OriginArea:          orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{0.2, 0.2}},
		DestinationArea:     orb.Bound{Min: orb.Point{0.8, 0.8}, Max: orb.Point{1, 1}},
		Speed:               0.25,
		CommRange:           200,
		DepartureWindow:     3,
		Discount:            geometry.DefaultDiscount,
		Samples:             geometry.DefaultSamples,
		BehaviorWeights:     map[domain.Behavior]float64{domain.BehaviorBudget: 1},
		MaxTicks:            100000,
	}
}
