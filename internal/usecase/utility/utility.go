// Package utility scores negotiation outcomes under the fixed behavior
// profiles.
package utility

import (
	"math"

	"formation-flying/internal/domain"
)

// Weights are the linear coefficients of one behavior profile.
type Weights struct {
	Profit    float64
	FuelSaved float64
	Delay     float64
}

var table = map[domain.Behavior]Weights{
	domain.BehaviorBudget:   {Profit: 4, FuelSaved: 1, Delay: -1},
	domain.BehaviorGreen:    {Profit: 1, FuelSaved: 4, Delay: -1},
	domain.BehaviorExpress:  {Profit: 1, FuelSaved: 1, Delay: -4},
	domain.BehaviorBalanced: {Profit: 2, FuelSaved: 2, Delay: -2},
}

// WeightsOf returns the weights for b.
func WeightsOf(b domain.Behavior) (Weights, error) {
	w, ok := table[b]
	if !ok {
		return Weights{}, domain.NewDomainError("utility.WeightsOf", domain.ErrUnknownBehavior, string(b))
	}
	return w, nil
}

// Score returns profit·w_p + fuelSaved·w_f + delay·w_d for behavior b.
func Score(profit, fuelSaved, delay float64, b domain.Behavior) (float64, error) {
	w, err := WeightsOf(b)
	if err != nil {
		return 0, err
	}
	return w.score(profit, fuelSaved, delay), nil
}

// MustScore is Score for behaviors that were validated at flight creation.
// It panics on an unknown behavior.
func MustScore(profit, fuelSaved, delay float64, b domain.Behavior) float64 {
	s, err := Score(profit, fuelSaved, delay, b)
	if err != nil {
		panic(err)
	}
	return s
}

func (w Weights) score(profit, fuelSaved, delay float64) float64 {
	return profit*w.Profit + fuelSaved*w.FuelSaved + delay*w.Delay
}

// MaxUtility is the score of saving fuelSaved without paying anything.
func MaxUtility(fuelSaved, delay float64, b domain.Behavior) (float64, error) {
	return Score(fuelSaved, fuelSaved, delay, b)
}

// MaxBid returns the highest price x for which paying x still scores at
// least floor: Score(fuelSaved-x, fuelSaved, delay) >= floor.
func MaxBid(fuelSaved, delay float64, b domain.Behavior, floor float64) (float64, error) {
	w, err := WeightsOf(b)
	if err != nil {
		return 0, err
	}
	return (w.score(fuelSaved, fuelSaved, delay) - floor) / w.Profit, nil
}

// MinPayment returns the lowest non-negative price R such that receiving an
// equal share R/shares scores at least zero.
func MinPayment(fuelSaved, delay float64, b domain.Behavior, shares int) (float64, error) {
	w, err := WeightsOf(b)
	if err != nil {
		return 0, err
	}
	if shares < 1 {
		shares = 1
	}
	deficit := -w.score(fuelSaved, fuelSaved, delay)
	return math.Max(0, float64(shares)*deficit/w.Profit), nil
}
