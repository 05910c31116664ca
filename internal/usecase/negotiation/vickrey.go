package negotiation

import (
	"math"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/utility"
)

// secondPrice is a sealed-bid Vickrey auction on the Contract-Net machinery.
// Contractors bid their true maximum; the highest bid wins and pays the
// second-highest bid, never less than the reserve price.
type secondPrice struct{ params Params }

func (p secondPrice) offer(env *Env, f, manager *domain.Flight) (float64, float64, bool, error) {
	fuel, delay, err := env.outlook(f, manager)
	if err != nil {
		return 0, 0, false, err
	}
	value, err := utility.MaxBid(fuel, delay, f.Behavior, 0)
	if err != nil {
		return 0, 0, false, err
	}
	ok := value > 0 && value >= p.params.ReservePrice
	return value, value, ok, nil
}

func (p secondPrice) settle(_ *Env, _ *domain.Flight, bids []domain.Bid) (int, float64, bool, error) {
	best := -1
	for i, b := range bids {
		if best < 0 || b.Value > bids[best].Value {
			best = i
		}
	}
	if best < 0 || bids[best].Value < p.params.ReservePrice {
		return 0, 0, false, nil
	}
	second := math.Inf(-1)
	for i, b := range bids {
		if i != best {
			second = math.Max(second, b.Value)
		}
	}
	return best, math.Max(second, p.params.ReservePrice), true, nil
}
