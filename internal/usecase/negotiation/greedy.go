package negotiation

import "formation-flying/internal/domain"

// greedy has no bidding: a free contractor joins the first accepting
// neighbour that makes the pair save fuel, paying the whole saving.
type greedy struct {
	params Params
}

func newGreedy(p Params) *greedy { return &greedy{params: p} }

func (g *greedy) Method() domain.Method { return domain.MethodGreedy }

func (g *greedy) Assign(env *Env, f *domain.Flight) {
	if env.Rand.Float64() < g.params.ManagerRatio {
		f.Promote()
		return
	}
	f.Demote()
}

func (g *greedy) ElectRole(*Env, *domain.Flight) error { return nil }

// OnManagerTick does nothing; greedy managers only wait to be joined.
func (g *greedy) OnManagerTick(*Env, *domain.Flight) error { return nil }

func (g *greedy) OnContractorTick(env *Env, f *domain.Flight) error {
	if !f.IsFree() {
		return nil
	}
	for _, n := range env.Fleet.Neighbors(f, false) {
		if !n.AcceptingBids || n.IsJoining() {
			continue
		}
		savings, err := env.Calc.PotentialFuelSavings(f, n, false)
		if err != nil {
			return err
		}
		if savings <= 0 {
			continue
		}
		if err := env.commit(n, f, savings); err != nil {
			if retryable(err) {
				continue
			}
			return err
		}
		return nil
	}
	return nil
}
