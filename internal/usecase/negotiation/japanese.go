package negotiation

import (
	"slices"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/utility"
)

// japanese is an ascending clock auction. The manager raises a displayed
// price every tick; bidders leave once their utility at that price drops
// under a fraction of their best case and nobody can come back in.
type japanese struct {
	auctionHouse
}

func newJapanese(p Params) *japanese { return &japanese{auctionHouse: newAuctionHouse(p)} }

func (j *japanese) Method() domain.Method { return domain.MethodJapanese }

func (j *japanese) Assign(env *Env, f *domain.Flight) { j.assign(env, f) }

func (j *japanese) ElectRole(*Env, *domain.Flight) error { return nil }

func (j *japanese) OnManagerTick(env *Env, m *domain.Flight) error {
	ready, err := j.managerPhase(env, m)
	if err != nil || !ready {
		return err
	}
	s := j.session(m.ID)
	switch {
	case len(s.bidders) > 1 && env.Tick-s.openedAt >= j.params.AuctionWindow:
		winner := slices.Min(s.bidders)
		env.logger().Debug("clock auction capped", "manager", m.ID, "winner", winner, "price", s.price)
		return j.settle(env, m, winner, s.price, true)
	case len(s.bidders) > 1:
		s.price += j.params.RaiseFraction * s.reserve
		env.emit(domain.Event{Type: domain.EventAuctionRaised, Flight: m.ID, Peer: domain.NoFlight, Price: s.price})
		return nil
	case len(s.bidders) == 1:
		return j.settle(env, m, s.bidders[0], s.price, true)
	case s.leading.bidder != domain.NoFlight:
		w := env.Fleet.Flight(s.leading.bidder)
		if w != nil && w.IsFree() && j.session(w.ID).current == domain.NoFlight {
			return j.settle(env, m, w.ID, s.leading.price, false)
		}
	}
	j.demote(env, m, "all bidders exited")
	return nil
}

func (j *japanese) OnContractorTick(env *Env, f *domain.Flight) error {
	m, err := j.contractorPhase(env, f)
	if err != nil || m == nil {
		return err
	}
	ms := j.session(m.ID)
	fuel, delay, err := env.outlook(f, m)
	if err != nil {
		return err
	}
	best, err := utility.MaxUtility(fuel, delay, f.Behavior)
	if err != nil {
		return err
	}
	floor := best * j.params.MinBidUtilityFraction
	score, err := utility.Score(fuel-ms.price, fuel, delay, f.Behavior)
	if err != nil {
		return err
	}
	if score >= floor {
		return nil
	}
	exit, err := utility.MaxBid(fuel, delay, f.Behavior, floor)
	if err != nil {
		return err
	}
	if exit > ms.leading.price {
		ms.leading = offerRecord{bidder: f.ID, price: exit}
	}
	j.leave(env, m.ID, f.ID, exit)
	return nil
}
