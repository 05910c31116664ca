package negotiation

import (
	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/utility"
)

// english is an open ascending-bid auction. Bidders outbid the standing bid
// by a fixed step of the reserve while it stays under their maximum bid;
// the manager sells once a whole tick goes by without a raise.
type english struct {
	auctionHouse
}

func newEnglish(p Params) *english { return &english{auctionHouse: newAuctionHouse(p)} }

func (e *english) Method() domain.Method { return domain.MethodEnglish }

func (e *english) Assign(env *Env, f *domain.Flight) { e.assign(env, f) }

func (e *english) ElectRole(*Env, *domain.Flight) error { return nil }

func (e *english) OnManagerTick(env *Env, m *domain.Flight) error {
	ready, err := e.managerPhase(env, m)
	if err != nil || !ready {
		return err
	}
	s := e.session(m.ID)
	if env.Tick == s.openedAt {
		s.seenRaises = s.raises
		return nil
	}
	quiet := s.raises == s.seenRaises
	if !quiet && env.Tick-s.openedAt < e.params.AuctionWindow {
		s.seenRaises = s.raises
		return nil
	}
	if s.leading.bidder == domain.NoFlight {
		e.demote(env, m, "no bids")
		return nil
	}
	return e.settle(env, m, s.leading.bidder, s.leading.price, true)
}

func (e *english) OnContractorTick(env *Env, f *domain.Flight) error {
	m, err := e.contractorPhase(env, f)
	if err != nil || m == nil {
		return err
	}
	ms := e.session(m.ID)
	if ms.leading.bidder == f.ID {
		return nil
	}
	fuel, delay, err := env.outlook(f, m)
	if err != nil {
		return err
	}
	limit, err := utility.MaxBid(fuel, delay, f.Behavior, 0)
	if err != nil {
		return err
	}
	next := ms.reserve
	if ms.leading.bidder != domain.NoFlight {
		next = ms.price + e.params.RaiseFraction*ms.reserve
	}
	if next > limit {
		e.leave(env, m.ID, f.ID, limit)
		return nil
	}
	ms.price = next
	ms.leading = offerRecord{bidder: f.ID, price: next}
	ms.raises++
	env.emit(domain.Event{Type: domain.EventBidPlaced, Flight: f.ID, Peer: m.ID, Price: next})
	return nil
}
