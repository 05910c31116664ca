package negotiation

import (
	"slices"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/utility"
)

// invite is an auction a contractor was told about, starting at start.
type invite struct {
	manager domain.FlightID
	start   int
}

type offerRecord struct {
	bidder domain.FlightID
	price  float64
}

var noOffer = offerRecord{bidder: domain.NoFlight}

// auctionSession holds both sides of an open-cry auction for one flight.
type auctionSession struct {
	// Manager side.
	scheduled bool
	running   bool
	start     int
	openedAt  int
	reserve   float64
	price     float64
	bidders   []domain.FlightID
	dropped   []domain.FlightID
	// leading is the best exit bid (Japanese) or the standing bid (English).
	leading    offerRecord
	raises     int
	seenRaises int

	// Contractor side.
	invites       []invite
	favoured      domain.FlightID
	favouredScore float64
	favouredStart int
	current       domain.FlightID
}

func newAuctionSession() *auctionSession {
	return &auctionSession{leading: noOffer, favoured: domain.NoFlight, current: domain.NoFlight}
}

func (s *auctionSession) clearContractor() {
	s.invites = nil
	s.favoured, s.favouredScore, s.favouredStart = domain.NoFlight, 0, 0
	s.current = domain.NoFlight
}

// auctionHouse is the session shape shared by the English and Japanese
// auctions: a joining window opened by a manager, entry by contractors at
// the last tick before it closes, and an ascending phase decided by the
// concrete auction.
type auctionHouse struct {
	params   Params
	sessions map[domain.FlightID]*auctionSession
}

func newAuctionHouse(p Params) auctionHouse {
	return auctionHouse{params: p, sessions: make(map[domain.FlightID]*auctionSession)}
}

func (h *auctionHouse) session(id domain.FlightID) *auctionSession {
	s, ok := h.sessions[id]
	if !ok {
		s = newAuctionSession()
		h.sessions[id] = s
	}
	return s
}

func (h *auctionHouse) reset(id domain.FlightID) { h.sessions[id] = newAuctionSession() }

// assign promotes a new flight with PromoteProbability.
func (h *auctionHouse) assign(env *Env, f *domain.Flight) {
	h.reset(f.ID)
	if env.Rand.Float64() < h.params.PromoteProbability {
		f.Promote()
		return
	}
	f.Demote()
}

func (h *auctionHouse) promote(env *Env, f *domain.Flight) {
	env.promote(f)
	h.reset(f.ID)
}

func (h *auctionHouse) demote(env *Env, f *domain.Flight, reason string) {
	env.demote(f, reason)
	h.reset(f.ID)
}

// reservePrice is the lowest price the manager would accept from the
// neighbour it gains most from, floored at MinReserve. Without a dynamic
// reserve the static price is used.
func (h *auctionHouse) reservePrice(env *Env, m *domain.Flight) (float64, error) {
	if !h.params.DynamicReserve {
		return h.params.StaticReserve, nil
	}
	bestScore := 0.0
	var bestFuel, bestDelay float64
	found := false
	for _, n := range env.freeContractors(m) {
		fuel, delay, err := env.outlook(m, n)
		if err != nil {
			return 0, err
		}
		score, err := utility.MaxUtility(fuel, delay, m.Behavior)
		if err != nil {
			return 0, err
		}
		if score > bestScore {
			bestScore, bestFuel, bestDelay, found = score, fuel, delay, true
		}
	}
	if !found {
		return h.params.MinReserve, nil
	}
	r, err := utility.MinPayment(bestFuel, bestDelay, m.Behavior, len(m.Mates)+1)
	if err != nil {
		return 0, err
	}
	return max(r, h.params.MinReserve), nil
}

// callForBidders schedules the auction on first call and invites every free
// contractor in range that has not been invited yet.
func (h *auctionHouse) callForBidders(env *Env, m *domain.Flight) error {
	s := h.session(m.ID)
	if !s.scheduled {
		reserve, err := h.reservePrice(env, m)
		if err != nil {
			return err
		}
		s.scheduled = true
		s.start = env.Tick + h.params.AuctionWindow
		s.reserve, s.price = reserve, reserve
		m.AcceptingBids = false
		env.emit(domain.Event{Type: domain.EventAuctionOpened, Flight: m.ID, Peer: domain.NoFlight, Value: reserve})
	}
	for _, n := range env.freeContractors(m) {
		ns := h.session(n.ID)
		if !slices.ContainsFunc(ns.invites, func(inv invite) bool { return inv.manager == m.ID }) {
			ns.invites = append(ns.invites, invite{manager: m.ID, start: s.start})
		}
	}
	return nil
}

// managerPhase runs the joining window. It reports true when the ascending
// phase is under way and the concrete auction should act.
func (h *auctionHouse) managerPhase(env *Env, m *domain.Flight) (bool, error) {
	if m.IsJoining() {
		return false, nil
	}
	s := h.session(m.ID)
	if !s.scheduled || s.start > env.Tick {
		if err := h.callForBidders(env, m); err != nil {
			return false, err
		}
	}
	if !s.running && env.Tick >= s.start {
		if len(s.bidders) == 0 {
			env.emit(domain.Event{Type: domain.EventWindowExpired, Flight: m.ID, Peer: domain.NoFlight})
			h.demote(env, m, "no bidders entered")
			return false, nil
		}
		s.running = true
		s.openedAt = env.Tick
		s.leading = noOffer
		s.dropped = nil
		m.AcceptingBids = true
	}
	return s.running, nil
}

// contractorPhase lets a free contractor pick and enter an auction. It
// returns the manager of the running auction f takes part in, or nil.
func (h *auctionHouse) contractorPhase(env *Env, f *domain.Flight) (*domain.Flight, error) {
	s := h.session(f.ID)
	if !f.IsFree() {
		s.clearContractor()
		return nil, nil
	}
	if s.current != domain.NoFlight {
		m := env.Fleet.Flight(s.current)
		ms := h.session(s.current)
		if m == nil || m.Role != domain.RoleManager || !ms.scheduled || !slices.Contains(ms.bidders, f.ID) {
			s.clearContractor()
			return nil, nil
		}
		if ms.running {
			return m, nil
		}
		return nil, nil
	}

	s.invites = slices.DeleteFunc(s.invites, func(inv invite) bool {
		m := env.Fleet.Flight(inv.manager)
		ms := h.session(inv.manager)
		return inv.start <= env.Tick || m == nil || m.Role != domain.RoleManager ||
			!ms.scheduled || ms.start != inv.start
	})
	if s.favoured != domain.NoFlight &&
		!slices.ContainsFunc(s.invites, func(inv invite) bool { return inv.manager == s.favoured }) {
		s.favoured, s.favouredScore, s.favouredStart = domain.NoFlight, 0, 0
	}
	for _, inv := range s.invites {
		m := env.Fleet.Flight(inv.manager)
		fuel, delay, err := env.outlook(f, m)
		if err != nil {
			return nil, err
		}
		score, err := utility.Score(fuel-h.session(m.ID).price, fuel, delay, f.Behavior)
		if err != nil {
			return nil, err
		}
		switch {
		case score > s.favouredScore:
			s.favoured, s.favouredScore, s.favouredStart = m.ID, score, inv.start
		case s.favoured == m.ID:
			s.favouredScore = score
		}
	}

	if s.favoured == domain.NoFlight {
		if env.Rand.Float64() < h.params.PromoteProbability {
			h.promote(env, f)
		}
		return nil, nil
	}
	// Enter as late as possible in case a better auction shows up.
	if env.Tick == s.favouredStart-1 {
		ms := h.session(s.favoured)
		if env.Tick < ms.start && !slices.Contains(ms.dropped, f.ID) {
			ms.bidders = append(ms.bidders, f.ID)
			s.current = s.favoured
			env.emit(domain.Event{Type: domain.EventAuctionEntered, Flight: f.ID, Peer: s.favoured, Value: ms.price})
		}
		s.invites = nil
		s.favoured, s.favouredScore, s.favouredStart = domain.NoFlight, 0, 0
	}
	return nil, nil
}

// leave removes bidder from m's auction.
func (h *auctionHouse) leave(env *Env, m, bidder domain.FlightID, bid float64) {
	ms := h.session(m)
	ms.bidders = slices.DeleteFunc(ms.bidders, func(id domain.FlightID) bool { return id == bidder })
	ms.dropped = append(ms.dropped, bidder)
	h.session(bidder).clearContractor()
	env.emit(domain.Event{Type: domain.EventAuctionExited, Flight: bidder, Peer: m, Price: bid})
}

// settle sells to winner at price. An active bidder must still be free and
// bound to this auction; anything else means it was accepted twice.
func (h *auctionHouse) settle(env *Env, m *domain.Flight, winner domain.FlightID, price float64, active bool) error {
	w := env.Fleet.Flight(winner)
	if active && (w == nil || !w.IsFree() || h.session(winner).current != m.ID) {
		return domain.NewDomainError("auction.settle", domain.ErrDoubleAcceptance,
			winner.String()+" is no longer available to "+m.ID.String())
	}
	if err := env.commit(m, w, price); err != nil {
		if retryable(err) {
			return nil
		}
		return err
	}
	env.emit(domain.Event{Type: domain.EventAuctionClosed, Flight: m.ID, Peer: w.ID, Price: price})
	h.reset(m.ID)
	h.session(w.ID).clearContractor()
	return nil
}
