package negotiation

import (
	"math"
	"slices"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/utility"
)

// call is an invitation to bid, valid until its deadline tick.
type call struct {
	manager  domain.FlightID
	deadline int
}

// report is a free-neighbour count received during an election.
type report struct {
	tick  int
	count int
}

type cnpSession struct {
	started bool
	reports []report
	inReach []domain.FlightID

	// windowEnd is the last tick of the manager's open window; zero when closed.
	windowEnd int

	calls   []call
	pending *domain.PendingBid
}

// pricing is the bidding rule layered on the Contract-Net machinery.
type pricing interface {
	// offer returns the bid f would place on manager's call and the score it
	// ranks calls by.
	offer(env *Env, f, manager *domain.Flight) (value, score float64, ok bool, err error)
	// settle chooses the winning bid and the price it pays; ok is false when
	// every bid is refused.
	settle(env *Env, manager *domain.Flight, bids []domain.Bid) (winner int, price float64, ok bool, err error)
}

// firstPrice is plain Contract-Net: contractors offer a fraction of their
// saving and the manager takes the bid it scores highest.
type firstPrice struct{ params Params }

func (p firstPrice) offer(env *Env, f, manager *domain.Flight) (float64, float64, bool, error) {
	fuel, delay, err := env.outlook(f, manager)
	if err != nil || fuel <= 0 {
		return 0, 0, false, err
	}
	value := p.params.BidFraction * fuel
	score, err := utility.Score(fuel-value, fuel, delay, f.Behavior)
	if err != nil {
		return 0, 0, false, err
	}
	return value, score, score > 0, nil
}

func (p firstPrice) settle(env *Env, manager *domain.Flight, bids []domain.Bid) (int, float64, bool, error) {
	best, bestScore := -1, math.Inf(-1)
	for i, b := range bids {
		score, err := env.managerScore(manager, env.Fleet.Flight(b.Bidder), b.Value)
		if err != nil {
			return 0, 0, false, err
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < p.params.ReserveUtility || bids[best].Value < p.params.ReservePrice {
		return 0, 0, false, nil
	}
	return best, bids[best].Value, true, nil
}

// contractNet runs elections, windows and bid bookkeeping; pricing decides
// what is offered and what is paid.
type contractNet struct {
	params   Params
	method   domain.Method
	pricing  pricing
	sessions map[domain.FlightID]*cnpSession
}

func newContractNet(p Params, method domain.Method, pr pricing) *contractNet {
	return &contractNet{
		params:   p,
		method:   method,
		pricing:  pr,
		sessions: make(map[domain.FlightID]*cnpSession),
	}
}

func (c *contractNet) Method() domain.Method { return c.method }

func (c *contractNet) session(id domain.FlightID) *cnpSession {
	s, ok := c.sessions[id]
	if !ok {
		s = &cnpSession{}
		c.sessions[id] = s
	}
	return s
}

func (c *contractNet) Assign(_ *Env, f *domain.Flight) {
	f.Demote()
	c.session(f.ID)
}

// ElectRole evaluates the neighbour counts received on earlier ticks. A free
// contractor whose own count is at least the highest reported count becomes
// manager unless a flight it counted already took the role.
func (c *contractNet) ElectRole(env *Env, f *domain.Flight) error {
	s := c.session(f.ID)
	if !s.started {
		s.started = true
		return nil
	}
	var due []report
	s.reports = slices.DeleteFunc(s.reports, func(r report) bool {
		if r.tick < env.Tick {
			due = append(due, r)
			return true
		}
		return false
	})
	if len(due) == 0 || f.Role == domain.RoleManager || !f.IsFree() {
		return nil
	}
	highest := 0
	for _, r := range due {
		highest = max(highest, r.count)
	}
	taken := slices.ContainsFunc(s.inReach, func(id domain.FlightID) bool {
		n := env.Fleet.Flight(id)
		return n != nil && n.Role == domain.RoleManager
	})
	if len(s.inReach) >= highest && !taken {
		env.promote(f)
		s.windowEnd = env.Tick + c.params.Window
		s.calls = nil
	}
	s.inReach = nil
	return nil
}

func (c *contractNet) OnManagerTick(env *Env, m *domain.Flight) error {
	s := c.session(m.ID)
	if m.IsJoining() {
		return nil
	}
	if s.windowEnd == 0 {
		s.windowEnd = env.Tick + c.params.Window
	}
	for _, n := range env.freeContractors(m) {
		ns := c.session(n.ID)
		if !slices.ContainsFunc(ns.calls, func(cl call) bool { return cl.manager == m.ID }) {
			ns.calls = append(ns.calls, call{manager: m.ID, deadline: s.windowEnd})
		}
	}

	if bids := c.liveBids(env, m); len(bids) > 0 {
		winner, price, ok, err := c.pricing.settle(env, m, bids)
		if err != nil {
			return err
		}
		if ok {
			done, err := c.accept(env, m, bids, winner, price)
			if err != nil || done {
				return err
			}
		} else {
			for _, b := range bids {
				c.refuse(env, m, b.Bidder)
			}
			m.DiscardBids()
		}
	}

	if env.Tick >= s.windowEnd {
		env.emit(domain.Event{Type: domain.EventWindowExpired, Flight: m.ID, Peer: domain.NoFlight})
		for _, b := range m.Inbox {
			c.refuse(env, m, b.Bidder)
		}
		m.DiscardBids()
		s.windowEnd = 0
		env.demote(m, "window expired")
	}
	return nil
}

// accept commits the winning bid and refuses everyone else. It reports false
// without error when the ledger asks to retry on a later tick.
func (c *contractNet) accept(env *Env, m *domain.Flight, bids []domain.Bid, winner int, price float64) (bool, error) {
	w := env.Fleet.Flight(bids[winner].Bidder)
	ws := c.session(w.ID)
	if ws.pending.Outcome == domain.OutcomeAccepted {
		return false, domain.NewDomainError("contractNet.accept", domain.ErrDoubleAcceptance,
			w.ID.String()+" already accepted by "+ws.pending.Manager.String())
	}
	if err := env.commit(m, w, price); err != nil {
		if retryable(err) {
			return false, nil
		}
		return false, err
	}
	ws.pending.Outcome = domain.OutcomeAccepted
	for i, b := range bids {
		if i != winner {
			c.refuse(env, m, b.Bidder)
		}
	}
	m.DiscardBids()
	c.session(m.ID).windowEnd = 0
	return true, nil
}

// liveBids returns the inbox bids that can still be accepted: unexpired and
// placed by a free flight whose outstanding bid points at m.
func (c *contractNet) liveBids(env *Env, m *domain.Flight) []domain.Bid {
	var live []domain.Bid
	for i := range m.Inbox {
		b := &m.Inbox[i]
		if !b.Live(env.Tick) {
			b.Valid = false
			continue
		}
		bidder := env.Fleet.Flight(b.Bidder)
		ps := c.session(b.Bidder).pending
		if bidder == nil || !bidder.IsFlying() || ps == nil || ps.Manager != m.ID {
			b.Valid = false
			continue
		}
		if !bidder.IsFree() && ps.Outcome != domain.OutcomeAccepted {
			b.Valid = false
			continue
		}
		live = append(live, *b)
	}
	return live
}

func (c *contractNet) refuse(env *Env, m *domain.Flight, bidder domain.FlightID) {
	ps := c.session(bidder).pending
	if ps == nil || ps.Manager != m.ID || ps.Outcome != domain.OutcomePending {
		return
	}
	ps.Outcome = domain.OutcomeRefused
	env.emit(domain.Event{Type: domain.EventBidRefused, Flight: m.ID, Peer: bidder, Price: ps.Value})
}

func (c *contractNet) OnContractorTick(env *Env, f *domain.Flight) error {
	s := c.session(f.ID)
	if !f.IsFree() {
		s.calls = nil
		s.pending = nil
		return nil
	}
	if p := s.pending; p != nil {
		if p.Outcome != domain.OutcomePending || !c.windowOpen(env, p.Manager) {
			if p.Outcome == domain.OutcomeRefused {
				s.calls = slices.DeleteFunc(s.calls, func(cl call) bool { return cl.manager == p.Manager })
			}
			s.pending = nil
		} else {
			return nil
		}
	}

	s.calls = slices.DeleteFunc(s.calls, func(cl call) bool {
		return cl.deadline < env.Tick || !c.windowOpen(env, cl.manager) ||
			c.session(cl.manager).windowEnd != cl.deadline
	})

	chosen, value, bestScore := -1, 0.0, math.Inf(-1)
	for i, cl := range s.calls {
		v, score, ok, err := c.pricing.offer(env, f, env.Fleet.Flight(cl.manager))
		if err != nil {
			return err
		}
		if ok && score > bestScore {
			chosen, value, bestScore = i, v, score
		}
	}
	if chosen >= 0 {
		cl := s.calls[chosen]
		env.Fleet.Flight(cl.manager).Receive(domain.Bid{Bidder: f.ID, Value: value, Valid: true, Expires: cl.deadline})
		s.pending = &domain.PendingBid{Manager: cl.manager, Value: value, Placed: env.Tick}
		env.emit(domain.Event{Type: domain.EventBidPlaced, Flight: f.ID, Peer: cl.manager, Price: value})
		return nil
	}
	if len(s.calls) == 0 {
		c.applyForManager(env, f, s)
	}
	return nil
}

// windowOpen reports whether id is a manager with an open window that can
// still take bids.
func (c *contractNet) windowOpen(env *Env, id domain.FlightID) bool {
	m := env.Fleet.Flight(id)
	return m != nil && m.IsFlying() && m.Role == domain.RoleManager && !m.IsJoining() &&
		c.session(id).windowEnd != 0
}

// applyForManager counts the free contractors in range and reports the count
// to each of them.
func (c *contractNet) applyForManager(env *Env, f *domain.Flight, s *cnpSession) {
	free := env.freeContractors(f)
	s.inReach = s.inReach[:0]
	for _, n := range free {
		s.inReach = append(s.inReach, n.ID)
		ns := c.session(n.ID)
		ns.reports = append(ns.reports, report{tick: env.Tick, count: len(free)})
	}
}
