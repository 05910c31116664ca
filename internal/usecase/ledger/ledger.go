// Package ledger owns the operations that create, extend and dissolve
// formations. Every operation validates and computes everything it needs
// before the first mutation, so a failed call leaves the fleet untouched.
package ledger

import (
	"fmt"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/fleet"
	"formation-flying/internal/usecase/geometry"
	"formation-flying/internal/usecase/utility"
)

type nopSink struct{}

func (nopSink) Emit(domain.Event) {}

// Ledger commits formation changes.
type Ledger struct {
	fleet *fleet.Fleet
	calc  *geometry.Calculator
	sink  domain.EventSink
}

// New creates a Ledger. A nil sink drops events.
func New(f *fleet.Fleet, calc *geometry.Calculator, sink domain.EventSink) *Ledger {
	if sink == nil {
		sink = nopSink{}
	}
	return &Ledger{fleet: f, calc: calc, sink: sink}
}

// estimate is one flight's projected outcome of a deal.
type estimate struct {
	fuel    float64
	delay   float64
	utility float64
}

func (e estimate) apply(f *domain.Flight) {
	f.Counters.EstimatedFuelSaved += e.fuel
	f.Counters.EstimatedDelay += e.delay
	f.Counters.EstimatedUtility += e.utility
}

// project computes self's estimate for joining other, with profit being the
// money self gains (negative when paying).
func (l *Ledger) project(self, other *domain.Flight, profit float64) (estimate, error) {
	fuel, err := l.calc.PotentialFuelSavings(self, other, true)
	if err != nil {
		return estimate{}, err
	}
	delay, err := l.calc.PotentialDelay(self, other)
	if err != nil {
		return estimate{}, err
	}
	score, err := utility.Score(fuel+profit, fuel, delay, self.Behavior)
	if err != nil {
		return estimate{}, err
	}
	return estimate{fuel: fuel, delay: delay, utility: score}, nil
}

func (l *Ledger) pair(op string, a, b domain.FlightID) (*domain.Flight, *domain.Flight, error) {
	if a == b {
		return nil, nil, domain.NewDomainError(op, domain.ErrSelfMerge, a.String())
	}
	fa, err := l.fleet.Lookup(a)
	if err != nil {
		return nil, nil, domain.WrapOp(op, err)
	}
	fb, err := l.fleet.Lookup(b)
	if err != nil {
		return nil, nil, domain.WrapOp(op, err)
	}
	if fa.IsMate(b) || fb.IsMate(a) {
		return nil, nil, domain.NewDomainError(op, domain.ErrSelfMerge,
			fmt.Sprintf("%s and %s already fly together", a, b))
	}
	return fa, fb, nil
}

// StartFormation links two free flights. The manager gains bid and the
// contractor pays it.
func (l *Ledger) StartFormation(manager, contractor domain.FlightID, bid float64, discardBids bool) error {
	const op = "Ledger.StartFormation"
	m, c, err := l.pair(op, manager, contractor)
	if err != nil {
		return err
	}
	if m.HasMates() || c.HasMates() {
		if m.HasMates() && c.HasMates() {
			return domain.NewDomainError(op, domain.ErrFormationMerge, fmt.Sprintf("%s+%s", m.ID, c.ID))
		}
		return domain.NewDomainError(op, domain.ErrInvalidInput, "one side already flies in formation")
	}
	if !m.IsFree() || !c.IsFree() {
		return domain.NewDomainError(op, domain.ErrFormationBusy, fmt.Sprintf("%s=%s %s=%s", m.ID, m.State, c.ID, c.State))
	}

	plan, err := l.calc.Plan(m, c)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	combined, err := l.calc.PotentialFuelSavings(m, c, false)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	speedM, speedC, err := l.calc.SpeedToJoiningPoint(m, c)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	estM, err := l.project(m, c, bid)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	estC, err := l.project(c, m, -bid)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	next := domain.StateCommitted
	if geometry.Same(m.Pos, c.Pos) {
		next = domain.StateInFormation
	}

	m.DealValue += bid
	c.DealValue -= bid
	if discardBids {
		m.DiscardBids()
	}
	for _, f := range []*domain.Flight{m, c} {
		f.JoiningPoint = plan.Joining
		f.LeavingPoint = plan.Leaving
		if err := f.SetFormationState(next); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	m.SpeedToJoining = speedM
	c.SpeedToJoining = speedC
	estM.apply(m)
	estC.apply(c)
	m.Mates = append(m.Mates, c.ID)
	c.Mates = append(c.Mates, m.ID)

	if err := l.fleet.CheckFormation(m); err != nil {
		return domain.WrapOp(op, err)
	}
	l.sink.Emit(domain.Event{
		Type:   domain.EventFormationStarted,
		Flight: m.ID,
		Peer:   c.ID,
		Value:  combined,
		Price:  bid,
	})
	return nil
}

// AddToFormation brings a lone flight into receiver's formation. The lone
// flight pays bid, split evenly over the existing members. If the receiver
// has no formation yet this is StartFormation; if the joiner is the one
// holding the formation the two are swapped.
func (l *Ledger) AddToFormation(receiver, joiner domain.FlightID, bid float64, discardBids bool) error {
	const op = "Ledger.AddToFormation"
	r, j, err := l.pair(op, receiver, joiner)
	if err != nil {
		return err
	}
	switch {
	case r.HasMates() && j.HasMates():
		return domain.NewDomainError(op, domain.ErrFormationMerge, fmt.Sprintf("%s+%s", r.ID, j.ID))
	case !r.HasMates() && !j.HasMates():
		return l.StartFormation(r.ID, j.ID, bid, discardBids)
	case j.HasMates():
		r, j = j, r
	}
	if !j.IsFree() {
		return domain.NewDomainError(op, domain.ErrFormationBusy, j.ID.String()+" is "+string(j.State))
	}

	members, err := l.fleet.Members(r)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	for _, m := range members {
		if m.IsJoining() {
			return domain.NewDomainError(op, domain.ErrFormationBusy, m.ID.String()+" is "+string(m.State))
		}
	}

	plan, err := l.calc.Plan(r, j)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	combined, err := l.calc.PotentialFuelSavings(r, j, false)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	speedR, speedJ, err := l.calc.SpeedToJoiningPoint(r, j)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	share := bid / float64(len(members))
	estR, err := l.project(r, j, share)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	memberEst := make([]estimate, len(members))
	for i, m := range members {
		score, err := utility.Score(estR.fuel+share, estR.fuel, estR.delay, m.Behavior)
		if err != nil {
			return domain.WrapOp(op, err)
		}
		memberEst[i] = estimate{fuel: estR.fuel, delay: estR.delay, utility: score}
	}
	estJ, err := l.project(j, r, -bid)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	memberState, joinerState := domain.StateAdding, domain.StateCommitted
	if geometry.Same(r.Pos, j.Pos) {
		memberState, joinerState = domain.StateInFormation, domain.StateInFormation
	}

	if discardBids {
		r.DiscardBids()
	}
	ids := make([]domain.FlightID, 0, len(members))
	for i, m := range members {
		ids = append(ids, m.ID)
		m.DealValue += share
		m.Mates = append(m.Mates, j.ID)
		m.JoiningPoint = plan.Joining
		m.LeavingPoint = plan.Leaving
		m.SpeedToJoining = speedR
		if err := m.SetFormationState(memberState); err != nil {
			return domain.WrapOp(op, err)
		}
		memberEst[i].apply(m)
	}
	j.DealValue -= bid
	j.Mates = ids
	j.JoiningPoint = plan.Joining
	j.LeavingPoint = plan.Leaving
	j.SpeedToJoining = speedJ
	if err := j.SetFormationState(joinerState); err != nil {
		return domain.WrapOp(op, err)
	}
	estJ.apply(j)

	if err := l.fleet.CheckFormation(j); err != nil {
		return domain.WrapOp(op, err)
	}
	l.sink.Emit(domain.Event{
		Type:   domain.EventFormationJoined,
		Flight: r.ID,
		Peer:   j.ID,
		Value:  combined,
		Price:  bid,
	})
	return nil
}

// Dissolve ends the formation of id for every member at once. A flight
// without mates is left alone.
func (l *Ledger) Dissolve(id domain.FlightID) error {
	const op = "Ledger.Dissolve"
	f, err := l.fleet.Lookup(id)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if !f.HasMates() {
		return nil
	}
	members, err := l.fleet.Members(f)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	for _, m := range members {
		if err := m.SetFormationState(domain.StateNoFormation); err != nil {
			return domain.WrapOp(op, err)
		}
		m.Mates = nil
		m.SpeedToJoining = 0
		m.UpdateRole()
	}
	l.sink.Emit(domain.Event{
		Type:   domain.EventFormationDissolved,
		Flight: f.ID,
		Peer:   domain.NoFlight,
		Value:  float64(len(members)),
	})
	return nil
}
