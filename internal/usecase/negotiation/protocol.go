// Package negotiation implements the five protocols flights use to agree on
// who joins whom and at what price. Protocols keep their per-flight sessions
// keyed by FlightID and commit deals only through the ledger.
package negotiation

import (
	"errors"
	"log/slog"
	"math/rand"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/fleet"
	"formation-flying/internal/usecase/geometry"
	"formation-flying/internal/usecase/ledger"
	"formation-flying/internal/usecase/utility"
)

// Protocol is one negotiation strategy. The driver calls Assign once per
// flight at creation and Negotiate once per flying flight per tick.
type Protocol interface {
	Method() domain.Method
	// Assign sets the initial role of a new flight.
	Assign(env *Env, f *domain.Flight)
	// ElectRole may promote or demote f before it acts this tick.
	ElectRole(env *Env, f *domain.Flight) error
	OnManagerTick(env *Env, f *domain.Flight) error
	OnContractorTick(env *Env, f *domain.Flight) error
}

// Env is what a protocol sees of the simulation during one negotiate call.
type Env struct {
	Tick   int
	Fleet  *fleet.Fleet
	Ledger *ledger.Ledger
	Calc   *geometry.Calculator
	Rand   *rand.Rand
	Sink   domain.EventSink
	Logger *slog.Logger
}

// Params are the protocol tunables.
type Params struct {
	// ManagerRatio is the share of greedy flights created as managers.
	ManagerRatio float64

	// Contract-Net and Vickrey.
	Window         int
	BidFraction    float64
	ReserveUtility float64
	ReservePrice   float64

	// English and Japanese auctions.
	DynamicReserve        bool
	MinReserve            float64
	StaticReserve         float64
	AuctionWindow         int
	RaiseFraction         float64
	MinBidUtilityFraction float64
	PromoteProbability    float64
}

// DefaultParams returns the standard tunables.
func DefaultParams() Params {
	return Params{
		ManagerRatio:          0.5,
		Window:                10,
		BidFraction:           0.5,
		ReserveUtility:        0,
		ReservePrice:          0,
		DynamicReserve:        true,
		MinReserve:            10,
		StaticReserve:         30,
		AuctionWindow:         10,
		RaiseFraction:         0.3,
		MinBidUtilityFraction: 0.5,
		PromoteProbability:    1.0 / 6,
	}
}

// New builds the protocol for method.
func New(method domain.Method, p Params) (Protocol, error) {
	switch method {
	case domain.MethodGreedy:
		return newGreedy(p), nil
	case domain.MethodCNP:
		return newContractNet(p, domain.MethodCNP, firstPrice{p}), nil
	case domain.MethodVickrey:
		return newContractNet(p, domain.MethodVickrey, secondPrice{p}), nil
	case domain.MethodEnglish:
		return newEnglish(p), nil
	case domain.MethodJapanese:
		return newJapanese(p), nil
	}
	return nil, domain.NewDomainError("negotiation.New", domain.ErrUnknownMethod, method.String())
}

// Negotiate runs one negotiate phase for f.
func Negotiate(env *Env, p Protocol, f *domain.Flight) error {
	if !f.IsFlying() {
		return nil
	}
	if err := p.ElectRole(env, f); err != nil {
		return domain.WrapOp(p.Method().String()+".ElectRole", err)
	}
	if f.Role == domain.RoleManager {
		return domain.WrapOp(p.Method().String()+".OnManagerTick", p.OnManagerTick(env, f))
	}
	return domain.WrapOp(p.Method().String()+".OnContractorTick", p.OnContractorTick(env, f))
}

func (e *Env) emit(ev domain.Event) {
	if e.Sink == nil {
		return
	}
	ev.Tick = e.Tick
	e.Sink.Emit(ev)
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

func (e *Env) promote(f *domain.Flight) {
	if f.Role == domain.RoleManager {
		return
	}
	f.Promote()
	e.emit(domain.Event{Type: domain.EventRolePromoted, Flight: f.ID, Peer: domain.NoFlight})
}

func (e *Env) demote(f *domain.Flight, reason string) {
	if f.Role == domain.RoleContractor {
		return
	}
	f.Demote()
	e.emit(domain.Event{Type: domain.EventRoleDemoted, Flight: f.ID, Peer: domain.NoFlight, Detail: reason})
}

// freeContractors returns the free contractors in f's range, excluding f.
func (e *Env) freeContractors(f *domain.Flight) []*domain.Flight {
	var out []*domain.Flight
	for _, n := range e.Fleet.Neighbors(f, false) {
		if n.Role == domain.RoleContractor && n.IsFree() {
			out = append(out, n)
		}
	}
	return out
}

// outlook is self's individual fuel saving and delay for joining other.
func (e *Env) outlook(self, other *domain.Flight) (fuel, delay float64, err error) {
	fuel, err = e.Calc.PotentialFuelSavings(self, other, true)
	if err != nil {
		return 0, 0, err
	}
	delay, err = e.Calc.PotentialDelay(self, other)
	if err != nil {
		return 0, 0, err
	}
	return fuel, delay, nil
}

// managerScore is the utility manager gets from receiving price for admitting
// bidder, with the price split over the current members.
func (e *Env) managerScore(manager, bidder *domain.Flight, price float64) (float64, error) {
	fuel, delay, err := e.outlook(manager, bidder)
	if err != nil {
		return 0, err
	}
	share := price / float64(len(manager.Mates)+1)
	return utility.Score(fuel+share, fuel, delay, manager.Behavior)
}

// commit hands the deal to the ledger, extending the manager's formation
// when it already has one.
func (e *Env) commit(manager, contractor *domain.Flight, price float64) error {
	var err error
	if manager.HasMates() {
		err = e.Ledger.AddToFormation(manager.ID, contractor.ID, price, true)
	} else {
		err = e.Ledger.StartFormation(manager.ID, contractor.ID, price, true)
	}
	if err != nil {
		return err
	}
	e.emit(domain.Event{Type: domain.EventBidAccepted, Flight: manager.ID, Peer: contractor.ID, Price: price})
	return nil
}

// retryable reports whether a ledger refusal only means "not now".
func retryable(err error) bool {
	return errors.Is(err, domain.ErrFormationBusy)
}
