// Package sim drives a run: it owns the fleet, activates every flight once
// per tick for negotiation, integrates movement and folds the tick's events
// into the run totals.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/paulmach/orb"

	"formation-flying/internal/domain"
	"formation-flying/internal/infra/tracer"
	"formation-flying/internal/usecase/eventlog"
	"formation-flying/internal/usecase/fleet"
	"formation-flying/internal/usecase/geometry"
	"formation-flying/internal/usecase/ledger"
	"formation-flying/internal/usecase/metrics"
	"formation-flying/internal/usecase/negotiation"
)

// Simulation is one run. It is not safe for concurrent use.
type Simulation struct {
	cfg      Config
	fleet    *fleet.Fleet
	calc     *geometry.Calculator
	ledger   *ledger.Ledger
	protocol negotiation.Protocol
	log      *eventlog.Log
	agg      *metrics.Aggregator
	rng      *rand.Rand
	logger   *slog.Logger
	forward  []domain.EventSink
	observe  []func(Snapshot)
	tick     int
	folded   int
}

// Option customises a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) { s.logger = l }
}

// WithSink forwards every event to sink as it is emitted.
func WithSink(sink domain.EventSink) Option {
	return func(s *Simulation) { s.forward = append(s.forward, sink) }
}

// Snapshot is the state handed to tick observers. Fleet is live and must
// not be modified.
type Snapshot struct {
	Tick   int
	Totals metrics.Totals
	Fleet  *fleet.Fleet
}

// WithTickObserver calls fn after each completed tick.
func WithTickObserver(fn func(Snapshot)) Option {
	return func(s *Simulation) { s.observe = append(s.observe, fn) }
}

// Result is the outcome of Run.
type Result struct {
	Ticks   int                    `json:"ticks"`
	Done    bool                   `json:"done"`
	Totals  metrics.Totals         `json:"totals"`
	Flights []metrics.FlightResult `json:"flights"`
	Summary metrics.Summary        `json:"summary"`
}

// New builds an empty simulation. Call Populate to generate the airport
// layout and flights from cfg, or add them by hand.
func New(cfg Config, opts ...Option) (*Simulation, error) {
	protocol, err := negotiation.New(cfg.Method, cfg.Negotiation)
	if err != nil {
		return nil, err
	}
	s := &Simulation{
		cfg:      cfg,
		fleet:    fleet.New(),
		calc:     geometry.New(cfg.Discount, cfg.Samples),
		protocol: protocol,
		agg:      metrics.NewAggregator(),
		rng:      rand.New(rand.NewSource(cfg.Seed)), // #nosec G404 -- reproducible runs
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = eventlog.New(s.forward...)
	s.ledger = ledger.New(s.fleet, s.calc, s.log)
	return s, nil
}

// Fleet exposes the flights and airports of the run.
func (s *Simulation) Fleet() *fleet.Fleet { return s.fleet }

// Log exposes the event log.
func (s *Simulation) Log() *eventlog.Log { return s.log }

// Tick returns the number of ticks run so far.
func (s *Simulation) Tick() int { return s.tick }

// Totals returns the totals folded so far.
func (s *Simulation) Totals() metrics.Totals { return s.agg.Totals() }

// Method returns the negotiation method in use.
func (s *Simulation) Method() domain.Method { return s.protocol.Method() }

func (s *Simulation) env() *negotiation.Env {
	return &negotiation.Env{
		Tick:   s.tick,
		Fleet:  s.fleet,
		Ledger: s.ledger,
		Calc:   s.calc,
		Rand:   s.rng,
		Sink:   s.log,
		Logger: s.logger,
	}
}

// AddAirport registers an airport.
func (s *Simulation) AddAirport(pos orb.Point, typ domain.AirportType, closureTick int) *domain.Airport {
	return s.fleet.AddAirport(pos, typ, closureTick)
}

// AddFlight schedules a flight from pos to dest and lets the protocol pick
// its initial role.
func (s *Simulation) AddFlight(pos orb.Point, dest *domain.Airport, departure int, behavior domain.Behavior) (*domain.Flight, error) {
	if dest == nil || !dest.OpenDestination() {
		return nil, domain.NewSubSystemError("airport", "Simulation.AddFlight", domain.ErrNoDestination, "destination unavailable")
	}
	if _, err := domain.ParseBehavior(string(behavior)); err != nil {
		return nil, err
	}
	f := domain.NewFlight(s.fleet.NextFlightID(), pos, dest, s.cfg.Speed, departure, s.cfg.CommRange, behavior)
	if err := s.fleet.AddFlight(f); err != nil {
		return nil, err
	}
	s.protocol.Assign(s.env(), f)
	s.log.Emit(domain.Event{Type: domain.EventFlightScheduled, Flight: f.ID, Peer: domain.NoFlight, Value: f.Counters.PlannedFuel})
	return f, nil
}

// Step runs one tick: airport closures, the negotiate phase over every
// flying flight in creation order, the move phase, then the event fold.
func (s *Simulation) Step(ctx context.Context) error {
	_, span := tracer.StartSpan(ctx, "sim.tick")
	defer span.End()
	span.SetAttributes(tracer.IntAttr("tick", s.tick))

	s.log.SetTick(s.tick)
	s.closeAirports()

	env := s.env()
	for _, f := range s.fleet.Flights() {
		if !f.IsFlying() {
			continue
		}
		s.indicators(f)
		if err := negotiation.Negotiate(env, s.protocol, f); err != nil {
			if domain.IsInvariantViolation(err) {
				tracer.RecordError(span, err)
				return fmt.Errorf("tick %d: %w", s.tick, err)
			}
			s.logger.Warn("negotiation failed", "tick", s.tick, "flight", f.ID, "error", err)
		}
	}

	if err := s.move(); err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}

	events := s.log.Since(s.folded)
	s.agg.Fold(events)
	s.folded = s.log.Len()
	span.SetAttributes(tracer.IntAttr("events", len(events)))
	tracer.SetOK(span)
	if len(s.observe) > 0 {
		snap := Snapshot{Tick: s.tick, Totals: s.agg.Totals(), Fleet: s.fleet}
		for _, fn := range s.observe {
			fn(snap)
		}
	}
	s.tick++
	return nil
}

// indicators updates the per-tick reporters of a flying flight.
func (s *Simulation) indicators(f *domain.Flight) {
	f.Counters.RealFlightTime++
	if f.Role == domain.RoleManager {
		f.Counters.FormationSize = 1 + len(f.Mates)
	} else {
		f.Counters.FormationSize = 0
	}
	if f.HasMates() {
		f.Counters.DistanceInFormation += f.Speed
	}
}

// Run steps until every flight arrived, maxTicks ticks ran (zero uses the
// configured limit) or ctx is done.
func (s *Simulation) Run(ctx context.Context, maxTicks int) (Result, error) {
	ctx, span := tracer.StartSpan(ctx, "sim.run")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("method", s.protocol.Method().String()),
		tracer.IntAttr("flights", s.fleet.Len()),
	)
	if maxTicks <= 0 {
		maxTicks = s.cfg.MaxTicks
	}

	for s.tick < maxTicks && !s.done() {
		if err := ctx.Err(); err != nil {
			return s.result(), err
		}
		if err := s.Step(ctx); err != nil {
			tracer.RecordError(span, err)
			return s.result(), err
		}
	}
	res := s.result()
	span.SetAttributes(
		tracer.IntAttr("ticks", res.Ticks),
		tracer.FloatAttr("real_fuel_saved", res.Totals.RealFuelSaved),
	)
	s.logger.Info("run finished",
		"method", s.protocol.Method().String(),
		"ticks", res.Ticks,
		"arrived", res.Totals.Arrived,
		"formations", res.Totals.NewFormations,
		"real_fuel_saved", res.Totals.RealFuelSaved,
	)
	return res, nil
}

func (s *Simulation) done() bool {
	return s.fleet.Len() > 0 && s.fleet.AllArrived()
}

func (s *Simulation) result() Result {
	flights := metrics.Results(s.fleet.Flights())
	return Result{
		Ticks:   s.tick,
		Done:    s.done(),
		Totals:  s.agg.Totals(),
		Flights: flights,
		Summary: metrics.Summarize(flights),
	}
}
