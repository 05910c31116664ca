package config

import (
	"fmt"
	"net"
	"strings"

	"formation-flying/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateSimulation(cfg, ve)
	validateAirports(cfg, ve)
	validateFlights(cfg, ve)
	validateNegotiation(cfg, ve)
	validateBatch(cfg, ve)
	validateStore(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateSimulation(cfg *Config, ve *ValidationError) {
	s := cfg.Simulation
	if _, err := domain.ParseMethod(s.Method); err != nil {
		ve.Add("simulation.method %q is invalid (want: %s or 0-4)", s.Method, methodNames())
	}
	if s.MaxTicks <= 0 {
		ve.Add("simulation.max_ticks must be > 0")
	}
	if s.Width <= 0 || s.Height <= 0 {
		ve.Add("simulation.width and simulation.height must be > 0")
	}
	if s.Discount <= 0 || s.Discount > 1 {
		ve.Add("simulation.fuel_reduction must be in (0, 1]")
	}
	if s.Samples <= 0 {
		ve.Add("simulation.joining_samples must be > 0")
	}
}

func validateArea(name string, a AreaConfig, ve *ValidationError) {
	for _, v := range []float64{a.MinX, a.MinY, a.MaxX, a.MaxY} {
		if v < 0 || v > 1 {
			ve.Add("%s coordinates must be fractions in [0, 1]", name)
			return
		}
	}
	if a.MinX > a.MaxX || a.MinY > a.MaxY {
		ve.Add("%s min corner must not exceed max corner", name)
	}
}

func validateAirports(cfg *Config, ve *ValidationError) {
	a := cfg.Airports
	if a.Origins <= 0 {
		ve.Add("airports.origins must be > 0")
	}
	if a.Destinations <= 0 {
		ve.Add("airports.destinations must be > 0")
	}
	validateArea("airports.origin_area", a.OriginArea, ve)
	validateArea("airports.destination_area", a.DestinationArea, ve)
	if len(a.ClosureTicks) > a.Destinations {
		ve.Add("airports.closure_ticks has %d entries for %d destinations", len(a.ClosureTicks), a.Destinations)
	}
	closed := 0
	for i, t := range a.ClosureTicks {
		if t < 0 {
			ve.Add("airports.closure_ticks[%d] must be >= 0", i)
		}
		if t > 0 {
			closed++
		}
	}
	if a.Destinations > 0 && closed == a.Destinations {
		ve.Add("airports.closure_ticks closes every destination")
	}
}

func validateFlights(cfg *Config, ve *ValidationError) {
	f := cfg.Flights
	if f.Count < 0 {
		ve.Add("flights.count must be >= 0")
	}
	if f.Speed <= 0 {
		ve.Add("flights.speed must be > 0")
	}
	if f.CommRange < 0 {
		ve.Add("flights.communication_range must be >= 0")
	}
	if f.DepartureWindow < 0 {
		ve.Add("flights.departure_window must be >= 0")
	}
	var total float64
	for name, w := range f.Behaviors {
		if _, err := domain.ParseBehavior(name); err != nil {
			ve.Add("flights.behaviors: unknown behavior %q", name)
		}
		if w < 0 {
			ve.Add("flights.behaviors.%s must be >= 0", name)
		}
		total += w
	}
	if len(f.Behaviors) > 0 && total <= 0 {
		ve.Add("flights.behaviors weights must sum to > 0")
	}
}

func validateFraction(name string, v float64, ve *ValidationError) {
	if v < 0 || v > 1 {
		ve.Add("%s must be in [0, 1]", name)
	}
}

func validateNegotiation(cfg *Config, ve *ValidationError) {
	n := cfg.Negotiation
	validateFraction("negotiation.manager_ratio", n.ManagerRatio, ve)
	validateFraction("negotiation.cnp.bid_fraction", n.CNP.BidFraction, ve)
	if n.CNP.Window <= 0 {
		ve.Add("negotiation.cnp.window must be > 0")
	}
	if n.CNP.ReservePrice < 0 {
		ve.Add("negotiation.cnp.reserve_price must be >= 0")
	}

	a := n.Auction
	if a.Window <= 0 {
		ve.Add("negotiation.auction.window must be > 0")
	}
	if a.RaiseFraction <= 0 {
		ve.Add("negotiation.auction.raise_fraction must be > 0")
	}
	if a.MinReserve < 0 || a.StaticReserve < 0 {
		ve.Add("negotiation.auction reserves must be >= 0")
	}
	if !a.DynamicReserve && a.StaticReserve <= 0 {
		ve.Add("negotiation.auction.static_reserve must be > 0 when dynamic_reserve is off")
	}
	validateFraction("negotiation.auction.min_bid_utility_fraction", a.MinBidUtilityFraction, ve)
	validateFraction("negotiation.auction.promote_probability", a.PromoteProbability, ve)
}

func validateBatch(cfg *Config, ve *ValidationError) {
	b := cfg.Batch
	if b.Iterations <= 0 {
		ve.Add("batch.iterations must be > 0")
	}
	if b.Parallel <= 0 {
		ve.Add("batch.parallel must be > 0")
	}
	for i, n := range b.FlightCounts {
		if n <= 0 {
			ve.Add("batch.flight_counts[%d] must be > 0", i)
		}
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		ve.Add("store.path must not be empty when the store is enabled")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if g.Addr != "" {
		if _, _, err := net.SplitHostPort(g.Addr); err != nil {
			ve.Add("gateway.addr %q is invalid: %v", g.Addr, err)
		}
	}
	if g.RateLimit < 0 {
		ve.Add("gateway.rate_limit must be >= 0")
	}
	if g.RateLimit > 0 && g.Burst <= 0 {
		ve.Add("gateway.burst must be > 0 when rate_limit is set")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "stdout", "":
	case "file":
		if cfg.Tracer.Path == "" {
			ve.Add("tracer.path is required for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, file)", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1], got %v", r)
	}
}
