package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDefaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Validate(Defaults()) = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown method", func(c *Config) { c.Simulation.Method = "dutch" }, "simulation.method"},
		{"numeric method", func(c *Config) { c.Simulation.Method = "4" }, ""},
		{"numeric method out of range", func(c *Config) { c.Simulation.Method = "9" }, "simulation.method"},
		{"zero ticks", func(c *Config) { c.Simulation.MaxTicks = 0 }, "simulation.max_ticks"},
		{"flat plane", func(c *Config) { c.Simulation.Height = 0 }, "simulation.width"},
		{"discount above one", func(c *Config) { c.Simulation.Discount = 1.5 }, "fuel_reduction"},
		{"no origins", func(c *Config) { c.Airports.Origins = 0 }, "airports.origins"},
		{"area outside plane", func(c *Config) { c.Airports.OriginArea.MaxX = 2 }, "origin_area"},
		{"inverted area", func(c *Config) {
			c.Airports.DestinationArea = AreaConfig{MinX: 0.9, MinY: 0.9, MaxX: 0.8, MaxY: 1}
		}, "destination_area"},
		{"too many closures", func(c *Config) {
			c.Airports.Destinations = 1
			c.Airports.ClosureTicks = []int{0, 5}
		}, "closure_ticks has"},
		{"every destination closes", func(c *Config) {
			c.Airports.Destinations = 2
			c.Airports.ClosureTicks = []int{3, 5}
		}, "closes every destination"},
		{"negative closure", func(c *Config) { c.Airports.ClosureTicks = []int{-1} }, "closure_ticks[0]"},
		{"negative flights", func(c *Config) { c.Flights.Count = -1 }, "flights.count"},
		{"zero speed", func(c *Config) { c.Flights.Speed = 0 }, "flights.speed"},
		{"unknown behavior", func(c *Config) { c.Flights.Behaviors = map[string]float64{"reckless": 1} }, "unknown behavior"},
		{"zero weights", func(c *Config) { c.Flights.Behaviors = map[string]float64{"green": 0} }, "sum to > 0"},
		{"manager ratio", func(c *Config) { c.Negotiation.ManagerRatio = 1.2 }, "manager_ratio"},
		{"cnp window", func(c *Config) { c.Negotiation.CNP.Window = 0 }, "cnp.window"},
		{"raise fraction", func(c *Config) { c.Negotiation.Auction.RaiseFraction = 0 }, "raise_fraction"},
		{"static reserve", func(c *Config) {
			c.Negotiation.Auction.DynamicReserve = false
			c.Negotiation.Auction.StaticReserve = 0
		}, "static_reserve"},
		{"promote probability", func(c *Config) { c.Negotiation.Auction.PromoteProbability = -0.1 }, "promote_probability"},
		{"batch iterations", func(c *Config) { c.Batch.Iterations = 0 }, "batch.iterations"},
		{"batch sweep", func(c *Config) { c.Batch.FlightCounts = []int{10, 0} }, "flight_counts[1]"},
		{"store path", func(c *Config) {
			c.Store.Enabled = true
			c.Store.Path = ""
		}, "store.path"},
		{"gateway addr", func(c *Config) { c.Gateway.Addr = "8095" }, "gateway.addr"},
		{"gateway burst", func(c *Config) { c.Gateway.Burst = 0 }, "gateway.burst"},
		{"log level", func(c *Config) { c.Logger.Level = "verbose" }, "logger.level"},
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"tracer exporter", func(c *Config) {
			c.Tracer.Enabled = true
			c.Tracer.Exporter = "jaeger"
		}, "tracer.exporter"},
		{"tracer file path", func(c *Config) {
			c.Tracer.Enabled = true
			c.Tracer.Exporter = "file"
		}, "tracer.path"},
		{"tracer sample ratio", func(c *Config) {
			c.Tracer.Enabled = true
			c.Tracer.Exporter = "stdout"
			c.Tracer.SampleRatio = 1.5
		}, "tracer.sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidationErrorAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.Flights.Speed = 0
	cfg.Batch.Parallel = 0
	cfg.Logger.Level = "loud"

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.HasPrefix(ve.Error(), "config validation failed:") {
		t.Errorf("Error() = %q", ve.Error())
	}
}
