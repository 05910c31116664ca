package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"formation-flying/internal/domain"
	"formation-flying/internal/infra/config"
	"formation-flying/internal/usecase/sim"
)

func defaultConfigPath() string {
	if p := os.Getenv("FORMATION_CONFIG"); p != "" {
		return p
	}
	return "formation.yaml"
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	config string
	method string
	seed   int64
	ticks  int
	db     string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", defaultConfigPath(), "config file path")
	fs.StringVar(&c.method, "method", "", "negotiation method")
	fs.Int64Var(&c.seed, "seed", 0, "random seed (0 keeps the configured seed)")
	fs.IntVar(&c.ticks, "ticks", 0, "tick limit (0 keeps the configured limit)")
	fs.StringVar(&c.db, "db", "", "SQLite result database")
}

// load reads the config file and applies the command line on top.
func (c *commonFlags) load() (*config.Config, error) {
	cfg, err := config.Load(c.config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.method != "" {
		m, err := domain.ParseMethod(c.method)
		if err != nil {
			return nil, err
		}
		cfg.Simulation.Method = m.String()
	}
	if c.seed != 0 {
		cfg.Simulation.Seed = c.seed
	}
	if c.ticks > 0 {
		cfg.Simulation.MaxTicks = c.ticks
	}
	if c.db != "" {
		cfg.Store.Enabled = true
		cfg.Store.Path = c.db
	}
	return cfg, nil
}

// simConfig converts a loaded configuration into the parameters of one run.
func simConfig(cfg *config.Config) (sim.Config, error) {
	method, err := domain.ParseMethod(cfg.Simulation.Method)
	if err != nil {
		return sim.Config{}, err
	}
	weights, err := cfg.Flights.BehaviorWeights()
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		Method:              method,
		Negotiation:         cfg.Negotiation.Params(),
		Seed:                cfg.Simulation.Seed,
		Flights:             cfg.Flights.Count,
		OriginAirports:      cfg.Airports.Origins,
		DestinationAirports: cfg.Airports.Destinations,
		Width:               cfg.Simulation.Width,
		Height:              cfg.Simulation.Height,
		OriginArea:          cfg.Airports.OriginArea.Bound(),
		DestinationArea:     cfg.Airports.DestinationArea.Bound(),
		ClosureTicks:        append([]int(nil), cfg.Airports.ClosureTicks...),
		Speed:               cfg.Flights.Speed,
		CommRange:           cfg.Flights.CommRange,
		DepartureWindow:     cfg.Flights.DepartureWindow,
		Discount:            cfg.Simulation.Discount,
		Samples:             cfg.Simulation.Samples,
		BehaviorWeights:     weights,
		Reroute:             cfg.Flights.RerouteOnClosure,
		MaxTicks:            cfg.Simulation.MaxTicks,
	}, nil
}

// parseRanges parses a comma separated list of positive flight counts.
func parseRanges(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return nil, domain.NewDomainError("parseRanges", domain.ErrInvalidInput,
				fmt.Sprintf("%q is not a positive flight count", part))
		}
		out = append(out, n)
	}
	return out, nil
}
