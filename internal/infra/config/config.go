package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/negotiation"
)

// Config is the root configuration of the formation binary.
type Config struct {
	Simulation  SimulationConfig  `yaml:"simulation"`
	Airports    AirportsConfig    `yaml:"airports"`
	Flights     FlightsConfig     `yaml:"flights"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Batch       BatchConfig       `yaml:"batch"`
	Store       StoreConfig       `yaml:"store"`
	Export      ExportConfig      `yaml:"export"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Includes    []string          `yaml:"includes,omitempty"`
}

// SimulationConfig holds run-wide settings.
type SimulationConfig struct {
	Method   string  `yaml:"method"` // greedy, cnp, english, vickrey, japanese or 0-4
	Seed     int64   `yaml:"seed"`
	MaxTicks int     `yaml:"max_ticks"`
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	Discount float64 `yaml:"fuel_reduction"`
	Samples  int     `yaml:"joining_samples"`
}

// AreaConfig is a rectangle given as fractions of the plane.
type AreaConfig struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// Bound converts the area to an orb.Bound.
func (a AreaConfig) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{a.MinX, a.MinY}, Max: orb.Point{a.MaxX, a.MaxY}}
}

// AirportsConfig controls the generated airport layout.
type AirportsConfig struct {
	Origins         int        `yaml:"origins"`
	Destinations    int        `yaml:"destinations"`
	OriginArea      AreaConfig `yaml:"origin_area"`
	DestinationArea AreaConfig `yaml:"destination_area"`
	ClosureTicks    []int      `yaml:"closure_ticks,omitempty"`
}

// FlightsConfig controls the generated flights.
type FlightsConfig struct {
	Count            int                `yaml:"count"`
	Speed            float64            `yaml:"speed"`
	CommRange        float64            `yaml:"communication_range"`
	DepartureWindow  int                `yaml:"departure_window"`
	Behaviors        map[string]float64 `yaml:"behaviors,omitempty"`
	RerouteOnClosure bool               `yaml:"reroute_on_closure"`
}

// NegotiationConfig holds the protocol tunables.
type NegotiationConfig struct {
	ManagerRatio float64       `yaml:"manager_ratio"`
	CNP          CNPConfig     `yaml:"cnp"`
	Auction      AuctionConfig `yaml:"auction"`
}

// CNPConfig configures Contract-Net and Vickrey rounds.
type CNPConfig struct {
	Window         int     `yaml:"window"`
	BidFraction    float64 `yaml:"bid_fraction"`
	ReserveUtility float64 `yaml:"reserve_utility"`
	ReservePrice   float64 `yaml:"reserve_price"`
}

// AuctionConfig configures the English and Japanese auctions.
type AuctionConfig struct {
	DynamicReserve        bool    `yaml:"dynamic_reserve"`
	MinReserve            float64 `yaml:"min_reserve"`
	StaticReserve         float64 `yaml:"static_reserve"`
	Window                int     `yaml:"window"`
	RaiseFraction         float64 `yaml:"raise_fraction"`
	MinBidUtilityFraction float64 `yaml:"min_bid_utility_fraction"`
	PromoteProbability    float64 `yaml:"promote_probability"`
}

// BatchConfig controls the batch runner.
type BatchConfig struct {
	Iterations int `yaml:"iterations"`
	Parallel   int `yaml:"parallel"`
	// FlightCounts is the swept parameter; empty runs the configured count.
	FlightCounts []int `yaml:"flight_counts,omitempty"`
}

// StoreConfig holds result persistence settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ExportConfig holds route export settings.
type ExportConfig struct {
	GeoJSON string `yaml:"geojson"` // empty disables the export
}

// GatewayConfig holds the results API settings.
type GatewayConfig struct {
	Addr           string   `yaml:"addr"`
	RateLimit      float64  `yaml:"rate_limit"` // requests per second per client, 0 disables
	Burst          int      `yaml:"burst"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	// Tokens admitted by the API. Empty leaves the API open.
	Tokens []string `yaml:"tokens,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // noop, stdout or file
	Path     string `yaml:"path"`     // span file for the file exporter
	// SampleRatio is the share of runs traced; 0 traces every run.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the data directory under $HOME/.formation/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".formation", "data")
}

// Defaults returns the standard scenario.
func Defaults() *Config {
	p := negotiation.DefaultParams()
	return &Config{
		Simulation: SimulationConfig{
			Method:   domain.MethodCNP.String(),
			Seed:     1,
			MaxTicks: 100000,
			Width:    750,
			Height:   750,
			Discount: 0.75,
			Samples:  100,
		},
		Airports: AirportsConfig{
			Origins:         20,
			Destinations:    20,
			OriginArea:      AreaConfig{MinX: 0, MinY: 0, MaxX: 0.2, MaxY: 0.2},
			DestinationArea: AreaConfig{MinX: 0.8, MinY: 0.8, MaxX: 1, MaxY: 1},
		},
		Flights: FlightsConfig{
			Count:           50,
			Speed:           0.25,
			CommRange:       200,
			DepartureWindow: 3,
		},
		Negotiation: NegotiationConfig{
			ManagerRatio: p.ManagerRatio,
			CNP: CNPConfig{
				Window:         p.Window,
				BidFraction:    p.BidFraction,
				ReserveUtility: p.ReserveUtility,
				ReservePrice:   p.ReservePrice,
			},
			Auction: AuctionConfig{
				DynamicReserve:        p.DynamicReserve,
				MinReserve:            p.MinReserve,
				StaticReserve:         p.StaticReserve,
				Window:                p.AuctionWindow,
				RaiseFraction:         p.RaiseFraction,
				MinBidUtilityFraction: p.MinBidUtilityFraction,
				PromoteProbability:    p.PromoteProbability,
			},
		},
		Batch: BatchConfig{
			Iterations: 10,
			Parallel:   4,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(defaultDataDir(), "runs.db"),
		},
		Gateway: GatewayConfig{
			Addr:      ":8095",
			RateLimit: 20,
			Burst:     40,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, merges its includes and applies env var
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		if err := applyIncludes(cfg, absPath); err != nil {
			return nil, err
		}

		// The main file wins over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps FORMATION_* env vars to config fields. Values that
// fail to parse are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORMATION_METHOD"); v != "" {
		cfg.Simulation.Method = v
	}
	if v := os.Getenv("FORMATION_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Simulation.Seed = n
		}
	}
	if v := os.Getenv("FORMATION_MAX_TICKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.MaxTicks = n
		}
	}
	if v := os.Getenv("FORMATION_FLIGHTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Flights.Count = n
		}
	}
	if v := os.Getenv("FORMATION_STORE_PATH"); v != "" {
		cfg.Store.Path = v
		cfg.Store.Enabled = true
	}
	if v := os.Getenv("FORMATION_GEOJSON"); v != "" {
		cfg.Export.GeoJSON = v
	}
	if v := os.Getenv("FORMATION_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("FORMATION_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FORMATION_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("FORMATION_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("FORMATION_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// validatePermissions checks the config file is not writable by others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

// methodNames lists the accepted spellings for error messages.
func methodNames() string {
	names := make([]string, 0, 5)
	for m := domain.MethodGreedy; m.Valid(); m++ {
		names = append(names, m.String())
	}
	return strings.Join(names, ", ")
}

// Params converts the section into protocol tunables.
func (n NegotiationConfig) Params() negotiation.Params {
	return negotiation.Params{
		ManagerRatio:          n.ManagerRatio,
		Window:                n.CNP.Window,
		BidFraction:           n.CNP.BidFraction,
		ReserveUtility:        n.CNP.ReserveUtility,
		ReservePrice:          n.CNP.ReservePrice,
		DynamicReserve:        n.Auction.DynamicReserve,
		MinReserve:            n.Auction.MinReserve,
		StaticReserve:         n.Auction.StaticReserve,
		AuctionWindow:         n.Auction.Window,
		RaiseFraction:         n.Auction.RaiseFraction,
		MinBidUtilityFraction: n.Auction.MinBidUtilityFraction,
		PromoteProbability:    n.Auction.PromoteProbability,
	}
}

// BehaviorWeights parses the behavior mix. An empty mix makes every flight
// a budget flight.
func (f FlightsConfig) BehaviorWeights() (map[domain.Behavior]float64, error) {
	if len(f.Behaviors) == 0 {
		return map[domain.Behavior]float64{domain.BehaviorBudget: 1}, nil
	}
	weights := make(map[domain.Behavior]float64, len(f.Behaviors))
	for name, w := range f.Behaviors {
		b, err := domain.ParseBehavior(name)
		if err != nil {
			return nil, err
		}
		weights[b] += w
	}
	return weights, nil
}
