package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"formation-flying/internal/adapter/gateway"
	"formation-flying/internal/adapter/store"
	"formation-flying/internal/infra/config"
	"formation-flying/internal/infra/logger"
	"formation-flying/internal/infra/tracer"
	"formation-flying/internal/usecase/eventbus"
	"formation-flying/internal/usecase/sim"
)

// env is the process-wide infrastructure shared by every command.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLiteRunStore
	close  func()
}

func bootstrap(ctx context.Context, cfg *config.Config) (*env, error) {
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	e := &env{cfg: cfg, logger: log}
	if cfg.Store.Enabled {
		st, err := store.NewSQLiteRunStore(cfg.Store.Path)
		if err != nil {
			_ = tracerShutdown(ctx)
			logCloser()
			return nil, fmt.Errorf("store: %w", err)
		}
		e.store = st
	}
	e.close = func() {
		if e.store != nil {
			if err := e.store.Close(); err != nil {
				log.Error("store close error", "error", err)
			}
		}
		if err := tracerShutdown(context.Background()); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
		logCloser()
	}
	return e, nil
}

func runSingle(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	geo := fs.String("geojson", "", "GeoJSON export path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *geo != "" {
		cfg.Export.GeoJSON = *geo
	}
	scfg, err := simConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	e, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	out, err := newRunner(e.logger, e.store).execute(ctx, job{cfg: scfg, geojson: cfg.Export.GeoJSON})
	if err != nil {
		return err
	}
	printRun(out)
	return nil
}

func printRun(out outcome) {
	t, s := out.result.Totals, out.result.Summary
	fmt.Printf("run %s method=%s seed=%d ticks=%d done=%t\n", out.run.ID, out.run.Method, out.run.Seed, out.run.Ticks, out.run.Done)
	fmt.Printf("  flights=%d arrived=%d in_formation=%d new_formations=%d added=%d\n",
		s.Flights, t.Arrived, s.InFormation, t.NewFormations, t.AddedToFormations)
	fmt.Printf("  planned_fuel=%.2f total_fuel=%.2f real_fuel_saved=%.2f deal_value=%.2f\n",
		t.PlannedFuel, t.TotalFuel, t.RealFuelSaved, t.DealValue)
	fmt.Printf("  mean_delay=%.2f saving_ratio=%.4f\n", s.MeanDelay, s.SavingRatio)
}

// sweepPoint aggregates the runs of one swept flight count.
type sweepPoint struct {
	Flights       int
	Runs          int
	MeanFuelSaved float64
	StdFuelSaved  float64
	MeanDelay     float64
	Formations    float64
}

// batchPlan lists the jobs of a batch: iterations runs for every flight
// count, with seeds counting up from the configured seed.
func batchPlan(base sim.Config, counts []int, iterations int, batch string) []job {
	if len(counts) == 0 {
		counts = []int{base.Flights}
	}
	jobs := make([]job, 0, len(counts)*iterations)
	for _, n := range counts {
		for i := range iterations {
			cfg := base
			cfg.Flights = n
			cfg.Seed = base.Seed + int64(i)
			jobs = append(jobs, job{cfg: cfg, batch: batch, iteration: i})
		}
	}
	return jobs
}

// runJobs executes jobs with at most parallel running at once. The
// outcomes keep job order.
func runJobs(ctx context.Context, r *runner, jobs []job, parallel int) ([]outcome, error) {
	out := make([]outcome, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, j := range jobs {
		g.Go(func() error {
			res, err := r.execute(ctx, j)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func summarizeSweep(outcomes []outcome) []sweepPoint {
	byCount := make(map[int][]outcome)
	for _, o := range outcomes {
		byCount[o.run.Flights] = append(byCount[o.run.Flights], o)
	}
	counts := make([]int, 0, len(byCount))
	for n := range byCount {
		counts = append(counts, n)
	}
	slices.Sort(counts)

	points := make([]sweepPoint, 0, len(counts))
	for _, n := range counts {
		group := byCount[n]
		saved := make([]float64, len(group))
		delay := make([]float64, len(group))
		formations := make([]float64, len(group))
		for i, o := range group {
			saved[i] = o.result.Totals.RealFuelSaved
			delay[i] = o.result.Summary.MeanDelay
			formations[i] = float64(o.result.Totals.NewFormations)
		}
		mean, std := stat.MeanStdDev(saved, nil)
		if len(group) < 2 {
			std = 0
		}
		points = append(points, sweepPoint{
			Flights:       n,
			Runs:          len(group),
			MeanFuelSaved: mean,
			StdFuelSaved:  std,
			MeanDelay:     stat.Mean(delay, nil),
			Formations:    stat.Mean(formations, nil),
		})
	}
	return points
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	iterations := fs.Int("iterations", 0, "runs per swept value (0 keeps the configured count)")
	ranges := fs.String("ranges", "", "comma separated flight counts")
	parallel := fs.Int("parallel", 0, "concurrent runs (0 keeps the configured value)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *iterations > 0 {
		cfg.Batch.Iterations = *iterations
	}
	if *parallel > 0 {
		cfg.Batch.Parallel = *parallel
	}
	counts, err := parseRanges(*ranges)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		counts = cfg.Batch.FlightCounts
	}
	scfg, err := simConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	e, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	r := newRunner(e.logger, e.store)
	batchID := r.newID()
	r.logger = logger.ForBatch(e.logger, batchID)
	jobs := batchPlan(scfg, counts, cfg.Batch.Iterations, batchID)
	r.logger.Info("batch starting",
		"method", scfg.Method.String(),
		"runs", len(jobs),
		"parallel", cfg.Batch.Parallel,
	)
	start := time.Now()
	outcomes, err := runJobs(ctx, r, jobs, cfg.Batch.Parallel)
	if err != nil {
		return err
	}

	fmt.Printf("batch %s method=%s runs=%d elapsed=%s\n", batchID, scfg.Method, len(outcomes), time.Since(start).Round(time.Millisecond))
	fmt.Printf("%8s %5s %16s %14s %11s %11s\n", "flights", "runs", "mean_fuel_saved", "std_fuel_saved", "mean_delay", "formations")
	for _, p := range summarizeSweep(outcomes) {
		fmt.Printf("%8d %5d %16.2f %14.2f %11.2f %11.2f\n", p.Flights, p.Runs, p.MeanFuelSaved, p.StdFuelSaved, p.MeanDelay, p.Formations)
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "listen address")
	live := fs.Bool("live", false, "run a simulation and stream its events")
	tickDelay := fs.Duration("tick-delay", 0, "pause between live ticks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}
	scfg, err := simConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	e, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	var bus *eventbus.Bus
	if *live {
		bus = eventbus.New(e.logger)
		defer bus.Close()
	}
	srv := newGateway(cfg.Gateway, e, bus)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			errCh <- err
			cancel()
		}
	}()

	if bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := job{cfg: scfg, sink: bus}
			if *tickDelay > 0 {
				limiter := rate.NewLimiter(rate.Every(*tickDelay), 1)
				j.onTick = func(sim.Snapshot) { _ = limiter.Wait(ctx) }
			}
			out, err := newRunner(e.logger, e.store).execute(ctx, j)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					errCh <- err
				}
				return
			}
			e.logger.Info("live run finished; still serving", "run", out.run.ID)
		}()
	}

	<-ctx.Done()
	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Stop(stopCtx); err != nil {
		e.logger.Error("gateway shutdown error", "error", err)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func newGateway(g config.GatewayConfig, e *env, bus *eventbus.Bus) *gateway.Server {
	opts := gateway.Options{
		Addr:           g.Addr,
		RateLimit:      g.RateLimit,
		Burst:          g.Burst,
		AllowedOrigins: g.AllowedOrigins,
		Auth:           gateway.NewTokenAuth(g.Tokens),
	}
	var runs gateway.RunStore
	if e.store != nil {
		runs = e.store
	}
	if bus != nil {
		return gateway.NewServer(bus, runs, opts, e.logger)
	}
	return gateway.NewServer(nil, runs, opts, e.logger)
}
