package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"formation-flying/internal/adapter/export"
	"formation-flying/internal/adapter/store"
	"formation-flying/internal/domain"
	"formation-flying/internal/infra/logger"
	"formation-flying/internal/usecase/sim"
)

// seriesEvery is the tick interval of the stored totals series.
const seriesEvery = 10

// runner executes simulations and records their results.
type runner struct {
	logger *slog.Logger
	store  *store.SQLiteRunStore // nil disables persistence

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newRunner(log *slog.Logger, st *store.SQLiteRunStore) *runner {
	return &runner{
		logger:  log,
		store:   st,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), // #nosec G404 -- ids only
	}
}

func (r *runner) newID() string {
	if r.store != nil {
		return r.store.NewID()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
}

// job describes one run.
type job struct {
	cfg       sim.Config
	batch     string
	iteration int
	geojson   string
	sink      domain.EventSink
	// onTick runs after each tick, before the next starts.
	onTick func(sim.Snapshot)
}

type outcome struct {
	run    *store.Run
	result sim.Result
}

func (r *runner) execute(ctx context.Context, j job) (outcome, error) {
	id := r.newID()
	log := logger.ForRun(r.logger, id, j.cfg.Method.String())

	var series []store.TickTotals
	opts := []sim.Option{
		sim.WithLogger(log),
		sim.WithTickObserver(func(s sim.Snapshot) {
			if s.Tick%seriesEvery == 0 {
				series = append(series, store.TickTotals{Tick: s.Tick, Totals: s.Totals})
			}
		}),
	}
	if j.sink != nil {
		opts = append(opts, sim.WithSink(j.sink))
	}
	var tracker *export.Tracker
	if j.geojson != "" {
		tracker = export.NewTracker(seriesEvery)
		opts = append(opts, sim.WithTickObserver(tracker.Observe))
	}
	if j.onTick != nil {
		opts = append(opts, sim.WithTickObserver(j.onTick))
	}

	s, err := sim.New(j.cfg, opts...)
	if err != nil {
		return outcome{}, err
	}
	if err := s.Populate(); err != nil {
		return outcome{}, err
	}
	res, err := s.Run(ctx, 0)
	if err != nil {
		return outcome{}, fmt.Errorf("run %s: %w", id, err)
	}
	if last := res.Ticks - 1; last >= 0 && (len(series) == 0 || series[len(series)-1].Tick != last) {
		series = append(series, store.TickTotals{Tick: last, Totals: res.Totals})
	}

	run := &store.Run{
		ID:        id,
		Method:    j.cfg.Method.String(),
		Seed:      j.cfg.Seed,
		Flights:   len(res.Flights),
		Ticks:     res.Ticks,
		Done:      res.Done,
		Batch:     j.batch,
		Iteration: j.iteration,
		Totals:    res.Totals,
		Summary:   res.Summary,
		CreatedAt: time.Now().UTC(),
	}
	if r.store != nil {
		if err := r.store.SaveRun(ctx, run, res.Flights, series); err != nil {
			return outcome{}, fmt.Errorf("save run %s: %w", id, err)
		}
		log.Debug("run stored", "series", len(series))
	}
	if tracker != nil {
		if err := tracker.WriteFile(j.geojson); err != nil {
			return outcome{}, fmt.Errorf("export: %w", err)
		}
		log.Info("routes exported", "path", j.geojson)
	}
	if !res.Done {
		log.Warn("tick limit reached before every flight arrived", "ticks", res.Ticks)
	}
	return outcome{run: run, result: res}, nil
}
