// Package export writes the geometry of a run as GeoJSON.
package export

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/geometry"
	"formation-flying/internal/usecase/sim"
)

type formationPoint struct {
	manager domain.FlightID
	kind    string
	pos     orb.Point
	tick    int
}

// Tracker samples a running simulation through sim.WithTickObserver.
// It is not safe for concurrent use.
type Tracker struct {
	every    int
	airports []domain.Airport
	flights  map[domain.FlightID]*track
	order    []domain.FlightID
	points   []formationPoint
	seen     map[formationPoint]bool
}

type track struct {
	behavior domain.Behavior
	line     orb.LineString
}

// NewTracker samples positions every n ticks; n < 1 samples every tick.
// Formation points are recorded on every tick regardless.
func NewTracker(every int) *Tracker {
	if every < 1 {
		every = 1
	}
	return &Tracker{
		every:   every,
		flights: make(map[domain.FlightID]*track),
		seen:    make(map[formationPoint]bool),
	}
}

// Observe records one tick.
func (t *Tracker) Observe(snap sim.Snapshot) {
	t.airports = t.airports[:0]
	for _, a := range snap.Fleet.Airports() {
		t.airports = append(t.airports, *a)
	}

	sample := snap.Tick%t.every == 0
	for _, f := range snap.Fleet.Flights() {
		tr, ok := t.flights[f.ID]
		if !ok {
			tr = &track{behavior: f.Behavior, line: orb.LineString{f.Origin}}
			t.flights[f.ID] = tr
			t.order = append(t.order, f.ID)
		}
		last := tr.line[len(tr.line)-1]
		if (sample || f.Lifecycle == domain.LifecycleArrived) && !geometry.Same(last, f.Pos) {
			tr.line = append(tr.line, f.Pos)
		}
		if f.Role == domain.RoleManager && f.HasMates() {
			t.addPoint(formationPoint{manager: f.ID, kind: "joining_point", pos: f.JoiningPoint}, snap.Tick)
			t.addPoint(formationPoint{manager: f.ID, kind: "leaving_point", pos: f.LeavingPoint}, snap.Tick)
		}
	}
}

func (t *Tracker) addPoint(p formationPoint, tick int) {
	if t.seen[p] {
		return
	}
	t.seen[p] = true
	p.tick = tick
	t.points = append(t.points, p)
}

// FeatureCollection builds the export.
func (t *Tracker) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, a := range t.airports {
		f := geojson.NewFeature(a.Pos)
		f.Properties["kind"] = "airport"
		f.Properties["id"] = int(a.ID)
		f.Properties["type"] = string(a.Type)
		if a.ClosureTick > 0 {
			f.Properties["closure_tick"] = a.ClosureTick
		}
		fc.Append(f)
	}
	for _, id := range t.order {
		tr := t.flights[id]
		f := geojson.NewFeature(tr.line)
		f.Properties["kind"] = "track"
		f.Properties["flight"] = int(id)
		f.Properties["behavior"] = string(tr.behavior)
		f.Properties["length"] = planar.Length(tr.line)
		fc.Append(f)
	}
	for _, p := range t.points {
		f := geojson.NewFeature(p.pos)
		f.Properties["kind"] = p.kind
		f.Properties["manager"] = int(p.manager)
		f.Properties["tick"] = p.tick
		fc.Append(f)
	}
	return fc
}

// WriteFile writes the export to path.
func (t *Tracker) WriteFile(path string) error {
	data, err := t.FeatureCollection().MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 -- export is meant to be shared
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
