package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/sim"
)

func pairRun(t *testing.T, tr *Tracker) {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Method = domain.MethodGreedy
	cfg.Speed = 5
	s, err := sim.New(cfg, sim.WithTickObserver(tr.Observe))
	require.NoError(t, err)

	for _, x := range []float64{0, 10} {
		dest := s.AddAirport(orb.Point{x, 300}, domain.AirportDestination, 0)
		_, err := s.AddFlight(orb.Point{x, 0}, dest, 0, domain.BehaviorBalanced)
		require.NoError(t, err)
	}
	s.Fleet().Flight(0).Promote()
	s.Fleet().Flight(1).Demote()

	res, err := s.Run(context.Background(), 500)
	require.NoError(t, err)
	require.True(t, res.Done)
}

func byKind(fc *geojson.FeatureCollection) map[string][]*geojson.Feature {
	out := make(map[string][]*geojson.Feature)
	for _, f := range fc.Features {
		kind := f.Properties.MustString("kind")
		out[kind] = append(out[kind], f)
	}
	return out
}

func TestTrackerCollectsRunGeometry(t *testing.T) {
	tr := NewTracker(5)
	pairRun(t, tr)

	kinds := byKind(tr.FeatureCollection())
	require.Len(t, kinds["airport"], 2)
	require.Len(t, kinds["track"], 2)
	require.Len(t, kinds["joining_point"], 1)
	require.Len(t, kinds["leaving_point"], 1)

	track := kinds["track"][0]
	line, ok := track.Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Equal(t, orb.Point{0, 0}, line[0], "track starts at the origin")
	assert.InDelta(t, 300, line[len(line)-1][1], 5, "track ends near the destination")
	assert.Equal(t, 0, track.Properties.MustInt("flight"))
	assert.Equal(t, "balanced", track.Properties.MustString("behavior"))
	assert.Greater(t, track.Properties.MustFloat64("length"), 290.0)

	jp := kinds["joining_point"][0]
	assert.Equal(t, 0, jp.Properties.MustInt("manager"))
	pt, ok := jp.Geometry.(orb.Point)
	require.True(t, ok)
	assert.True(t, pt[0] >= 0 && pt[0] <= 10)
}

func TestTrackerSamplingThinsTracks(t *testing.T) {
	dense, sparse := NewTracker(1), NewTracker(10)
	pairRun(t, dense)
	pairRun(t, sparse)

	d := byKind(dense.FeatureCollection())["track"][0].Geometry.(orb.LineString)
	s := byKind(sparse.FeatureCollection())["track"][0].Geometry.(orb.LineString)
	assert.Greater(t, len(d), len(s))
	assert.Equal(t, d[len(d)-1], s[len(s)-1], "the arrival position is always kept")
}

func TestWriteFile(t *testing.T) {
	tr := NewTracker(0)
	pairRun(t, tr)
	path := filepath.Join(t.TempDir(), "run.geojson")
	require.NoError(t, tr.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 6)

	assert.Error(t, tr.WriteFile(filepath.Join(t.TempDir(), "missing", "run.geojson")))
}
