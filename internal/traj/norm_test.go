package traj

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomCorpus(rng *rand.Rand, n, waypoints int) []Trajectory {
	corpus := make([]Trajectory, n)
	for i := range corpus {
		tr := make(Trajectory, waypoints)
		for j := range tr {
			tr[j] = Waypoint{
				X: rng.Float64()*2000 - 1000,
				Y: rng.Float64()*2000 - 1000,
				Z: rng.Float64()*450 + 50,
			}
		}
		corpus[i] = tr
	}
	return corpus
}

func TestFitNorm(t *testing.T) {
	t.Parallel()

	t.Run("empty corpus is a configuration error", func(t *testing.T) {
		_, err := FitNorm(nil)
		require.Error(t, err)
	})

	t.Run("degenerate axis is a configuration error", func(t *testing.T) {
		// All waypoints share z, so the z axis has zero variance.
		corpus := []Trajectory{
			{{X: 1, Y: 2, Z: 100}, {X: 3, Y: 4, Z: 100}},
			{{X: 5, Y: 6, Z: 100}, {X: 7, Y: 8, Z: 100}},
		}
		_, err := FitNorm(corpus)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "degenerate z axis")
	})

	t.Run("fit produces positive stds", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		p, err := FitNorm(randomCorpus(rng, 20, 50))
		require.NoError(t, err)
		require.NoError(t, p.Validate())
		for i := 0; i < 3; i++ {
			assert.Greater(t, p.Std[i], 0.0)
		}
	})
}

func TestNormalizeRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	corpus := randomCorpus(rng, 10, 50)
	p, err := FitNorm(corpus)
	require.NoError(t, err)

	for _, tr := range corpus {
		back := p.DenormalizeTrajectory(p.NormalizeTrajectory(tr))
		diff := cmp.Diff(tr, back, cmpopts.EquateApprox(0, 1e-9))
		assert.Empty(t, diff)
	}
}

func TestNormalizeCentersCorpus(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	corpus := randomCorpus(rng, 15, 50)
	p, err := FitNorm(corpus)
	require.NoError(t, err)

	var sum Waypoint
	var n int
	for _, tr := range corpus {
		for _, wp := range p.NormalizeTrajectory(tr) {
			sum.X += wp.X
			sum.Y += wp.Y
			sum.Z += wp.Z
			n++
		}
	}
	assert.InDelta(t, 0.0, sum.X/float64(n), 1e-9)
	assert.InDelta(t, 0.0, sum.Y/float64(n), 1e-9)
	assert.InDelta(t, 0.0, sum.Z/float64(n), 1e-9)
}

func TestFlatKVRoundTrip(t *testing.T) {
	t.Parallel()

	p := NormParams{
		Mean: [3]float64{12.5, -30.25, 275.0},
		Std:  [3]float64{577.35, 412.9, 129.9},
	}

	back, err := NormParamsFromFlatKV(p.FlatKV())
	require.NoError(t, err)
	assert.Equal(t, p, back)

	t.Run("missing key rejected", func(t *testing.T) {
		kv := p.FlatKV()
		delete(kv, "std_y")
		_, err := NormParamsFromFlatKV(kv)
		require.Error(t, err)
	})

	t.Run("file round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "normalization.json")
		require.NoError(t, p.SaveFlatKV(path))
		loaded, err := LoadNormParams(path)
		require.NoError(t, err)
		assert.Equal(t, p, loaded)
	})
}
