package traj

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(n int, from, to Waypoint) Trajectory {
	t := make(Trajectory, n)
	for i := 0; i < n; i++ {
		alpha := float64(i) / float64(n-1)
		t[i] = Waypoint{
			X: from.X + alpha*(to.X-from.X),
			Y: from.Y + alpha*(to.Y-from.Y),
			Z: from.Z + alpha*(to.Z-from.Z),
		}
	}
	return t
}

func TestPathLength(t *testing.T) {
	t.Parallel()

	t.Run("empty and single point paths have zero length", func(t *testing.T) {
		assert.Zero(t, PathLength(nil))
		assert.Zero(t, PathLength(Trajectory{{X: 1, Y: 2, Z: 3}}))
	})

	t.Run("straight line length equals endpoint distance", func(t *testing.T) {
		tr := line(50, Waypoint{}, Waypoint{X: 30, Y: 40, Z: 0})
		assert.InDelta(t, 50.0, PathLength(tr), 1e-9)
		assert.InDelta(t, 50.0, StraightLineDistance(tr), 1e-9)
	})

	t.Run("right angle path", func(t *testing.T) {
		tr := Trajectory{{}, {X: 3}, {X: 3, Y: 4}}
		assert.InDelta(t, 7.0, PathLength(tr), 1e-9)
		assert.InDelta(t, 5.0, StraightLineDistance(tr), 1e-9)
	})
}

func TestPathEfficiency(t *testing.T) {
	t.Parallel()

	t.Run("degenerate paths are perfectly efficient", func(t *testing.T) {
		assert.Equal(t, 1.0, PathEfficiency(nil))
		assert.Equal(t, 1.0, PathEfficiency(Trajectory{{X: 5}}))

		// Zero-distance start/end: all waypoints coincide.
		p := Waypoint{X: 0, Y: 0, Z: 100}
		tr := Trajectory{p, p, p, p, p}
		assert.Equal(t, 1.0, PathEfficiency(tr))
	})

	t.Run("straight line is fully efficient", func(t *testing.T) {
		tr := line(50, Waypoint{Z: 100}, Waypoint{X: 800, Y: 600, Z: 200})
		assert.InDelta(t, 1.0, PathEfficiency(tr), 1e-9)
	})

	t.Run("detour reduces efficiency and stays in (0,1]", func(t *testing.T) {
		tr := Trajectory{{}, {X: 3}, {X: 3, Y: 4}}
		eff := PathEfficiency(tr)
		assert.InDelta(t, 5.0/7.0, eff, 1e-9)
		assert.Greater(t, eff, 0.0)
		assert.LessOrEqual(t, eff, 1.0)
	})
}

func TestCurvature(t *testing.T) {
	t.Parallel()

	t.Run("collinear points have zero curvature and perfect smoothness", func(t *testing.T) {
		tr := Trajectory{{}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}}
		curvatures := Curvatures(tr)
		require.Len(t, curvatures, 1)
		assert.Equal(t, 0.0, curvatures[0])
		assert.Equal(t, 0.0, AvgCurvature(tr))
		assert.Equal(t, 1.0, SmoothnessScore(tr))
	})

	t.Run("right angle turn", func(t *testing.T) {
		tr := Trajectory{{}, {X: 2}, {X: 2, Y: 2}}
		curvatures := Curvatures(tr)
		require.Len(t, curvatures, 1)
		// 90 degrees over an incoming segment of length 2.
		assert.InDelta(t, math.Pi/2/2, curvatures[0], 1e-9)
	})

	t.Run("coincident points are skipped", func(t *testing.T) {
		tr := Trajectory{{}, {}, {X: 1}}
		assert.Empty(t, Curvatures(tr))
		assert.Equal(t, 0.0, AvgCurvature(tr))
		assert.Equal(t, 0.0, MaxCurvature(tr))
	})

	t.Run("too short trajectories have no curvature", func(t *testing.T) {
		assert.Nil(t, Curvatures(Trajectory{{}, {X: 1}}))
		assert.Equal(t, 0.0, AvgCurvature(Trajectory{{}}))
	})

	t.Run("max curvature picks the sharpest turn", func(t *testing.T) {
		tr := Trajectory{{}, {X: 1}, {X: 2, Y: 0.1}, {X: 3, Y: 2}}
		max := MaxCurvature(tr)
		avg := AvgCurvature(tr)
		assert.GreaterOrEqual(t, max, avg)
		assert.Greater(t, max, 0.0)
	})
}

func TestSmoothnessBounds(t *testing.T) {
	t.Parallel()

	trs := []Trajectory{
		line(50, Waypoint{}, Waypoint{X: 100}),
		{{}, {X: 2}, {X: 2, Y: 2}, {X: 0, Y: 2}},
		{{}, {X: 1, Z: 5}, {X: 2, Z: -5}, {X: 3, Z: 5}},
	}
	for _, tr := range trs {
		s := SmoothnessScore(tr)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestEndpointError(t *testing.T) {
	t.Parallel()

	tr := line(10, Waypoint{}, Waypoint{X: 10})
	assert.InDelta(t, 0.0, EndpointError(tr, Waypoint{X: 10}), 1e-12)
	assert.InDelta(t, 5.0, EndpointError(tr, Waypoint{X: 10, Y: 3, Z: 4}), 1e-9)
	assert.Equal(t, 0.0, EndpointError(nil, Waypoint{X: 1}))
}

func TestSafetyScore(t *testing.T) {
	t.Parallel()

	// 21 points over [0, 100] puts a waypoint exactly at x=50.
	tr := line(21, Waypoint{}, Waypoint{X: 100})

	t.Run("no obstacles scores 1.0", func(t *testing.T) {
		assert.Equal(t, 1.0, SafetyScore(tr, nil))
	})

	t.Run("clear obstacle yields positive minimum clearance", func(t *testing.T) {
		obs := []Obstacle{{Center: Waypoint{X: 50, Y: 20}, Radius: 5}}
		score := SafetyScore(tr, obs)
		assert.InDelta(t, 15.0, score, 1e-9)
		assert.InDelta(t, 15.0, MinClearance(tr, obs), 1e-9)
	})

	t.Run("intersecting obstacle scores negative", func(t *testing.T) {
		obs := []Obstacle{{Center: Waypoint{X: 50}, Radius: 3}}
		score := SafetyScore(tr, obs)
		assert.Less(t, score, 0.0)
		assert.Less(t, MinClearance(tr, obs), 0.0)
	})

	t.Run("far obstacle is effectively irrelevant", func(t *testing.T) {
		obs := []Obstacle{{Center: Waypoint{X: 10000, Y: 10000, Z: 10000}, Radius: 1}}
		assert.Greater(t, SafetyScore(tr, obs), 1000.0)
	})
}

func TestDiversity(t *testing.T) {
	t.Parallel()

	a := line(10, Waypoint{}, Waypoint{X: 10})
	b := line(10, Waypoint{Y: 2}, Waypoint{X: 10, Y: 2})

	assert.Equal(t, 0.0, Diversity(nil))
	assert.Equal(t, 0.0, Diversity([]Trajectory{a}))
	assert.InDelta(t, 2.0, Diversity([]Trajectory{a, b}), 1e-9)
	assert.InDelta(t, 0.0, Diversity([]Trajectory{a, a.Clone()}), 1e-12)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tr := line(50, Waypoint{Z: 100}, Waypoint{X: 300, Y: 400, Z: 100})
	m := Evaluate(tr, Waypoint{X: 300, Y: 400, Z: 100})

	assert.InDelta(t, 500.0, m.PathLength, 1e-9)
	assert.InDelta(t, 1.0, m.PathEfficiency, 1e-9)
	assert.InDelta(t, 1.0, m.SmoothnessScore, 1e-9)
	assert.InDelta(t, 0.0, m.EndpointError, 1e-9)
	assert.InDelta(t, 100.0, m.MinAltitude, 1e-12)
	assert.InDelta(t, 100.0, m.MaxAltitude, 1e-12)
	assert.InDelta(t, 100.0, m.AvgAltitude, 1e-12)
	assert.InDelta(t, 500.0/49.0, m.AvgVelocity, 1e-9)

	_, err := m.ToJSON()
	require.NoError(t, err)
}
