package traj

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SegmentEpsilon is the minimum segment length considered non-degenerate
// when computing curvature. Interior points whose incoming or outgoing
// segment is shorter than this are skipped (no defined curvature).
const SegmentEpsilon = 1e-6

// QualityMetrics holds the geometric quality assessment of one trajectory.
// These values are compared across runtimes (the gonum engine and the
// native ONNX path), so every formula here is the single source of truth.
type QualityMetrics struct {
	PathLength       float64 `json:"path_length"`
	StraightLineDist float64 `json:"straight_line_distance"`
	PathEfficiency   float64 `json:"path_efficiency"`
	AvgCurvature     float64 `json:"avg_curvature"`
	MaxCurvature     float64 `json:"max_curvature"`
	SmoothnessScore  float64 `json:"smoothness_score"`
	EndpointError    float64 `json:"endpoint_error"`
	AvgVelocity      float64 `json:"avg_velocity"`
	MinAltitude      float64 `json:"min_altitude"`
	MaxAltitude      float64 `json:"max_altitude"`
	AvgAltitude      float64 `json:"avg_altitude"`
}

// ToJSON serializes the metrics for storage or API responses.
func (m *QualityMetrics) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PathLength returns the sum of Euclidean distances between consecutive
// waypoints. Zero for trajectories shorter than two points.
func PathLength(t Trajectory) float64 {
	if len(t) < 2 {
		return 0
	}
	var length float64
	for i := 0; i < len(t)-1; i++ {
		length += t[i+1].Dist(t[i])
	}
	return length
}

// StraightLineDistance returns the distance from the first to the last
// waypoint.
func StraightLineDistance(t Trajectory) float64 {
	if len(t) < 2 {
		return 0
	}
	return t[len(t)-1].Dist(t[0])
}

// PathEfficiency returns straight-line distance divided by path length,
// bounded in (0, 1]. A degenerate path (fewer than two points, or total
// length below epsilon) is defined as perfectly efficient: 1.0.
func PathEfficiency(t Trajectory) float64 {
	if len(t) < 2 {
		return 1.0
	}
	length := PathLength(t)
	if length < SegmentEpsilon {
		return 1.0
	}
	eff := StraightLineDistance(t) / length
	// The triangle inequality bounds efficiency at 1; clamp the residual
	// floating-point excess so downstream scores stay in range.
	if eff > 1.0 {
		eff = 1.0
	}
	return eff
}

// Curvatures returns the turning angle per unit length at every interior
// waypoint with well-defined incoming and outgoing segments. The curvature
// at point i is the angle between (p[i]-p[i-1]) and (p[i+1]-p[i]) divided
// by the incoming segment length. Points with a segment shorter than
// SegmentEpsilon are skipped.
func Curvatures(t Trajectory) []float64 {
	if len(t) < 3 {
		return nil
	}
	curvatures := make([]float64, 0, len(t)-2)
	for i := 1; i < len(t)-1; i++ {
		v1 := t[i].Sub(t[i-1])
		v2 := t[i+1].Sub(t[i])
		norm1 := v1.Norm()
		norm2 := v2.Norm()
		if norm1 <= SegmentEpsilon || norm2 <= SegmentEpsilon {
			continue
		}
		cos := v1.Dot(v2) / (norm1 * norm2)
		if cos > 1 {
			cos = 1
		} else if cos < -1 {
			cos = -1
		}
		curvatures = append(curvatures, math.Acos(cos)/norm1)
	}
	return curvatures
}

// AvgCurvature returns the mean curvature over interior points, or 0 when
// no interior point has a defined curvature.
func AvgCurvature(t Trajectory) float64 {
	curvatures := Curvatures(t)
	if len(curvatures) == 0 {
		return 0
	}
	return stat.Mean(curvatures, nil)
}

// MaxCurvature returns the maximum curvature over interior points, or 0
// when no interior point has a defined curvature.
func MaxCurvature(t Trajectory) float64 {
	curvatures := Curvatures(t)
	if len(curvatures) == 0 {
		return 0
	}
	return floats.Max(curvatures)
}

// SmoothnessScore maps average curvature into (0, 1]: 1/(1+avgCurvature).
// A straight path scores exactly 1.0.
func SmoothnessScore(t Trajectory) float64 {
	return 1.0 / (1.0 + AvgCurvature(t))
}

// EndpointError returns the distance between the trajectory's final
// waypoint and the declared end boundary. This measures how well boundary
// conditioning worked in physical space, independent of any training-time
// loss term.
func EndpointError(t Trajectory, declaredEnd Waypoint) float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].Dist(declaredEnd)
}

// AvgVelocity returns the mean per-step displacement.
func AvgVelocity(t Trajectory) float64 {
	if len(t) < 2 {
		return 0
	}
	return PathLength(t) / float64(len(t)-1)
}

// Evaluate computes the full metric set for one denormalized trajectory
// against its declared end waypoint.
func Evaluate(t Trajectory, declaredEnd Waypoint) QualityMetrics {
	var m QualityMetrics
	if len(t) == 0 {
		return m
	}

	m.PathLength = PathLength(t)
	m.StraightLineDist = StraightLineDistance(t)
	m.PathEfficiency = PathEfficiency(t)
	m.AvgCurvature = AvgCurvature(t)
	m.MaxCurvature = MaxCurvature(t)
	m.SmoothnessScore = 1.0 / (1.0 + m.AvgCurvature)
	m.EndpointError = EndpointError(t, declaredEnd)
	m.AvgVelocity = AvgVelocity(t)

	m.MinAltitude = t[0].Z
	m.MaxAltitude = t[0].Z
	var sum float64
	for _, wp := range t {
		m.MinAltitude = math.Min(m.MinAltitude, wp.Z)
		m.MaxAltitude = math.Max(m.MaxAltitude, wp.Z)
		sum += wp.Z
	}
	m.AvgAltitude = sum / float64(len(t))

	return m
}

// MinClearance returns the smallest signed distance from any waypoint to
// any obstacle surface. Negative values mean the trajectory intersects an
// obstacle. Returns +Inf when either list is empty.
func MinClearance(t Trajectory, obstacles []Obstacle) float64 {
	min := math.Inf(1)
	for _, wp := range t {
		for _, obs := range obstacles {
			if d := obs.Clearance(wp); d < min {
				min = d
			}
		}
	}
	return min
}

// SafetyScore scores a trajectory against a set of obstacles: positive
// minimum clearance when no waypoint intersects, otherwise the negated sum
// of penetration depths. Obstacle-free inputs score 1.0. Higher is safer.
func SafetyScore(t Trajectory, obstacles []Obstacle) float64 {
	if len(obstacles) == 0 {
		return 1.0
	}

	minDist := math.Inf(1)
	var collisionPenalty float64
	for _, wp := range t {
		for _, obs := range obstacles {
			d := obs.Clearance(wp)
			if d < minDist {
				minDist = d
			}
			if d < 0 {
				collisionPenalty += -d
			}
		}
	}

	if collisionPenalty > 0 {
		return -collisionPenalty
	}
	return minDist
}

// Diversity returns the mean pairwise waypoint distance across a set of
// trajectories, a measure of how different the generated candidates are
// from one another. Zero for fewer than two trajectories.
func Diversity(set []Trajectory) float64 {
	if len(set) < 2 {
		return 0
	}
	var total float64
	var pairs int
	for i := 0; i < len(set); i++ {
		for j := i + 1; j < len(set); j++ {
			a, b := set[i], set[j]
			n := len(a)
			if len(b) < n {
				n = len(b)
			}
			if n == 0 {
				continue
			}
			var d float64
			for k := 0; k < n; k++ {
				d += a[k].Dist(b[k])
			}
			total += d / float64(n)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}
