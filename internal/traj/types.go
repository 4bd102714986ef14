package traj

import (
	"fmt"
	"math"
)

// Waypoint is a single 3D position in meters. Value type, never mutated
// in place by any package in this module.
type Waypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns the vector from o to w.
func (w Waypoint) Sub(o Waypoint) Waypoint {
	return Waypoint{w.X - o.X, w.Y - o.Y, w.Z - o.Z}
}

// Norm returns the Euclidean length of w treated as a vector.
func (w Waypoint) Norm() float64 {
	return math.Sqrt(w.X*w.X + w.Y*w.Y + w.Z*w.Z)
}

// Dot returns the dot product of w and o treated as vectors.
func (w Waypoint) Dot(o Waypoint) float64 {
	return w.X*o.X + w.Y*o.Y + w.Z*o.Z
}

// Dist returns the Euclidean distance between two waypoints.
func (w Waypoint) Dist(o Waypoint) float64 {
	return w.Sub(o).Norm()
}

// IsFinite reports whether all three coordinates are finite reals.
func (w Waypoint) IsFinite() bool {
	return !math.IsNaN(w.X) && !math.IsInf(w.X, 0) &&
		!math.IsNaN(w.Y) && !math.IsInf(w.Y, 0) &&
		!math.IsNaN(w.Z) && !math.IsInf(w.Z, 0)
}

// Trajectory is an ordered sequence of waypoints. Within a training batch
// every trajectory has the same configured length; the first and last
// waypoints approximate the declared boundary conditions.
type Trajectory []Waypoint

// Clone returns a deep copy of the trajectory.
func (t Trajectory) Clone() Trajectory {
	out := make(Trajectory, len(t))
	copy(out, t)
	return out
}

// Validate checks that the trajectory has the expected waypoint count and
// that every coordinate is finite.
func (t Trajectory) Validate(wantLen int) error {
	if len(t) != wantLen {
		return fmt.Errorf("trajectory has %d waypoints, expected %d", len(t), wantLen)
	}
	for i, wp := range t {
		if !wp.IsFinite() {
			return fmt.Errorf("waypoint %d is not finite: %+v", i, wp)
		}
	}
	return nil
}

// Obstacle is a spherical exclusion zone. Only the ranking engine looks at
// obstacles; the generative model itself is never conditioned on them.
type Obstacle struct {
	Center Waypoint `json:"center"`
	Radius float64  `json:"radius"`
}

// Clearance returns the signed distance from wp to the obstacle surface.
// Negative values mean wp lies inside the sphere.
func (o Obstacle) Clearance(wp Waypoint) float64 {
	return wp.Dist(o.Center) - o.Radius
}
