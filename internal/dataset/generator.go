// Package dataset synthesizes training corpora of smooth 3D trajectories
// and reads/writes them in the flat CSV interchange format.
package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/interp"

	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// Bounds is the axis-aligned box trajectories are synthesized in.
type Bounds struct {
	XMin, XMax float64
	YMin, YMax float64
	ZMin, ZMax float64
}

// DefaultBounds covers a 2x2 km operating area between 50 and 500 m
// altitude.
func DefaultBounds() Bounds {
	return Bounds{XMin: -1000, XMax: 1000, YMin: -1000, YMax: 1000, ZMin: 50, ZMax: 500}
}

func (b Bounds) clamp(w traj.Waypoint) traj.Waypoint {
	return traj.Waypoint{
		X: math.Min(math.Max(w.X, b.XMin), b.XMax),
		Y: math.Min(math.Max(w.Y, b.YMin), b.YMax),
		Z: math.Min(math.Max(w.Z, b.ZMin), b.ZMax),
	}
}

// Contains reports whether w lies inside the box.
func (b Bounds) Contains(w traj.Waypoint) bool {
	return w.X >= b.XMin && w.X <= b.XMax &&
		w.Y >= b.YMin && w.Y <= b.YMax &&
		w.Z >= b.ZMin && w.Z <= b.ZMax
}

// Method names a synthesis algorithm. The value is persisted in the CSV
// corpus so downstream evaluation can slice by method.
type Method string

const (
	MethodBezier Method = "bezier"
	MethodSpline Method = "spline"
	MethodDubins Method = "dubins"
)

// Methods lists the synthesis algorithms in round-robin order.
var Methods = []Method{MethodBezier, MethodSpline, MethodDubins}

// Sample is one labeled trajectory of the corpus.
type Sample struct {
	ID     int
	Method Method
	Start  traj.Waypoint
	End    traj.Waypoint
	Points traj.Trajectory
}

// Generator synthesizes trajectories from a seeded stream. Not safe for
// concurrent use; give each worker its own Generator.
type Generator struct {
	Bounds Bounds
	rng    *rand.Rand
}

// NewGenerator builds a generator over the given bounds.
func NewGenerator(bounds Bounds, seed int64) *Generator {
	return &Generator{Bounds: bounds, rng: rand.New(rand.NewSource(seed))}
}

// RandomWaypoint draws a uniform waypoint inside the bounds.
func (g *Generator) RandomWaypoint() traj.Waypoint {
	return traj.Waypoint{
		X: g.Bounds.XMin + g.rng.Float64()*(g.Bounds.XMax-g.Bounds.XMin),
		Y: g.Bounds.YMin + g.rng.Float64()*(g.Bounds.YMax-g.Bounds.YMin),
		Z: g.Bounds.ZMin + g.rng.Float64()*(g.Bounds.ZMax-g.Bounds.ZMin),
	}
}

// Bezier samples n waypoints from a Bézier curve through randomly
// perturbed control points between start and end. Altitude perturbation
// is halved so paths stay flyable.
func (g *Generator) Bezier(start, end traj.Waypoint, nControl, n int) traj.Trajectory {
	control := make([]traj.Waypoint, 0, nControl+2)
	control = append(control, start)
	for i := 0; i < nControl; i++ {
		alpha := float64(i+1) / float64(nControl+1)
		cp := traj.Waypoint{
			X: start.X*(1-alpha) + end.X*alpha + g.rng.NormFloat64()*100,
			Y: start.Y*(1-alpha) + end.Y*alpha + g.rng.NormFloat64()*100,
			Z: start.Z*(1-alpha) + end.Z*alpha + g.rng.NormFloat64()*50,
		}
		control = append(control, g.Bounds.clamp(cp))
	}
	control = append(control, end)

	out := make(traj.Trajectory, n)
	deg := len(control) - 1
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		var p traj.Waypoint
		for j, cp := range control {
			b := bernstein(j, deg, t)
			p.X += b * cp.X
			p.Y += b * cp.Y
			p.Z += b * cp.Z
		}
		out[i] = p
	}
	return out
}

func bernstein(i, n int, t float64) float64 {
	return binomial(n, i) * math.Pow(t, float64(i)) * math.Pow(1-t, float64(n-i))
}

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	b := 1.0
	for i := 0; i < k; i++ {
		b = b * float64(n-i) / float64(i+1)
	}
	return b
}

// Spline samples n waypoints from a natural cubic spline through
// randomly jittered intermediate waypoints.
func (g *Generator) Spline(start, end traj.Waypoint, nWaypoints, n int) (traj.Trajectory, error) {
	knots := make([]traj.Waypoint, 0, nWaypoints+2)
	knots = append(knots, start)
	for i := 0; i < nWaypoints; i++ {
		alpha := float64(i+1) / float64(nWaypoints+1)
		w := traj.Waypoint{
			X: start.X*(1-alpha) + end.X*alpha + g.rng.NormFloat64()*50,
			Y: start.Y*(1-alpha) + end.Y*alpha + g.rng.NormFloat64()*50,
			Z: start.Z*(1-alpha) + end.Z*alpha + g.rng.NormFloat64()*15,
		}
		knots = append(knots, g.Bounds.clamp(w))
	}
	knots = append(knots, end)
	return sampleSpline(knots, n)
}

// DubinsLike approximates a turn-straight-turn path: a spline through
// start, two turn anchors one radius along the straight-line direction,
// and end. Pairs closer than two radii fall back to a plain spline.
func (g *Generator) DubinsLike(start, end traj.Waypoint, turnRadius float64, n int) (traj.Trajectory, error) {
	dir := end.Sub(start)
	dist := dir.Norm()
	if dist < 2*turnRadius {
		return g.Spline(start, end, 2, n)
	}

	ux, uy, uz := dir.X/dist, dir.Y/dist, dir.Z/dist
	turn1 := traj.Waypoint{X: start.X + ux*turnRadius, Y: start.Y + uy*turnRadius, Z: start.Z + uz*turnRadius}
	turn2 := traj.Waypoint{X: end.X - ux*turnRadius, Y: end.Y - uy*turnRadius, Z: end.Z - uz*turnRadius}
	return sampleSpline([]traj.Waypoint{start, turn1, turn2, end}, n)
}

// sampleSpline interpolates the knots per axis with a natural cubic
// spline over a uniform parameter and samples n points. Fit fails on
// unsorted or too-short input.
func sampleSpline(knots []traj.Waypoint, n int) (traj.Trajectory, error) {
	ts := make([]float64, len(knots))
	xs := make([]float64, len(knots))
	ys := make([]float64, len(knots))
	zs := make([]float64, len(knots))
	for i, w := range knots {
		ts[i] = float64(i) / float64(len(knots)-1)
		xs[i], ys[i], zs[i] = w.X, w.Y, w.Z
	}

	var cx, cy, cz interp.NaturalCubic
	if err := cx.Fit(ts, xs); err != nil {
		return nil, fmt.Errorf("spline fit over %d knots: %w", len(knots), err)
	}
	if err := cy.Fit(ts, ys); err != nil {
		return nil, fmt.Errorf("spline fit over %d knots: %w", len(knots), err)
	}
	if err := cz.Fit(ts, zs); err != nil {
		return nil, fmt.Errorf("spline fit over %d knots: %w", len(knots), err)
	}

	out := make(traj.Trajectory, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		out[i] = traj.Waypoint{X: cx.Predict(t), Y: cy.Predict(t), Z: cz.Predict(t)}
	}
	return out, nil
}

// minPairDistance rejects start/end pairs too close for an interesting
// trajectory.
const minPairDistance = 200.0

// GenerateCorpus synthesizes count samples, cycling through the methods
// round-robin. Every sample has exactly nPoints waypoints.
func (g *Generator) GenerateCorpus(count, nPoints int) ([]Sample, error) {
	if count <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", count)
	}
	if nPoints < 2 {
		return nil, fmt.Errorf("waypoint count must be at least 2, got %d", nPoints)
	}

	samples := make([]Sample, count)
	for i := 0; i < count; i++ {
		start := g.RandomWaypoint()
		end := g.RandomWaypoint()
		for end.Dist(start) < minPairDistance {
			end = g.RandomWaypoint()
		}

		method := Methods[i%len(Methods)]
		var points traj.Trajectory
		var err error
		switch method {
		case MethodBezier:
			points = g.Bezier(start, end, 3, nPoints)
		case MethodSpline:
			points, err = g.Spline(start, end, 5, nPoints)
		case MethodDubins:
			points, err = g.DubinsLike(start, end, 100.0, nPoints)
		}
		if err != nil {
			return nil, fmt.Errorf("sample %d (%s): %w", i, method, err)
		}

		samples[i] = Sample{ID: i, Method: method, Start: start, End: end, Points: points}
	}
	return samples, nil
}

// Split shuffles the samples with the given seed and divides them into a
// training and validation set. trainRatio must lie in (0, 1).
func Split(samples []Sample, trainRatio float64, seed int64) (train, val []Sample, err error) {
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, nil, fmt.Errorf("train ratio must be in (0, 1), got %g", trainRatio)
	}
	shuffled := append([]Sample(nil), samples...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cut := int(float64(len(shuffled)) * trainRatio)
	if cut == 0 || cut == len(shuffled) {
		return nil, nil, fmt.Errorf("split leaves an empty set: %d samples at ratio %g", len(samples), trainRatio)
	}
	return shuffled[:cut], shuffled[cut:], nil
}

// Trajectories extracts the waypoint sequences of the samples.
func Trajectories(samples []Sample) []traj.Trajectory {
	out := make([]traj.Trajectory, len(samples))
	for i, s := range samples {
		out[i] = s.Points
	}
	return out
}
