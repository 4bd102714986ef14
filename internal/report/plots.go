package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// palette cycles across candidates so overlapping paths stay readable.
var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
	color.RGBA{R: 140, G: 86, B: 75, A: 255},
}

// TrajectoryPlots writes two PNGs to dir: a top-down (x/y) view and an
// altitude profile (cumulative distance vs z) of the given trajectories.
func TrajectoryPlots(trajs []traj.Trajectory, obstacles []traj.Obstacle, dir string) error {
	if len(trajs) == 0 {
		return fmt.Errorf("no trajectories to plot")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plot dir: %w", err)
	}

	if err := topDownPlot(trajs, obstacles, filepath.Join(dir, "trajectories_topdown.png")); err != nil {
		return err
	}
	return profilePlot(trajs, filepath.Join(dir, "trajectories_profile.png"))
}

func topDownPlot(trajs []traj.Trajectory, obstacles []traj.Obstacle, path string) error {
	p := plot.New()
	p.Title.Text = "generated trajectories (top-down)"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	for i, tr := range trajs {
		pts := make(plotter.XYs, len(tr))
		for j, w := range tr {
			pts[j].X = w.X
			pts[j].Y = w.Y
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build trajectory line: %w", err)
		}
		line.Width = vg.Points(1)
		line.Color = palette[i%len(palette)]
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("candidate %d", i+1), line)
	}

	for _, o := range obstacles {
		ring := obstacleRing(o, 64)
		line, err := plotter.NewLine(ring)
		if err != nil {
			return fmt.Errorf("failed to build obstacle ring: %w", err)
		}
		line.Width = vg.Points(1)
		line.Color = color.Gray{Y: 100}
		line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		p.Add(line)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save top-down plot: %w", err)
	}
	return nil
}

func profilePlot(trajs []traj.Trajectory, path string) error {
	p := plot.New()
	p.Title.Text = "altitude profile"
	p.X.Label.Text = "distance along path (m)"
	p.Y.Label.Text = "z (m)"
	p.Add(plotter.NewGrid())

	for i, tr := range trajs {
		pts := make(plotter.XYs, len(tr))
		dist := 0.0
		for j, w := range tr {
			if j > 0 {
				dist += w.Dist(tr[j-1])
			}
			pts[j].X = dist
			pts[j].Y = w.Z
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build profile line: %w", err)
		}
		line.Width = vg.Points(1)
		line.Color = palette[i%len(palette)]
		p.Add(line)
	}

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save profile plot: %w", err)
	}
	return nil
}

// obstacleRing approximates the obstacle's equatorial circle for the
// top-down view.
func obstacleRing(o traj.Obstacle, segments int) plotter.XYs {
	pts := make(plotter.XYs, segments+1)
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		pts[i].X = o.Center.X + o.Radius*math.Cos(theta)
		pts[i].Y = o.Center.Y + o.Radius*math.Sin(theta)
	}
	return pts
}
