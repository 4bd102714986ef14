package traj

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
)

// minStd is the smallest per-axis standard deviation accepted by Fit. An
// axis with less spread than this cannot be normalized meaningfully and is
// rejected as a configuration error rather than silently clamped.
const minStd = 1e-9

// NormParams holds per-axis mean and standard deviation fit once over a
// training corpus. The same parameters must be injected into every
// normalize/denormalize call for a trained model's lifetime; mixing
// parameters from different fits silently corrupts generated geometry.
type NormParams struct {
	Mean [3]float64 `json:"mean"`
	Std  [3]float64 `json:"std"`
}

// IdentityNorm returns parameters that leave coordinates unchanged.
// Intended for tests.
func IdentityNorm() NormParams {
	return NormParams{Mean: [3]float64{0, 0, 0}, Std: [3]float64{1, 1, 1}}
}

// FitNorm computes per-axis mean and sample standard deviation over every
// waypoint of the corpus, flattened across the trajectory and waypoint
// dimensions. It fails on an empty corpus or on any axis with (near) zero
// variance.
func FitNorm(corpus []Trajectory) (NormParams, error) {
	var n int
	for _, t := range corpus {
		n += len(t)
	}
	if n < 2 {
		return NormParams{}, fmt.Errorf("cannot fit normalization on %d waypoints (need at least 2)", n)
	}

	axes := [3][]float64{
		make([]float64, 0, n),
		make([]float64, 0, n),
		make([]float64, 0, n),
	}
	for _, t := range corpus {
		for _, wp := range t {
			axes[0] = append(axes[0], wp.X)
			axes[1] = append(axes[1], wp.Y)
			axes[2] = append(axes[2], wp.Z)
		}
	}

	var p NormParams
	names := [3]string{"x", "y", "z"}
	for i := 0; i < 3; i++ {
		mean, std := stat.MeanStdDev(axes[i], nil)
		if std < minStd {
			return NormParams{}, fmt.Errorf("degenerate %s axis: std=%g is below %g", names[i], std, minStd)
		}
		p.Mean[i] = mean
		p.Std[i] = std
	}
	return p, nil
}

// Validate checks that every axis has a strictly positive std.
func (p NormParams) Validate() error {
	for i, s := range p.Std {
		if !(s > 0) {
			return fmt.Errorf("normalization std[%d] must be positive, got %g", i, s)
		}
	}
	return nil
}

// Normalize maps a physical waypoint into the model's input space.
func (p NormParams) Normalize(wp Waypoint) Waypoint {
	return Waypoint{
		X: (wp.X - p.Mean[0]) / p.Std[0],
		Y: (wp.Y - p.Mean[1]) / p.Std[1],
		Z: (wp.Z - p.Mean[2]) / p.Std[2],
	}
}

// Denormalize maps a model-space waypoint back to physical coordinates.
func (p NormParams) Denormalize(wp Waypoint) Waypoint {
	return Waypoint{
		X: wp.X*p.Std[0] + p.Mean[0],
		Y: wp.Y*p.Std[1] + p.Mean[1],
		Z: wp.Z*p.Std[2] + p.Mean[2],
	}
}

// NormalizeTrajectory applies Normalize to every waypoint, returning a new
// trajectory.
func (p NormParams) NormalizeTrajectory(t Trajectory) Trajectory {
	out := make(Trajectory, len(t))
	for i, wp := range t {
		out[i] = p.Normalize(wp)
	}
	return out
}

// DenormalizeTrajectory applies Denormalize to every waypoint, returning a
// new trajectory.
func (p NormParams) DenormalizeTrajectory(t Trajectory) Trajectory {
	out := make(Trajectory, len(t))
	for i, wp := range t {
		out[i] = p.Denormalize(wp)
	}
	return out
}

// FlatKV returns the parameters as the flat key-value structure consumed
// by export tooling and the native inference runtime.
func (p NormParams) FlatKV() map[string]float64 {
	return map[string]float64{
		"mean_x": p.Mean[0], "mean_y": p.Mean[1], "mean_z": p.Mean[2],
		"std_x": p.Std[0], "std_y": p.Std[1], "std_z": p.Std[2],
	}
}

// NormParamsFromFlatKV rebuilds parameters from the flat export structure.
func NormParamsFromFlatKV(kv map[string]float64) (NormParams, error) {
	var p NormParams
	keys := []struct {
		name string
		dst  *float64
	}{
		{"mean_x", &p.Mean[0]}, {"mean_y", &p.Mean[1]}, {"mean_z", &p.Mean[2]},
		{"std_x", &p.Std[0]}, {"std_y", &p.Std[1]}, {"std_z", &p.Std[2]},
	}
	for _, k := range keys {
		v, ok := kv[k.name]
		if !ok {
			return NormParams{}, fmt.Errorf("normalization export missing key %q", k.name)
		}
		*k.dst = v
	}
	if err := p.Validate(); err != nil {
		return NormParams{}, err
	}
	return p, nil
}

// SaveFlatKV writes the flat key-value export as JSON.
func (p NormParams) SaveFlatKV(path string) error {
	data, err := json.MarshalIndent(p.FlatKV(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal normalization export: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write normalization export: %w", err)
	}
	return nil
}

// LoadNormParams reads a flat key-value normalization export.
func LoadNormParams(path string) (NormParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NormParams{}, fmt.Errorf("failed to read normalization export: %w", err)
	}
	var kv map[string]float64
	if err := json.Unmarshal(data, &kv); err != nil {
		return NormParams{}, fmt.Errorf("failed to parse normalization export: %w", err)
	}
	return NormParamsFromFlatKV(kv)
}
