// Package onnx is the native inference path: it runs the exported decoder
// graph through ONNX Runtime and ranks the results with the same quality
// metrics as the in-process engine, so scores are comparable between the
// two runtimes.
package onnx

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/skyhaven-systems/trajgen/internal/config"
	"github.com/skyhaven-systems/trajgen/internal/infer"
	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// ortEnv manages global ONNX Runtime initialization (process-wide
// singleton). A failed attempt is not cached, so a later call with a
// valid library path can still succeed.
var ortEnv struct {
	mu   sync.Mutex
	done bool
}

func initORT(libPath string) error {
	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()
	if ortEnv.done {
		return nil
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}
	ortEnv.done = true
	return nil
}

// Graph tensor names fixed by the export contract.
var inputNames = []string{"latent", "start", "end"}

const outputName = "trajectory"

// Runtime wraps one decoder graph session plus the sidecar normalization
// the graph was exported under. Run calls are serialized internally; the
// graph itself batches candidates, so a single call decodes all of them.
type Runtime struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession

	latentDim int
	waypoints int
	norm      traj.NormParams
	weights   infer.ScoreWeights
}

// New loads the decoder graph at modelPath and the flat key-value
// normalization sidecar at normPath. The ONNX Runtime shared library is
// expected alongside the model file.
func New(modelPath, normPath string, cfg *config.Config) (*Runtime, error) {
	libPath := filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnx runtime: %w", err)
	}

	norm, err := traj.LoadNormParams(normPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load normalization sidecar: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	latentDim, waypoints, err := validateGraph(inputs, outputs)
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(cfg.GetInferenceWorkers())
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Runtime{
		session:   session,
		latentDim: latentDim,
		waypoints: waypoints,
		norm:      norm,
		weights: infer.ScoreWeights{
			Smoothness: cfg.GetScoreSmoothnessWeight(),
			Efficiency: cfg.GetScoreEfficiencyWeight(),
			Length:     cfg.GetScoreLengthWeight(),
		},
	}, nil
}

// validateGraph checks the export contract: latent [batch, L], start and
// end [batch, 3], trajectory [batch, T, 3].
func validateGraph(inputs, outputs []ort.InputOutputInfo) (latentDim, waypoints int, err error) {
	byName := make(map[string]ort.InputOutputInfo, len(inputs))
	for _, in := range inputs {
		byName[in.Name] = in
	}
	for _, name := range inputNames {
		if _, ok := byName[name]; !ok {
			return 0, 0, fmt.Errorf("model missing required input %q", name)
		}
	}

	latent := byName["latent"]
	if len(latent.Dimensions) != 2 || latent.Dimensions[1] <= 0 {
		return 0, 0, fmt.Errorf("latent input has unexpected shape %v", latent.Dimensions)
	}
	for _, name := range []string{"start", "end"} {
		dims := byName[name].Dimensions
		if len(dims) != 2 || dims[1] != 3 {
			return 0, 0, fmt.Errorf("%s input has unexpected shape %v", name, dims)
		}
	}

	if len(outputs) == 0 || outputs[0].Name != outputName {
		return 0, 0, fmt.Errorf("model missing %q output", outputName)
	}
	dims := outputs[0].Dimensions
	if len(dims) != 3 || dims[1] <= 0 || dims[2] != 3 {
		return 0, 0, fmt.Errorf("trajectory output has unexpected shape %v", dims)
	}
	return int(latent.Dimensions[1]), int(dims[1]), nil
}

// Close releases the session.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
	return nil
}

// Norm exposes the normalization the graph was exported under.
func (r *Runtime) Norm() traj.NormParams { return r.norm }

// decode runs the graph once with n batched candidates and returns the
// denormalized trajectories in draw order.
func (r *Runtime) decode(start, end traj.Waypoint, n int, seed int64) ([]traj.Trajectory, error) {
	rng := rand.New(rand.NewSource(seed))
	latent := make([]float32, n*r.latentDim)
	for i := range latent {
		latent[i] = float32(rng.NormFloat64())
	}

	sn := r.norm.Normalize(start)
	en := r.norm.Normalize(end)
	startData := make([]float32, n*3)
	endData := make([]float32, n*3)
	for i := 0; i < n; i++ {
		startData[i*3], startData[i*3+1], startData[i*3+2] = float32(sn.X), float32(sn.Y), float32(sn.Z)
		endData[i*3], endData[i*3+1], endData[i*3+2] = float32(en.X), float32(en.Y), float32(en.Z)
	}

	tLatent, err := ort.NewTensor(ort.NewShape(int64(n), int64(r.latentDim)), latent)
	if err != nil {
		return nil, fmt.Errorf("failed to create latent tensor: %w", err)
	}
	defer tLatent.Destroy()
	tStart, err := ort.NewTensor(ort.NewShape(int64(n), 3), startData)
	if err != nil {
		return nil, fmt.Errorf("failed to create start tensor: %w", err)
	}
	defer tStart.Destroy()
	tEnd, err := ort.NewTensor(ort.NewShape(int64(n), 3), endData)
	if err != nil {
		return nil, fmt.Errorf("failed to create end tensor: %w", err)
	}
	defer tEnd.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(r.waypoints), 3))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	r.mu.Lock()
	err = r.session.Run([]ort.Value{tLatent, tStart, tEnd}, []ort.Value{tOut})
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	data := tOut.GetData()
	out := make([]traj.Trajectory, n)
	for i := 0; i < n; i++ {
		tr := make(traj.Trajectory, r.waypoints)
		for t := 0; t < r.waypoints; t++ {
			base := (i*r.waypoints + t) * 3
			tr[t] = r.norm.Denormalize(traj.Waypoint{
				X: float64(data[base]),
				Y: float64(data[base+1]),
				Z: float64(data[base+2]),
			})
		}
		out[i] = tr
	}
	return out, nil
}

func validateRequest(start, end traj.Waypoint, n int) error {
	if !start.IsFinite() || !end.IsFinite() {
		return fmt.Errorf("start and end waypoints must be finite")
	}
	if n <= 0 {
		return fmt.Errorf("candidate count must be positive, got %d", n)
	}
	return nil
}

// Generate decodes n candidates through the graph and ranks them by
// quality score, matching the in-process engine's ordering rules.
func (r *Runtime) Generate(start, end traj.Waypoint, n int, seed int64) ([]infer.Candidate, error) {
	if err := validateRequest(start, end, n); err != nil {
		return nil, err
	}
	trajs, err := r.decode(start, end, n, seed)
	if err != nil {
		return nil, err
	}
	return infer.RankByQuality(trajs, end, r.weights), nil
}

// GenerateWithObstacles decodes n candidates and ranks them by safety
// first, quality second.
func (r *Runtime) GenerateWithObstacles(start, end traj.Waypoint, obstacles []traj.Obstacle, n int, seed int64) ([]infer.Candidate, error) {
	if err := validateRequest(start, end, n); err != nil {
		return nil, err
	}
	for i, o := range obstacles {
		if !o.Center.IsFinite() || o.Radius <= 0 {
			return nil, fmt.Errorf("obstacle %d is malformed", i)
		}
	}
	trajs, err := r.decode(start, end, n, seed)
	if err != nil {
		return nil, err
	}
	return infer.RankBySafety(trajs, end, obstacles, r.weights), nil
}
