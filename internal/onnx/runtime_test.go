package onnx

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/skyhaven-systems/trajgen/internal/config"
	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// Session construction requires the ONNX Runtime shared library, which is
// a deployment artifact; these tests cover the pure validation paths.

func TestNewMissingSidecar(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := New(filepath.Join(dir, "decoder.onnx"), filepath.Join(dir, "norm.json"), config.Default())
	assert.Error(t, err)
}

func TestInitFailureIsNotCached(t *testing.T) {
	err := initORT(filepath.Join(t.TempDir(), "libonnxruntime.so"))
	require.Error(t, err)

	// A failed attempt must leave the environment uninitialized so a
	// later call with a valid library path can retry.
	ortEnv.mu.Lock()
	done := ortEnv.done
	ortEnv.mu.Unlock()
	assert.False(t, done)

	err = initORT(filepath.Join(t.TempDir(), "libonnxruntime.so"))
	require.Error(t, err)
}

func goodGraph() (ins, outs []ort.InputOutputInfo) {
	return []ort.InputOutputInfo{
			{Name: "latent", Dimensions: ort.Shape{-1, 64}},
			{Name: "start", Dimensions: ort.Shape{-1, 3}},
			{Name: "end", Dimensions: ort.Shape{-1, 3}},
		}, []ort.InputOutputInfo{
			{Name: "trajectory", Dimensions: ort.Shape{-1, 50, 3}},
		}
}

func TestValidateGraph(t *testing.T) {
	t.Parallel()

	ins, outs := goodGraph()
	latent, waypoints, err := validateGraph(ins, outs)
	require.NoError(t, err)
	assert.Equal(t, 64, latent)
	assert.Equal(t, 50, waypoints)

	ins, outs = goodGraph()
	ins[0].Name = "z"
	_, _, err = validateGraph(ins, outs)
	assert.Error(t, err)

	ins, outs = goodGraph()
	ins[1].Dimensions = ort.Shape{-1, 2}
	_, _, err = validateGraph(ins, outs)
	assert.Error(t, err)

	ins, outs = goodGraph()
	outs[0].Dimensions = ort.Shape{-1, 50}
	_, _, err = validateGraph(ins, outs)
	assert.Error(t, err)

	ins, _ = goodGraph()
	_, _, err = validateGraph(ins, nil)
	assert.Error(t, err)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	good := traj.Waypoint{X: 1, Y: 2, Z: 3}
	assert.NoError(t, validateRequest(good, good, 4))
	assert.Error(t, validateRequest(good, good, 0))
}
