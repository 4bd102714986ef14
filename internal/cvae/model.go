package cvae

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/skyhaven-systems/trajgen/internal/nn"
)

// ModelConfig fixes the architecture of one model instance. All fields
// are validated at construction; a mismatch here corrupts geometry
// silently later, so nothing is auto-corrected.
type ModelConfig struct {
	LatentDim     int `json:"latent_dim"`
	HiddenDim     int `json:"hidden_dim"`
	NumLayers     int `json:"num_layers"`
	WaypointCount int `json:"waypoint_count"`
}

// Validate rejects configurations the layers cannot represent.
func (c ModelConfig) Validate() error {
	if c.LatentDim <= 0 {
		return fmt.Errorf("latent_dim must be positive, got %d", c.LatentDim)
	}
	if c.HiddenDim < 2 {
		return fmt.Errorf("hidden_dim must be at least 2, got %d", c.HiddenDim)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("num_layers must be positive, got %d", c.NumLayers)
	}
	if c.WaypointCount < 2 {
		return fmt.Errorf("waypoint_count must be at least 2, got %d", c.WaypointCount)
	}
	return nil
}

// Model composes the encoder and decoder. The encoder participates only
// in training; generation samples the prior directly.
type Model struct {
	Config  ModelConfig
	Encoder *Encoder
	Decoder *Decoder
}

// NewModel constructs a freshly initialized model.
func NewModel(cfg ModelConfig, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	return &Model{
		Config:  cfg,
		Encoder: NewEncoder(cfg.HiddenDim, cfg.LatentDim, cfg.NumLayers, rng),
		Decoder: NewDecoder(cfg.LatentDim, cfg.HiddenDim, cfg.NumLayers, rng),
	}, nil
}

// Params returns every learnable tensor in a stable order (encoder first,
// then decoder), which the checkpoint format relies on.
func (m *Model) Params() []*nn.Param {
	return append(m.Encoder.Params(), m.Decoder.Params()...)
}

// Reparameterize draws z = mu + exp(0.5*logvar) * eps with eps ~ N(0, I).
// Each call draws fresh noise.
func (m *Model) Reparameterize(mu, logvar *mat.Dense, rng *rand.Rand) *mat.Dense {
	batch, cols := mu.Dims()
	z := mat.NewDense(batch, cols, nil)
	for b := 0; b < batch; b++ {
		for j := 0; j < cols; j++ {
			std := math.Exp(0.5 * logvar.At(b, j))
			z.Set(b, j, mu.At(b, j)+std*rng.NormFloat64())
		}
	}
	return z
}

// ReparamBackward converts a gradient with respect to z into gradients
// with respect to mu and logvar, accumulating into dMu and dLogvar.
// Because z - mu = std * eps, d(logvar) = 0.5 * dz * (z - mu).
func ReparamBackward(z, mu, dZ, dMu, dLogvar *mat.Dense) {
	batch, cols := z.Dims()
	for b := 0; b < batch; b++ {
		for j := 0; j < cols; j++ {
			g := dZ.At(b, j)
			dMu.Set(b, j, dMu.At(b, j)+g)
			dLogvar.Set(b, j, dLogvar.At(b, j)+0.5*g*(z.At(b, j)-mu.At(b, j)))
		}
	}
}

// SamplePrior draws a batch of latent vectors from the standard normal
// prior. This is the inference-time source of generation diversity.
func (m *Model) SamplePrior(batch int, rng *rand.Rand) *mat.Dense {
	return gaussian(rng, batch, m.Config.LatentDim)
}

// TrainingForward runs the full teacher-forced reconstruction pass:
// encode, reparameterize, decode. All tensors are in normalized space.
type TrainingForward struct {
	Outputs []*mat.Dense
	Mu      *mat.Dense
	Logvar  *mat.Dense
	Z       *mat.Dense

	encCache *encoderCache
	decCache *decoderCache
}

// Forward performs the training-time pass over one batch. trajectory is
// the ground-truth sequence (also the teacher-forcing source); start and
// end are [batch x 3].
func (m *Model) Forward(trajectory []*mat.Dense, start, end *mat.Dense, tfRatio float64, rng *rand.Rand) *TrainingForward {
	mu, logvar, encCache := m.Encoder.Forward(trajectory)
	z := m.Reparameterize(mu, logvar, rng)
	cond := hconcat(start, end)
	outputs, decCache := m.Decoder.DecodeTeacherForced(z, cond, len(trajectory), trajectory, tfRatio, rng)
	return &TrainingForward{
		Outputs:  outputs,
		Mu:       mu,
		Logvar:   logvar,
		Z:        z,
		encCache: encCache,
		decCache: decCache,
	}
}

// Backward propagates the loss gradients through decoder, sampling and
// encoder, accumulating into every parameter's Grad.
func (m *Model) Backward(f *TrainingForward, dOutputs []*mat.Dense, dMu, dLogvar *mat.Dense) {
	dZ := m.Decoder.Backward(f.decCache, dOutputs)
	ReparamBackward(f.Z, f.Mu, dZ, dMu, dLogvar)
	m.Encoder.Backward(f.encCache, dMu, dLogvar)
}

// Generate decodes nSamples trajectories per start/end pair from
// independent prior draws. start and end are [pairs x 3] in normalized
// space; the result is [pairs*nSamples] sequences of the configured
// waypoint count.
func (m *Model) Generate(start, end *mat.Dense, nSamples int, rng *rand.Rand) []*mat.Dense {
	pairs, _ := start.Dims()
	total := pairs * nSamples

	startRep := mat.NewDense(total, 3, nil)
	endRep := mat.NewDense(total, 3, nil)
	for p := 0; p < pairs; p++ {
		for s := 0; s < nSamples; s++ {
			row := p*nSamples + s
			for d := 0; d < 3; d++ {
				startRep.Set(row, d, start.At(p, d))
				endRep.Set(row, d, end.At(p, d))
			}
		}
	}

	z := m.SamplePrior(total, rng)
	cond := hconcat(startRep, endRep)
	return m.Decoder.DecodeAutoregressive(z, cond, m.Config.WaypointCount)
}

// DecodeLatent exposes the decoder alone as a pure function of
// (z, start, end), the surface export tooling serializes for native
// inference runtimes.
func (m *Model) DecodeLatent(z, start, end *mat.Dense) []*mat.Dense {
	cond := hconcat(start, end)
	return m.Decoder.DecodeAutoregressive(z, cond, m.Config.WaypointCount)
}
