package cvae

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/skyhaven-systems/trajgen/internal/nn"
)

const condDim = 6 // start xyz + end xyz

// Decoder autoregressively generates a normalized trajectory from a latent
// vector and the start/end boundary conditions. Each step feeds the
// previous waypoint (ground truth under teacher forcing, the model's own
// output otherwise) concatenated with z and the conditions through the
// LSTM stack and a two-layer output head.
//
// Training and inference use two explicit call paths —
// DecodeTeacherForced and DecodeAutoregressive — that share the same
// per-step helper, so there is no hidden mode flag inside the cell logic.
type Decoder struct {
	InitFC *nn.Linear // projects [z || cond] to the initial hidden states
	Stack  *nn.LSTMStack
	OutFC1 *nn.Linear
	OutFC2 *nn.Linear

	latentDim int
	hiddenDim int
	numLayers int
}

// NewDecoder builds the decoder. The output head halves the hidden width
// before projecting to a 3-vector.
func NewDecoder(latentDim, hiddenDim, numLayers int, rng *rand.Rand) *Decoder {
	return &Decoder{
		InitFC:    nn.NewLinear("decoder.fc_init", latentDim+condDim, numLayers*hiddenDim, rng),
		Stack:     nn.NewLSTMStack("decoder.lstm", 3+latentDim+condDim, hiddenDim, numLayers, rng),
		OutFC1:    nn.NewLinear("decoder.fc_out1", hiddenDim, hiddenDim/2, rng),
		OutFC2:    nn.NewLinear("decoder.fc_out2", hiddenDim/2, 3, rng),
		latentDim: latentDim,
		hiddenDim: hiddenDim,
		numLayers: numLayers,
	}
}

// Params returns all learnable tensors.
func (d *Decoder) Params() []*nn.Param {
	var params []*nn.Param
	params = append(params, d.InitFC.Params()...)
	params = append(params, d.Stack.Params()...)
	params = append(params, d.OutFC1.Params()...)
	params = append(params, d.OutFC2.Params()...)
	return params
}

type decoderStepCache struct {
	input       *mat.Dense
	stackCaches []*nn.CellCache
	top         *mat.Dense
	mid         *mat.Dense // output head pre-activation
	act         *mat.Dense // output head post-ReLU
}

type decoderCache struct {
	zcond *mat.Dense
	steps []*decoderStepCache
}

// initState projects [z || cond] into the per-layer initial hidden states.
// Cell states start at zero.
func (d *Decoder) initState(z, cond *mat.Dense) (*nn.StackStep, *mat.Dense) {
	zcond := hconcat(z, cond)
	initVec := d.InitFC.Forward(zcond)
	batch, _ := z.Dims()

	st := d.Stack.NewStackStep(batch)
	for l := 0; l < d.numLayers; l++ {
		st.H[l] = hslice(initVec, l*d.hiddenDim, (l+1)*d.hiddenDim)
	}
	return st, zcond
}

// step advances the decoder by one waypoint.
func (d *Decoder) step(input *mat.Dense, st *nn.StackStep) (*mat.Dense, *decoderStepCache) {
	top, stackCaches := d.Stack.StepForward(input, st)

	mid := d.OutFC1.Forward(top)
	act := mat.DenseCopyOf(mid)
	act.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, act)
	y := d.OutFC2.Forward(act)

	return y, &decoderStepCache{input: input, stackCaches: stackCaches, top: top, mid: mid, act: act}
}

// DecodeTeacherForced generates seqLen waypoints for training. At each
// step a coin flip against tfRatio decides whether the next input is the
// ground-truth waypoint or the model's own output. Returns the per-step
// outputs and the cache for Backward.
func (d *Decoder) DecodeTeacherForced(z, cond *mat.Dense, seqLen int, groundTruth []*mat.Dense, tfRatio float64, rng *rand.Rand) ([]*mat.Dense, *decoderCache) {
	st, zcond := d.initState(z, cond)
	cache := &decoderCache{zcond: zcond, steps: make([]*decoderStepCache, seqLen)}

	prev := hslice(cond, 0, 3) // start waypoint
	outputs := make([]*mat.Dense, seqLen)
	for t := 0; t < seqLen; t++ {
		input := hconcat(prev, z, cond)
		y, stepCache := d.step(input, st)
		outputs[t] = y
		cache.steps[t] = stepCache

		if t < seqLen-1 {
			if rng.Float64() < tfRatio {
				prev = groundTruth[t]
			} else {
				prev = y
			}
		}
	}
	return outputs, cache
}

// DecodeAutoregressive generates seqLen waypoints from the latent sample
// alone, always feeding back the model's own previous output. This is the
// inference path; it never sees ground truth.
func (d *Decoder) DecodeAutoregressive(z, cond *mat.Dense, seqLen int) []*mat.Dense {
	st, _ := d.initState(z, cond)

	prev := hslice(cond, 0, 3)
	outputs := make([]*mat.Dense, seqLen)
	for t := 0; t < seqLen; t++ {
		input := hconcat(prev, z, cond)
		y, _ := d.step(input, st)
		outputs[t] = y
		prev = y
	}
	return outputs
}

// Backward accumulates parameter gradients given per-step output
// gradients and returns the gradient with respect to z. The previous
// output fed back as the next step's input is treated as a constant;
// gradient still flows across time through the hidden and cell states.
func (d *Decoder) Backward(cache *decoderCache, dOutputs []*mat.Dense) *mat.Dense {
	T := len(cache.steps)
	batch, _ := dOutputs[0].Dims()

	dTops := make([]*mat.Dense, T)
	stackCaches := make([][]*nn.CellCache, T)
	for t := 0; t < T; t++ {
		step := cache.steps[t]
		stackCaches[t] = step.stackCaches

		dAct := d.OutFC2.Backward(step.act, dOutputs[t])
		// ReLU gate.
		dAct.Apply(func(r, c int, v float64) float64 {
			if step.mid.At(r, c) <= 0 {
				return 0
			}
			return v
		}, dAct)
		dTops[t] = d.OutFC1.Backward(step.top, dAct)
	}

	dInputs, dInit := d.Stack.Backward(stackCaches, dTops, nil)

	dZ := mat.NewDense(batch, d.latentDim, nil)
	for t := 0; t < T; t++ {
		dZ.Add(dZ, hslice(dInputs[t], 3, 3+d.latentDim))
	}

	// Initial hidden states came from fc_init([z || cond]).
	dInitVec := hconcat(dInit.H...)
	dZcond := d.InitFC.Backward(cache.zcond, dInitVec)
	dZ.Add(dZ, hslice(dZcond, 0, d.latentDim))

	return dZ
}
