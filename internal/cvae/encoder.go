package cvae

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/skyhaven-systems/trajgen/internal/nn"
)

// Encoder maps a normalized trajectory sequence to the parameters of an
// independent Gaussian approximate posterior over the latent space. Two
// LSTM stacks read the sequence in opposite directions; their top-layer
// final hidden states are concatenated and projected to mu and logvar.
// The encoder only runs during training.
type Encoder struct {
	Fwd *nn.LSTMStack
	Bwd *nn.LSTMStack

	MuHead     *nn.Linear
	LogvarHead *nn.Linear

	hiddenDim int
	latentDim int
}

// NewEncoder builds a bidirectional encoder over 3-vector waypoints.
func NewEncoder(hiddenDim, latentDim, numLayers int, rng *rand.Rand) *Encoder {
	return &Encoder{
		Fwd:        nn.NewLSTMStack("encoder.fwd", 3, hiddenDim, numLayers, rng),
		Bwd:        nn.NewLSTMStack("encoder.bwd", 3, hiddenDim, numLayers, rng),
		MuHead:     nn.NewLinear("encoder.fc_mu", 2*hiddenDim, latentDim, rng),
		LogvarHead: nn.NewLinear("encoder.fc_logvar", 2*hiddenDim, latentDim, rng),
		hiddenDim:  hiddenDim,
		latentDim:  latentDim,
	}
}

// Params returns all learnable tensors.
func (e *Encoder) Params() []*nn.Param {
	var params []*nn.Param
	params = append(params, e.Fwd.Params()...)
	params = append(params, e.Bwd.Params()...)
	params = append(params, e.MuHead.Params()...)
	params = append(params, e.LogvarHead.Params()...)
	return params
}

// encoderCache carries the forward state needed for Backward.
type encoderCache struct {
	fwdCaches [][]*nn.CellCache
	bwdCaches [][]*nn.CellCache
	hcat      *mat.Dense
	seqLen    int
	batch     int
}

// Forward encodes the sequence into posterior parameters.
func (e *Encoder) Forward(xs []*mat.Dense) (mu, logvar *mat.Dense, cache *encoderCache) {
	reversed := make([]*mat.Dense, len(xs))
	for i := range xs {
		reversed[i] = xs[len(xs)-1-i]
	}

	_, fwdFinal, fwdCaches := e.Fwd.Forward(xs, nil)
	_, bwdFinal, bwdCaches := e.Bwd.Forward(reversed, nil)

	top := len(e.Fwd.Cells) - 1
	hcat := hconcat(fwdFinal.H[top], bwdFinal.H[top])

	mu = e.MuHead.Forward(hcat)
	logvar = e.LogvarHead.Forward(hcat)

	batch, _ := xs[0].Dims()
	cache = &encoderCache{
		fwdCaches: fwdCaches,
		bwdCaches: bwdCaches,
		hcat:      hcat,
		seqLen:    len(xs),
		batch:     batch,
	}
	return mu, logvar, cache
}

// Backward accumulates parameter gradients given the gradients of the loss
// with respect to mu and logvar. Gradients with respect to the input
// sequence are discarded; the encoder consumes raw data.
func (e *Encoder) Backward(cache *encoderCache, dMu, dLogvar *mat.Dense) {
	dHcat := e.MuHead.Backward(cache.hcat, dMu)
	dHcat.Add(dHcat, e.LogvarHead.Backward(cache.hcat, dLogvar))

	dhFwd := hslice(dHcat, 0, e.hiddenDim)
	dhBwd := hslice(dHcat, e.hiddenDim, 2*e.hiddenDim)

	L := len(e.Fwd.Cells)
	noTops := make([]*mat.Dense, cache.seqLen)

	dFinalFwd := &nn.StackStep{H: make([]*mat.Dense, L), C: make([]*mat.Dense, L)}
	dFinalFwd.H[L-1] = dhFwd
	e.Fwd.Backward(cache.fwdCaches, noTops, dFinalFwd)

	dFinalBwd := &nn.StackStep{H: make([]*mat.Dense, L), C: make([]*mat.Dense, L)}
	dFinalBwd.H[L-1] = dhBwd
	e.Bwd.Backward(cache.bwdCaches, noTops, dFinalBwd)
}
