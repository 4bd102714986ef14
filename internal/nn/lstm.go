package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LSTMCell is a single long short-term memory cell. Gate pre-activations
// are stored as one [batch x 4H] block in the order input, forget, cell,
// output.
type LSTMCell struct {
	Wx *Param // [4H x in]
	Wh *Param // [4H x H]
	B  *Param // [1 x 4H]

	InputSize  int
	HiddenSize int
}

// NewLSTMCell creates a Xavier-initialized cell.
func NewLSTMCell(name string, inputSize, hiddenSize int, rng *rand.Rand) *LSTMCell {
	c := &LSTMCell{
		Wx:         NewParam(name+".weight_x", 4*hiddenSize, inputSize),
		Wh:         NewParam(name+".weight_h", 4*hiddenSize, hiddenSize),
		B:          NewParam(name+".bias", 1, 4*hiddenSize),
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
	}
	c.Wx.XavierInit(rng)
	c.Wh.XavierInit(rng)
	return c
}

// Params returns the learnable tensors of the cell.
func (c *LSTMCell) Params() []*Param {
	return []*Param{c.Wx, c.Wh, c.B}
}

// CellCache holds everything one forward step needs to replay for its
// backward pass.
type CellCache struct {
	x, hPrev, cPrev *mat.Dense
	i, f, g, o      *mat.Dense
	cNew, tanhC     *mat.Dense
}

// Forward computes one step. x is [batch x in]; hPrev and cPrev are
// [batch x H]. Returns the new hidden and cell states plus the cache for
// Backward.
func (c *LSTMCell) Forward(x, hPrev, cPrev *mat.Dense) (h, cNew *mat.Dense, cache *CellCache) {
	batch, _ := x.Dims()
	H := c.HiddenSize

	// Pre-activations for all four gates at once.
	pre := mat.NewDense(batch, 4*H, nil)
	pre.Mul(x, c.Wx.Value.T())
	var rec mat.Dense
	rec.Mul(hPrev, c.Wh.Value.T())
	pre.Add(pre, &rec)
	addBroadcastRow(pre, c.B.Value)

	slice := func(k int) *mat.Dense {
		return mat.DenseCopyOf(pre.Slice(0, batch, k*H, (k+1)*H))
	}
	i, f, g, o := slice(0), slice(1), slice(2), slice(3)
	sigmoid(i, i)
	sigmoid(f, f)
	tanhm(g, g)
	sigmoid(o, o)

	cNew = mat.NewDense(batch, H, nil)
	var ig mat.Dense
	ig.MulElem(i, g)
	cNew.MulElem(f, cPrev)
	cNew.Add(cNew, &ig)

	tanhC := mat.NewDense(batch, H, nil)
	tanhm(tanhC, cNew)

	h = mat.NewDense(batch, H, nil)
	h.MulElem(o, tanhC)

	cache = &CellCache{x: x, hPrev: hPrev, cPrev: cPrev, i: i, f: f, g: g, o: o, cNew: cNew, tanhC: tanhC}
	return h, cNew, cache
}

// Backward consumes the cache from one Forward step and the gradients of
// the loss with respect to the step's hidden and cell outputs. It
// accumulates parameter gradients and returns the gradients with respect
// to the step inputs.
func (c *LSTMCell) Backward(cache *CellCache, dh, dc *mat.Dense) (dx, dhPrev, dcPrev *mat.Dense) {
	batch, _ := dh.Dims()
	H := c.HiddenSize

	// dC_total = dc + dh * o * (1 - tanh(c)^2)
	dcTotal := mat.NewDense(batch, H, nil)
	dcTotal.Apply(func(r, col int, v float64) float64 {
		tc := cache.tanhC.At(r, col)
		return v + dh.At(r, col)*cache.o.At(r, col)*(1-tc*tc)
	}, dc)

	dG := mat.NewDense(batch, 4*H, nil)
	for r := 0; r < batch; r++ {
		for col := 0; col < H; col++ {
			i := cache.i.At(r, col)
			f := cache.f.At(r, col)
			g := cache.g.At(r, col)
			o := cache.o.At(r, col)
			dct := dcTotal.At(r, col)

			// Gate gradients through their activations.
			dG.Set(r, col, dct*g*i*(1-i))                               // input gate
			dG.Set(r, H+col, dct*cache.cPrev.At(r, col)*f*(1-f))        // forget gate
			dG.Set(r, 2*H+col, dct*i*(1-g*g))                           // cell candidate
			dG.Set(r, 3*H+col, dh.At(r, col)*cache.tanhC.At(r, col)*o*(1-o)) // output gate
		}
	}

	// Parameter gradients.
	var dWx, dWh mat.Dense
	dWx.Mul(dG.T(), cache.x)
	c.Wx.Grad.Add(c.Wx.Grad, &dWx)
	dWh.Mul(dG.T(), cache.hPrev)
	c.Wh.Grad.Add(c.Wh.Grad, &dWh)
	colSumsInto(c.B.Grad, dG)

	// Input gradients.
	dx = mat.NewDense(batch, c.InputSize, nil)
	dx.Mul(dG, c.Wx.Value)
	dhPrev = mat.NewDense(batch, H, nil)
	dhPrev.Mul(dG, c.Wh.Value)

	dcPrev = mat.NewDense(batch, H, nil)
	dcPrev.MulElem(dcTotal, cache.f)

	return dx, dhPrev, dcPrev
}

// LSTMStack is a stack of LSTM cells applied layer over layer at each
// time step. Layer 0 consumes the external input; layer l consumes the
// hidden output of layer l-1 at the same step.
type LSTMStack struct {
	Cells []*LSTMCell
}

// NewLSTMStack builds numLayers cells; layer 0 has the given input size,
// deeper layers consume hiddenSize.
func NewLSTMStack(name string, inputSize, hiddenSize, numLayers int, rng *rand.Rand) *LSTMStack {
	cells := make([]*LSTMCell, numLayers)
	for l := 0; l < numLayers; l++ {
		in := hiddenSize
		if l == 0 {
			in = inputSize
		}
		cells[l] = NewLSTMCell(fmt.Sprintf("%s.layer%d", name, l), in, hiddenSize, rng)
	}
	return &LSTMStack{Cells: cells}
}

// Params returns the learnable tensors of every layer.
func (s *LSTMStack) Params() []*Param {
	var params []*Param
	for _, c := range s.Cells {
		params = append(params, c.Params()...)
	}
	return params
}

// HiddenSize returns the per-layer hidden dimensionality.
func (s *LSTMStack) HiddenSize() int {
	return s.Cells[0].HiddenSize
}

// StackStep carries the running hidden and cell state of every layer.
type StackStep struct {
	H []*mat.Dense
	C []*mat.Dense
}

// NewStackStep returns a zero state for the given batch size.
func (s *LSTMStack) NewStackStep(batch int) *StackStep {
	st := &StackStep{
		H: make([]*mat.Dense, len(s.Cells)),
		C: make([]*mat.Dense, len(s.Cells)),
	}
	for l := range s.Cells {
		st.H[l] = mat.NewDense(batch, s.HiddenSize(), nil)
		st.C[l] = mat.NewDense(batch, s.HiddenSize(), nil)
	}
	return st
}

// StepForward advances every layer by one time step. Returns the top-layer
// hidden output and the per-layer caches for this step. The state is
// updated in place (new matrices are swapped in; old ones stay referenced
// by the caches).
func (s *LSTMStack) StepForward(x *mat.Dense, st *StackStep) (*mat.Dense, []*CellCache) {
	caches := make([]*CellCache, len(s.Cells))
	input := x
	for l, cell := range s.Cells {
		h, cNew, cache := cell.Forward(input, st.H[l], st.C[l])
		st.H[l] = h
		st.C[l] = cNew
		caches[l] = cache
		input = h
	}
	return input, caches
}

// Forward runs the full sequence xs through the stack from the given
// initial state (nil means zeros). It returns the top-layer outputs per
// step, the final state, and the caches needed for Backward.
func (s *LSTMStack) Forward(xs []*mat.Dense, init *StackStep) (tops []*mat.Dense, final *StackStep, caches [][]*CellCache) {
	batch, _ := xs[0].Dims()
	st := init
	if st == nil {
		st = s.NewStackStep(batch)
	} else {
		// Copy so the caller's initial state survives for its own backward.
		cp := &StackStep{H: append([]*mat.Dense(nil), st.H...), C: append([]*mat.Dense(nil), st.C...)}
		st = cp
	}

	tops = make([]*mat.Dense, len(xs))
	caches = make([][]*CellCache, len(xs))
	for t, x := range xs {
		top, stepCaches := s.StepForward(x, st)
		tops[t] = top
		caches[t] = stepCaches
	}
	return tops, st, caches
}

// Backward runs truncated BPTT over the cached sequence. dTops carries the
// loss gradient of each top-layer output (entries may be nil), and dFinal
// optionally carries gradients of the final hidden/cell states. It returns
// the gradients of the external inputs and of the initial state.
func (s *LSTMStack) Backward(caches [][]*CellCache, dTops []*mat.Dense, dFinal *StackStep) (dxs []*mat.Dense, dInit *StackStep) {
	T := len(caches)
	L := len(s.Cells)
	batch, _ := caches[0][0].x.Dims()
	H := s.HiddenSize()

	dh := make([]*mat.Dense, L)
	dc := make([]*mat.Dense, L)
	for l := 0; l < L; l++ {
		if dFinal != nil && dFinal.H[l] != nil {
			dh[l] = mat.DenseCopyOf(dFinal.H[l])
		} else {
			dh[l] = mat.NewDense(batch, H, nil)
		}
		if dFinal != nil && dFinal.C[l] != nil {
			dc[l] = mat.DenseCopyOf(dFinal.C[l])
		} else {
			dc[l] = mat.NewDense(batch, H, nil)
		}
	}

	dxs = make([]*mat.Dense, T)
	for t := T - 1; t >= 0; t-- {
		var dFromUpper *mat.Dense
		for l := L - 1; l >= 0; l-- {
			dhTotal := dh[l]
			if l == L-1 && dTops[t] != nil {
				dhTotal.Add(dhTotal, dTops[t])
			}
			if dFromUpper != nil {
				dhTotal.Add(dhTotal, dFromUpper)
			}

			dx, dhPrev, dcPrev := s.Cells[l].Backward(caches[t][l], dhTotal, dc[l])
			dh[l] = dhPrev
			dc[l] = dcPrev
			dFromUpper = dx
		}
		dxs[t] = dFromUpper
	}

	return dxs, &StackStep{H: dh, C: dc}
}
