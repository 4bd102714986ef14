package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer: y = x Wᵀ + b.
type Linear struct {
	W *Param // [out x in]
	B *Param // [1 x out]

	In, Out int
}

// NewLinear creates a Xavier-initialized dense layer.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		W:   NewParam(name+".weight", out, in),
		B:   NewParam(name+".bias", 1, out),
		In:  in,
		Out: out,
	}
	l.W.XavierInit(rng)
	return l
}

// Params returns the learnable tensors of the layer.
func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// Forward maps x [batch x in] to [batch x out]. The caller keeps x for the
// backward pass.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	batch, _ := x.Dims()
	y := mat.NewDense(batch, l.Out, nil)
	y.Mul(x, l.W.Value.T())
	addBroadcastRow(y, l.B.Value)
	return y
}

// Backward accumulates parameter gradients given the forward input x and
// the output gradient dy, and returns the input gradient dx.
func (l *Linear) Backward(x, dy *mat.Dense) *mat.Dense {
	// dW += dyᵀ x
	var dW mat.Dense
	dW.Mul(dy.T(), x)
	l.W.Grad.Add(l.W.Grad, &dW)

	// db += column sums of dy
	colSumsInto(l.B.Grad, dy)

	// dx = dy W
	batch, _ := dy.Dims()
	dx := mat.NewDense(batch, l.In, nil)
	dx.Mul(dy, l.W.Value)
	return dx
}
