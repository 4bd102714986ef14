// Package nn provides the small set of neural-network building blocks the
// trajectory model needs: dense and LSTM layers with explicit
// forward/backward passes, and an Adam optimizer with gradient clipping.
// All math runs on gonum matrices; batches are row-major [batch x dim].
package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is one learnable tensor with its accumulated gradient. Gradients
// are accumulated across a whole batch forward/backward and cleared by the
// optimizer between steps.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// XavierInit fills the parameter with uniform values in
// [-sqrt(6/(in+out)), +sqrt(6/(in+out))], the usual symmetric init for
// saturating activations. rows acts as fan-out, cols as fan-in.
func (p *Param) XavierInit(rng *rand.Rand) {
	rows, cols := p.Value.Dims()
	limit := math.Sqrt(6.0 / float64(rows+cols))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.Value.Set(i, j, (rng.Float64()*2-1)*limit)
		}
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// sigmoid applies the logistic function elementwise into dst.
func sigmoid(dst, src *mat.Dense) {
	dst.Apply(func(_, _ int, v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	}, src)
}

// tanhm applies tanh elementwise into dst.
func tanhm(dst, src *mat.Dense) {
	dst.Apply(func(_, _ int, v float64) float64 {
		return math.Tanh(v)
	}, src)
}

// zerosLike allocates a zero matrix with the shape of m.
func zerosLike(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	return mat.NewDense(r, c, nil)
}

// colSumsInto adds the column sums of src into the 1 x cols accumulator.
func colSumsInto(acc *mat.Dense, src *mat.Dense) {
	r, c := src.Dims()
	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += src.At(i, j)
		}
		acc.Set(0, j, acc.At(0, j)+s)
	}
}

// addBroadcastRow adds the 1 x cols row vector b to every row of dst.
func addBroadcastRow(dst *mat.Dense, b *mat.Dense) {
	r, c := dst.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(i, j, dst.At(i, j)+b.At(0, j))
		}
	}
}
