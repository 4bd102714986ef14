package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// sumWeighted is the scalar test loss: sum of the elementwise product of
// out and weights, whose gradient with respect to out is exactly weights.
func sumWeighted(out, weights *mat.Dense) float64 {
	var s float64
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += out.At(i, j) * weights.At(i, j)
		}
	}
	return s
}

func randDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

// numericalGrad computes a central-difference gradient of loss() with
// respect to every entry of target.
func numericalGrad(target *mat.Dense, loss func() float64) *mat.Dense {
	const eps = 1e-5
	r, c := target.Dims()
	grad := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			orig := target.At(i, j)
			target.Set(i, j, orig+eps)
			plus := loss()
			target.Set(i, j, orig-eps)
			minus := loss()
			target.Set(i, j, orig)
			grad.Set(i, j, (plus-minus)/(2*eps))
		}
	}
	return grad
}

func assertGradClose(t *testing.T, want, got *mat.Dense, label string) {
	t.Helper()
	r, c := want.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.InDelta(t, want.At(i, j), got.At(i, j), 1e-5, "%s[%d,%d]", label, i, j)
		}
	}
}

func TestLinearGradients(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	l := NewLinear("fc", 4, 3, rng)
	x := randDense(rng, 2, 4)
	dy := randDense(rng, 2, 3)

	loss := func() float64 { return sumWeighted(l.Forward(x), dy) }

	l.W.ZeroGrad()
	l.B.ZeroGrad()
	dx := l.Backward(x, dy)

	assertGradClose(t, numericalGrad(l.W.Value, loss), l.W.Grad, "dW")
	assertGradClose(t, numericalGrad(l.B.Value, loss), l.B.Grad, "db")
	assertGradClose(t, numericalGrad(x, loss), dx, "dx")
}

func TestLSTMCellGradients(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(2))
	cell := NewLSTMCell("cell", 3, 5, rng)
	x := randDense(rng, 2, 3)
	hPrev := randDense(rng, 2, 5)
	cPrev := randDense(rng, 2, 5)
	dh := randDense(rng, 2, 5)
	dc := randDense(rng, 2, 5)

	loss := func() float64 {
		h, c, _ := cell.Forward(x, hPrev, cPrev)
		return sumWeighted(h, dh) + sumWeighted(c, dc)
	}

	_, _, cache := cell.Forward(x, hPrev, cPrev)
	for _, p := range cell.Params() {
		p.ZeroGrad()
	}
	dx, dhPrev, dcPrev := cell.Backward(cache, mat.DenseCopyOf(dh), mat.DenseCopyOf(dc))

	assertGradClose(t, numericalGrad(cell.Wx.Value, loss), cell.Wx.Grad, "dWx")
	assertGradClose(t, numericalGrad(cell.Wh.Value, loss), cell.Wh.Grad, "dWh")
	assertGradClose(t, numericalGrad(cell.B.Value, loss), cell.B.Grad, "dB")
	assertGradClose(t, numericalGrad(x, loss), dx, "dx")
	assertGradClose(t, numericalGrad(hPrev, loss), dhPrev, "dhPrev")
	assertGradClose(t, numericalGrad(cPrev, loss), dcPrev, "dcPrev")
}

func TestLSTMStackGradients(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	stack := NewLSTMStack("stack", 3, 4, 2, rng)

	const T = 4
	xs := make([]*mat.Dense, T)
	dTops := make([]*mat.Dense, T)
	for i := range xs {
		xs[i] = randDense(rng, 2, 3)
		dTops[i] = randDense(rng, 2, 4)
	}

	loss := func() float64 {
		tops, _, _ := stack.Forward(xs, nil)
		var s float64
		for i := range tops {
			s += sumWeighted(tops[i], dTops[i])
		}
		return s
	}

	_, _, caches := stack.Forward(xs, nil)
	for _, p := range stack.Params() {
		p.ZeroGrad()
	}
	dTopsCopy := make([]*mat.Dense, T)
	for i := range dTops {
		dTopsCopy[i] = mat.DenseCopyOf(dTops[i])
	}
	dxs, _ := stack.Backward(caches, dTopsCopy, nil)

	for _, p := range stack.Params() {
		assertGradClose(t, numericalGrad(p.Value, loss), p.Grad, p.Name)
	}
	for i := range xs {
		assertGradClose(t, numericalGrad(xs[i], loss), dxs[i], "dx")
	}
}

func TestLSTMStackFinalStateGradients(t *testing.T) {
	t.Parallel()

	// Only the final hidden state of the top layer carries loss, the way
	// the encoder consumes the stack.
	rng := rand.New(rand.NewSource(4))
	stack := NewLSTMStack("enc", 3, 4, 2, rng)

	const T = 3
	xs := make([]*mat.Dense, T)
	for i := range xs {
		xs[i] = randDense(rng, 2, 3)
	}
	dhFinal := randDense(rng, 2, 4)

	loss := func() float64 {
		_, final, _ := stack.Forward(xs, nil)
		return sumWeighted(final.H[1], dhFinal)
	}

	_, _, caches := stack.Forward(xs, nil)
	for _, p := range stack.Params() {
		p.ZeroGrad()
	}
	dFinal := &StackStep{H: []*mat.Dense{nil, mat.DenseCopyOf(dhFinal)}, C: []*mat.Dense{nil, nil}}
	dxs, _ := stack.Backward(caches, make([]*mat.Dense, T), dFinal)

	for _, p := range stack.Params() {
		assertGradClose(t, numericalGrad(p.Value, loss), p.Grad, p.Name)
	}
	for i := range xs {
		assertGradClose(t, numericalGrad(xs[i], loss), dxs[i], "dx")
	}
}

func TestAdam(t *testing.T) {
	t.Parallel()

	t.Run("minimizes a quadratic", func(t *testing.T) {
		p := NewParam("w", 1, 1)
		p.Value.Set(0, 0, 5.0)
		opt := NewAdam([]*Param{p}, 0.1, 0)

		for i := 0; i < 500; i++ {
			opt.ZeroGrad()
			// d/dw (w-2)^2 = 2(w-2)
			p.Grad.Set(0, 0, 2*(p.Value.At(0, 0)-2))
			opt.Step()
		}
		assert.InDelta(t, 2.0, p.Value.At(0, 0), 1e-2)
	})

	t.Run("clip rescales the global norm", func(t *testing.T) {
		p1 := NewParam("a", 1, 1)
		p2 := NewParam("b", 1, 1)
		p1.Grad.Set(0, 0, 3)
		p2.Grad.Set(0, 0, 4)
		opt := NewAdam([]*Param{p1, p2}, 0.1, 0)

		norm := opt.ClipGradNorm(1.0)
		assert.InDelta(t, 5.0, norm, 1e-12)
		assert.InDelta(t, 1.0, opt.GradNorm(), 1e-9)
		// Direction preserved.
		assert.InDelta(t, 3.0/5.0, p1.Grad.At(0, 0), 1e-9)
	})

	t.Run("clip below threshold is a no-op", func(t *testing.T) {
		p := NewParam("a", 1, 1)
		p.Grad.Set(0, 0, 0.5)
		opt := NewAdam([]*Param{p}, 0.1, 0)
		opt.ClipGradNorm(1.0)
		assert.Equal(t, 0.5, p.Grad.At(0, 0))
	})

	t.Run("moments round trip", func(t *testing.T) {
		p := NewParam("w", 2, 2)
		opt := NewAdam([]*Param{p}, 0.01, 0)
		p.Grad.Set(0, 0, 1)
		opt.Step()

		m, v := opt.Moments()
		opt2 := NewAdam([]*Param{p}, 0.01, 0)
		opt2.RestoreMoments(m, v, opt.StepCount())
		require.Equal(t, opt.StepCount(), opt2.StepCount())
		m2, v2 := opt2.Moments()
		assert.InDelta(t, m[0].At(0, 0), m2[0].At(0, 0), 1e-15)
		assert.InDelta(t, v[0].At(0, 0), v2[0].At(0, 0), 1e-15)
	})
}
