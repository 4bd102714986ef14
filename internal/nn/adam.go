package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam implements the Adam optimizer with decoupled-from-nothing classic
// L2 weight decay (decay folded into the gradient, matching the reference
// training run).
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	params []*Param
	m      []*mat.Dense
	v      []*mat.Dense
	step   int
}

// NewAdam creates an optimizer over the given parameters.
func NewAdam(params []*Param, lr, weightDecay float64) *Adam {
	a := &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		params:      params,
		m:           make([]*mat.Dense, len(params)),
		v:           make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		a.m[i] = zerosLike(p.Value)
		a.v[i] = zerosLike(p.Value)
	}
	return a
}

// Params returns the parameters the optimizer manages.
func (a *Adam) Params() []*Param {
	return a.params
}

// StepCount returns the number of optimizer steps taken so far.
func (a *Adam) StepCount() int {
	return a.step
}

// ZeroGrad clears every parameter gradient.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm over all parameter gradients.
func (a *Adam) GradNorm() float64 {
	var sum float64
	for _, p := range a.params {
		r, c := p.Grad.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g := p.Grad.At(i, j)
				sum += g * g
			}
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales all gradients so their global L2 norm does not
// exceed maxNorm. Returns the pre-clip norm.
func (a *Adam) ClipGradNorm(maxNorm float64) float64 {
	norm := a.GradNorm()
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range a.params {
			p.Grad.Scale(scale, p.Grad)
		}
	}
	return norm
}

// Step applies one Adam update using the accumulated gradients.
func (a *Adam) Step() {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range a.params {
		r, c := p.Value.Dims()
		for row := 0; row < r; row++ {
			for col := 0; col < c; col++ {
				g := p.Grad.At(row, col)
				if a.WeightDecay != 0 {
					g += a.WeightDecay * p.Value.At(row, col)
				}
				m := a.Beta1*a.m[i].At(row, col) + (1-a.Beta1)*g
				v := a.Beta2*a.v[i].At(row, col) + (1-a.Beta2)*g*g
				a.m[i].Set(row, col, m)
				a.v[i].Set(row, col, v)

				mHat := m / bc1
				vHat := v / bc2
				p.Value.Set(row, col, p.Value.At(row, col)-a.LR*mHat/(math.Sqrt(vHat)+a.Eps))
			}
		}
	}
}

// Moments exposes the optimizer state for checkpointing: first and second
// moment estimates per parameter, in parameter order.
func (a *Adam) Moments() (m, v []*mat.Dense) {
	return a.m, a.v
}

// RestoreMoments loads previously checkpointed optimizer state. The step
// count resumes the bias-correction schedule.
func (a *Adam) RestoreMoments(m, v []*mat.Dense, step int) {
	for i := range a.params {
		if i < len(m) && m[i] != nil {
			a.m[i].Copy(m[i])
		}
		if i < len(v) && v[i] != nil {
			a.v[i].Copy(v[i])
		}
	}
	a.step = step
}
