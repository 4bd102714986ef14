package cvae

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LossWeights are the fixed hyperparameters combining the four loss terms.
// Reconstruction carries implicit weight 1.
type LossWeights struct {
	Beta           float64 // KL regularization
	LambdaSmooth   float64 // second-difference penalty
	LambdaBoundary float64 // start/end conditioning
}

// LossValues reports the unweighted value of every term plus the weighted
// total for one batch.
type LossValues struct {
	Total          float64 `json:"total"`
	Reconstruction float64 `json:"reconstruction"`
	KL             float64 `json:"kl"`
	Smoothness     float64 `json:"smoothness"`
	Boundary       float64 `json:"boundary"`
}

// IsFinite reports whether every component is a finite real. A non-finite
// loss is fatal for a training run.
func (v LossValues) IsFinite() bool {
	for _, f := range []float64{v.Total, v.Reconstruction, v.KL, v.Smoothness, v.Boundary} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Add accumulates another batch's values (for epoch averaging).
func (v *LossValues) Add(o LossValues) {
	v.Total += o.Total
	v.Reconstruction += o.Reconstruction
	v.KL += o.KL
	v.Smoothness += o.Smoothness
	v.Boundary += o.Boundary
}

// Scale divides every component by n.
func (v *LossValues) Scale(n float64) {
	v.Total /= n
	v.Reconstruction /= n
	v.KL /= n
	v.Smoothness /= n
	v.Boundary /= n
}

// ComputeLoss evaluates the composite training objective and its analytic
// gradients:
//
//	total = MSE(outputs, targets)
//	      + beta * KL(N(mu, exp(logvar)) || N(0, I))
//	      + lambdaSmooth * mean squared second difference
//	      + lambdaBoundary * (MSE(first, start) + MSE(last, end))
//
// outputs and targets are per-step [batch x 3] sequences in normalized
// space. The returned dOutputs, dMu and dLogvar are gradients of the
// weighted total.
func ComputeLoss(w LossWeights, outputs, targets []*mat.Dense, mu, logvar, start, end *mat.Dense) (LossValues, []*mat.Dense, *mat.Dense, *mat.Dense) {
	T := len(outputs)
	batch, _ := outputs[0].Dims()
	B := float64(batch)

	dOutputs := make([]*mat.Dense, T)
	for t := range dOutputs {
		dOutputs[t] = mat.NewDense(batch, 3, nil)
	}

	var v LossValues

	// Reconstruction: elementwise MSE over the whole sequence.
	nElem := B * float64(T) * 3
	for t := 0; t < T; t++ {
		for b := 0; b < batch; b++ {
			for d := 0; d < 3; d++ {
				diff := outputs[t].At(b, d) - targets[t].At(b, d)
				v.Reconstruction += diff * diff / nElem
				dOutputs[t].Set(b, d, dOutputs[t].At(b, d)+2*diff/nElem)
			}
		}
	}

	// KL divergence against the standard normal prior, averaged over the
	// batch: -0.5 * sum(1 + logvar - mu^2 - exp(logvar)).
	dMu := mat.NewDense(batch, muCols(mu), nil)
	dLogvar := mat.NewDense(batch, muCols(mu), nil)
	for b := 0; b < batch; b++ {
		for j := 0; j < muCols(mu); j++ {
			m := mu.At(b, j)
			lv := logvar.At(b, j)
			v.KL += -0.5 * (1 + lv - m*m - math.Exp(lv)) / B
			dMu.Set(b, j, w.Beta*m/B)
			dLogvar.Set(b, j, w.Beta*0.5*(math.Exp(lv)-1)/B)
		}
	}

	// Smoothness: mean over batch and interior points of the squared
	// second difference p[t+1] - 2 p[t] + p[t-1].
	if T >= 3 {
		n := B * float64(T-2)
		for t := 1; t < T-1; t++ {
			for b := 0; b < batch; b++ {
				for d := 0; d < 3; d++ {
					sd := outputs[t+1].At(b, d) - 2*outputs[t].At(b, d) + outputs[t-1].At(b, d)
					v.Smoothness += sd * sd / n
					g := w.LambdaSmooth * 2 * sd / n
					dOutputs[t+1].Set(b, d, dOutputs[t+1].At(b, d)+g)
					dOutputs[t].Set(b, d, dOutputs[t].At(b, d)-2*g)
					dOutputs[t-1].Set(b, d, dOutputs[t-1].At(b, d)+g)
				}
			}
		}
	}

	// Boundary: MSE of the first output against start plus the last
	// against end.
	nB := B * 3
	for b := 0; b < batch; b++ {
		for d := 0; d < 3; d++ {
			ds := outputs[0].At(b, d) - start.At(b, d)
			de := outputs[T-1].At(b, d) - end.At(b, d)
			v.Boundary += (ds*ds + de*de) / nB
			dOutputs[0].Set(b, d, dOutputs[0].At(b, d)+w.LambdaBoundary*2*ds/nB)
			dOutputs[T-1].Set(b, d, dOutputs[T-1].At(b, d)+w.LambdaBoundary*2*de/nB)
		}
	}

	v.Total = v.Reconstruction + w.Beta*v.KL + w.LambdaSmooth*v.Smoothness + w.LambdaBoundary*v.Boundary
	return v, dOutputs, dMu, dLogvar
}

func muCols(mu *mat.Dense) int {
	_, c := mu.Dims()
	return c
}
