// Package cvae implements the conditional variational encoder-decoder that
// generates boundary-constrained trajectories, together with its composite
// training loss and checkpoint format. All model math happens in the
// normalized coordinate space; callers own normalization.
package cvae

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// SeqFromTrajectories converts a batch of equal-length trajectories into a
// per-step sequence of [batch x 3] matrices, the layout the recurrent
// layers consume.
func SeqFromTrajectories(batch []traj.Trajectory) []*mat.Dense {
	if len(batch) == 0 {
		return nil
	}
	T := len(batch[0])
	seq := make([]*mat.Dense, T)
	for t := 0; t < T; t++ {
		m := mat.NewDense(len(batch), 3, nil)
		for b, tr := range batch {
			m.Set(b, 0, tr[t].X)
			m.Set(b, 1, tr[t].Y)
			m.Set(b, 2, tr[t].Z)
		}
		seq[t] = m
	}
	return seq
}

// TrajectoriesFromSeq inverts SeqFromTrajectories.
func TrajectoriesFromSeq(seq []*mat.Dense) []traj.Trajectory {
	if len(seq) == 0 {
		return nil
	}
	batch, _ := seq[0].Dims()
	out := make([]traj.Trajectory, batch)
	for b := 0; b < batch; b++ {
		tr := make(traj.Trajectory, len(seq))
		for t, m := range seq {
			tr[t] = traj.Waypoint{X: m.At(b, 0), Y: m.At(b, 1), Z: m.At(b, 2)}
		}
		out[b] = tr
	}
	return out
}

// WaypointsToDense packs waypoints into a [batch x 3] matrix.
func WaypointsToDense(wps []traj.Waypoint) *mat.Dense {
	m := mat.NewDense(len(wps), 3, nil)
	for i, wp := range wps {
		m.Set(i, 0, wp.X)
		m.Set(i, 1, wp.Y)
		m.Set(i, 2, wp.Z)
	}
	return m
}

// hconcat concatenates matrices left to right. All inputs share the batch
// dimension.
func hconcat(ms ...*mat.Dense) *mat.Dense {
	batch, _ := ms[0].Dims()
	var total int
	for _, m := range ms {
		_, c := m.Dims()
		total += c
	}
	out := mat.NewDense(batch, total, nil)
	off := 0
	for _, m := range ms {
		_, c := m.Dims()
		for i := 0; i < batch; i++ {
			for j := 0; j < c; j++ {
				out.Set(i, off+j, m.At(i, j))
			}
		}
		off += c
	}
	return out
}

// hslice copies columns [from, to) out of m.
func hslice(m *mat.Dense, from, to int) *mat.Dense {
	batch, _ := m.Dims()
	return mat.DenseCopyOf(m.Slice(0, batch, from, to))
}

// gaussian fills a new [rows x cols] matrix with independent standard
// normal draws from rng.
func gaussian(rng *rand.Rand, rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}
