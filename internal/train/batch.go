package train

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/skyhaven-systems/trajgen/internal/cvae"
	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// Batch is one mini-batch in normalized space: the per-step sequence
// tensors plus the boundary conditions.
type Batch struct {
	Seq   []*mat.Dense // per time step, [batch x 3]
	Start *mat.Dense   // [batch x 3]
	End   *mat.Dense   // [batch x 3]
	Size  int
}

func makeBatch(trajs []traj.Trajectory) *Batch {
	starts := make([]traj.Waypoint, len(trajs))
	ends := make([]traj.Waypoint, len(trajs))
	for i, tr := range trajs {
		starts[i] = tr[0]
		ends[i] = tr[len(tr)-1]
	}
	return &Batch{
		Seq:   cvae.SeqFromTrajectories(trajs),
		Start: cvae.WaypointsToDense(starts),
		End:   cvae.WaypointsToDense(ends),
		Size:  len(trajs),
	}
}

// feedBatches shuffles the corpus with rng and streams mini-batches over
// a bounded channel so tensor assembly overlaps the optimizer step. The
// channel preserves the shuffled order; the trailing partial batch is
// kept. The channel closes after the last batch.
func feedBatches(trajs []traj.Trajectory, batchSize int, rng *rand.Rand) <-chan *Batch {
	order := rng.Perm(len(trajs))

	out := make(chan *Batch, 2)
	go func() {
		defer close(out)
		for lo := 0; lo < len(order); lo += batchSize {
			hi := lo + batchSize
			if hi > len(order) {
				hi = len(order)
			}
			chunk := make([]traj.Trajectory, hi-lo)
			for i, idx := range order[lo:hi] {
				chunk[i] = trajs[idx]
			}
			out <- makeBatch(chunk)
		}
	}()
	return out
}

// sequentialBatches streams the corpus unshuffled, for validation.
func sequentialBatches(trajs []traj.Trajectory, batchSize int) <-chan *Batch {
	out := make(chan *Batch, 2)
	go func() {
		defer close(out)
		for lo := 0; lo < len(trajs); lo += batchSize {
			hi := lo + batchSize
			if hi > len(trajs) {
				hi = len(trajs)
			}
			out <- makeBatch(trajs[lo:hi])
		}
	}()
	return out
}
