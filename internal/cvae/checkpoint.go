package cvae

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/skyhaven-systems/trajgen/internal/nn"
	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// tensorBlob is the serialized form of one matrix.
type tensorBlob struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func blobFromDense(m *mat.Dense) tensorBlob {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return tensorBlob{Rows: r, Cols: c, Data: data}
}

func (b tensorBlob) toDense() (*mat.Dense, error) {
	if len(b.Data) != b.Rows*b.Cols {
		return nil, fmt.Errorf("tensor blob has %d values, expected %dx%d", len(b.Data), b.Rows, b.Cols)
	}
	return mat.NewDense(b.Rows, b.Cols, append([]float64(nil), b.Data...)), nil
}

// OptimizerState carries the Adam moments so an interrupted run can
// resume with its bias-correction schedule intact.
type OptimizerState struct {
	Step int          `json:"step"`
	M    []tensorBlob `json:"m"`
	V    []tensorBlob `json:"v"`
}

// Checkpoint is the persisted snapshot of a model: weights, optimizer
// state (training only), training metadata and the normalization
// parameters the weights were fit under. Epoch-stamped checkpoints are
// append-only (one file per improving epoch, never rewritten); the
// distinguished best file is replaced with a copy of the newest
// improving snapshot.
type Checkpoint struct {
	Epoch         int                   `json:"epoch"`
	TrainLoss     float64               `json:"train_loss"`
	ValLoss       float64               `json:"val_loss"`
	Config        ModelConfig           `json:"config"`
	Normalization traj.NormParams       `json:"normalization"`
	Weights       map[string]tensorBlob `json:"weights"`
	Optimizer     *OptimizerState       `json:"optimizer,omitempty"`
}

// NewCheckpoint captures the model's current weights together with run
// metadata. opt may be nil for inference-only snapshots.
func NewCheckpoint(m *Model, norm traj.NormParams, opt *nn.Adam, epoch int, trainLoss, valLoss float64) *Checkpoint {
	ck := &Checkpoint{
		Epoch:         epoch,
		TrainLoss:     trainLoss,
		ValLoss:       valLoss,
		Config:        m.Config,
		Normalization: norm,
		Weights:       make(map[string]tensorBlob),
	}
	for _, p := range m.Params() {
		ck.Weights[p.Name] = blobFromDense(p.Value)
	}
	if opt != nil {
		mms, vms := opt.Moments()
		st := &OptimizerState{Step: opt.StepCount()}
		for i := range mms {
			st.M = append(st.M, blobFromDense(mms[i]))
			st.V = append(st.V, blobFromDense(vms[i]))
		}
		ck.Optimizer = st
	}
	return ck
}

// Save writes the checkpoint as gzip-compressed JSON.
func (ck *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(ck); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish checkpoint write: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint bundle from disk.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("checkpoint is not gzip-compressed: %w", err)
	}
	defer zr.Close()

	var ck Checkpoint
	if err := json.NewDecoder(zr).Decode(&ck); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if err := ck.Config.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint carries invalid model config: %w", err)
	}
	if err := ck.Normalization.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint carries invalid normalization: %w", err)
	}
	return &ck, nil
}

// Restore builds a model from the checkpoint's config and loads its
// weights. Every parameter must be present with matching shape; a
// dimensionality mismatch is a configuration error, never patched over.
func (ck *Checkpoint) Restore() (*Model, error) {
	// Construction RNG is irrelevant: every weight is overwritten below.
	m, err := NewModel(ck.Config, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	for _, p := range m.Params() {
		blob, ok := ck.Weights[p.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint missing weights for %s", p.Name)
		}
		w, err := blob.toDense()
		if err != nil {
			return nil, fmt.Errorf("checkpoint weights for %s: %w", p.Name, err)
		}
		wr, wc := w.Dims()
		pr, pc := p.Value.Dims()
		if wr != pr || wc != pc {
			return nil, fmt.Errorf("checkpoint weights for %s are %dx%d, model expects %dx%d", p.Name, wr, wc, pr, pc)
		}
		p.Value.Copy(w)
	}
	return m, nil
}

// RestoreOptimizer loads the checkpointed Adam moments into opt. Call
// after constructing the optimizer over the restored model's params.
func (ck *Checkpoint) RestoreOptimizer(opt *nn.Adam) error {
	if ck.Optimizer == nil {
		return fmt.Errorf("checkpoint has no optimizer state")
	}
	ms := make([]*mat.Dense, len(ck.Optimizer.M))
	vs := make([]*mat.Dense, len(ck.Optimizer.V))
	for i := range ck.Optimizer.M {
		m, err := ck.Optimizer.M[i].toDense()
		if err != nil {
			return fmt.Errorf("optimizer moment m[%d]: %w", i, err)
		}
		v, err := ck.Optimizer.V[i].toDense()
		if err != nil {
			return fmt.Errorf("optimizer moment v[%d]: %w", i, err)
		}
		ms[i], vs[i] = m, v
	}
	opt.RestoreMoments(ms, vs, ck.Optimizer.Step)
	return nil
}
