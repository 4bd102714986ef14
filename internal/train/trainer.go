// Package train drives the mini-batch optimization loop: teacher-forcing
// schedule, validation, checkpointing, early stopping and learning-rate
// plateau decay.
package train

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/skyhaven-systems/trajgen/internal/config"
	"github.com/skyhaven-systems/trajgen/internal/cvae"
	"github.com/skyhaven-systems/trajgen/internal/nn"
	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// EpochStats is the per-epoch record of one training run.
type EpochStats struct {
	Epoch        int
	Train        cvae.LossValues
	Val          cvae.LossValues
	LearningRate float64
	TFRatio      float64
}

// Recorder receives per-epoch statistics. Implementations persist them
// (see internal/runstore); a nil Recorder is skipped.
type Recorder interface {
	RecordEpoch(stats EpochStats) error
}

// Result summarizes a finished run.
type Result struct {
	BestValLoss    float64
	BestEpoch      int
	EpochsRun      int
	BestCheckpoint string
	History        []EpochStats
	Stopped        bool // true if early stopping fired before the epoch budget
}

// Trainer owns one training run. Construct with New, then call Run once.
type Trainer struct {
	cfg      *config.Config
	model    *cvae.Model
	opt      *nn.Adam
	norm     traj.NormParams
	saveDir  string
	recorder Recorder
	rng      *rand.Rand
}

// New builds a trainer with a freshly initialized model. saveDir receives
// the checkpoint files. recorder may be nil.
func New(cfg *config.Config, saveDir string, recorder Recorder) (*Trainer, error) {
	rng := rand.New(rand.NewSource(cfg.GetSeed()))
	model, err := cvae.NewModel(cvae.ModelConfig{
		LatentDim:     cfg.GetLatentDim(),
		HiddenDim:     cfg.GetHiddenDim(),
		NumLayers:     cfg.GetNumLayers(),
		WaypointCount: cfg.GetWaypointCount(),
	}, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	return &Trainer{
		cfg:      cfg,
		model:    model,
		opt:      nn.NewAdam(model.Params(), cfg.GetLearningRate(), cfg.GetWeightDecay()),
		saveDir:  saveDir,
		recorder: recorder,
		rng:      rng,
	}, nil
}

// Resume builds a trainer from a checkpoint, restoring model weights,
// optimizer moments and normalization so the run continues where it
// stopped.
func Resume(cfg *config.Config, ck *cvae.Checkpoint, saveDir string, recorder Recorder) (*Trainer, error) {
	model, err := ck.Restore()
	if err != nil {
		return nil, fmt.Errorf("failed to restore model: %w", err)
	}
	opt := nn.NewAdam(model.Params(), cfg.GetLearningRate(), cfg.GetWeightDecay())
	if ck.Optimizer != nil {
		if err := ck.RestoreOptimizer(opt); err != nil {
			return nil, fmt.Errorf("failed to restore optimizer: %w", err)
		}
	}
	return &Trainer{
		cfg:      cfg,
		model:    model,
		opt:      opt,
		norm:     ck.Normalization,
		saveDir:  saveDir,
		recorder: recorder,
		rng:      rand.New(rand.NewSource(cfg.GetSeed())),
	}, nil
}

// Model exposes the trained model (after Run, the latest weights; the
// best weights live in the best checkpoint).
func (tr *Trainer) Model() *cvae.Model { return tr.model }

// Norm exposes the normalization the model was fit under.
func (tr *Trainer) Norm() traj.NormParams { return tr.norm }

// tfRatio computes the teacher-forcing schedule for one epoch.
func (tr *Trainer) tfRatio(epoch int) float64 {
	r := tr.cfg.GetTeacherForcingInitial() * math.Pow(tr.cfg.GetTeacherForcingDecay(), float64(epoch))
	return math.Max(r, tr.cfg.GetTeacherForcingMin())
}

// Run fits normalization on the training set, normalizes both sets and
// executes the epoch loop. Trajectories are in raw coordinates; every
// trajectory must have the configured waypoint count.
func (tr *Trainer) Run(trainSet, valSet []traj.Trajectory) (*Result, error) {
	if len(trainSet) == 0 || len(valSet) == 0 {
		return nil, fmt.Errorf("training requires non-empty train and validation sets, got %d/%d", len(trainSet), len(valSet))
	}
	want := tr.cfg.GetWaypointCount()
	for i, t := range append(append([]traj.Trajectory(nil), trainSet...), valSet...) {
		if len(t) != want {
			return nil, fmt.Errorf("trajectory %d has %d waypoints, model expects %d", i, len(t), want)
		}
	}

	norm, err := traj.FitNorm(trainSet)
	if err != nil {
		return nil, fmt.Errorf("failed to fit normalization: %w", err)
	}
	tr.norm = norm
	trainN := normalizeAll(norm, trainSet)
	valN := normalizeAll(norm, valSet)

	weights := cvae.LossWeights{
		Beta:           tr.cfg.GetBeta(),
		LambdaSmooth:   tr.cfg.GetLambdaSmooth(),
		LambdaBoundary: tr.cfg.GetLambdaBoundary(),
	}

	res := &Result{BestValLoss: math.Inf(1), BestEpoch: -1}
	patience := 0
	plateau := 0

	log.Printf("training: %d train / %d val trajectories, %d epochs, batch size %d",
		len(trainSet), len(valSet), tr.cfg.GetEpochs(), tr.cfg.GetBatchSize())

	for epoch := 0; epoch < tr.cfg.GetEpochs(); epoch++ {
		tf := tr.tfRatio(epoch)

		trainLoss, err := tr.trainEpoch(trainN, weights, tf)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		valLoss, err := tr.evaluate(valN, weights)
		if err != nil {
			return nil, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
		}

		stats := EpochStats{
			Epoch:        epoch,
			Train:        trainLoss,
			Val:          valLoss,
			LearningRate: tr.opt.LR,
			TFRatio:      tf,
		}
		res.History = append(res.History, stats)
		res.EpochsRun = epoch + 1
		if tr.recorder != nil {
			if err := tr.recorder.RecordEpoch(stats); err != nil {
				return nil, fmt.Errorf("epoch %d: failed to record stats: %w", epoch+1, err)
			}
		}

		log.Printf("epoch %d/%d: train %.6f val %.6f (recon %.6f kl %.6f smooth %.6f bound %.6f) lr %.2g tf %.3f",
			epoch+1, tr.cfg.GetEpochs(), trainLoss.Total, valLoss.Total,
			valLoss.Reconstruction, valLoss.KL, valLoss.Smoothness, valLoss.Boundary,
			tr.opt.LR, tf)

		improved := valLoss.Total < res.BestValLoss
		if improved {
			res.BestValLoss = valLoss.Total
			res.BestEpoch = epoch
			patience = 0
			plateau = 0

			// Improving epochs get their own append-only file; the best
			// pointer file is rewritten to the same snapshot.
			ck := cvae.NewCheckpoint(tr.model, tr.norm, tr.opt, epoch, trainLoss.Total, valLoss.Total)
			epochPath := filepath.Join(tr.saveDir, fmt.Sprintf("checkpoint_epoch_%d.ckpt.gz", epoch+1))
			if err := ck.Save(epochPath); err != nil {
				return nil, fmt.Errorf("epoch %d: failed to save checkpoint: %w", epoch+1, err)
			}
			bestPath := filepath.Join(tr.saveDir, "best_model.ckpt.gz")
			if err := ck.Save(bestPath); err != nil {
				return nil, fmt.Errorf("epoch %d: failed to save best checkpoint: %w", epoch+1, err)
			}
			res.BestCheckpoint = bestPath
			log.Printf("epoch %d: saved best model (val %.6f)", epoch+1, valLoss.Total)
		} else {
			patience++
			plateau++
		}

		if plateau > tr.cfg.GetLRPlateauPatience() {
			tr.opt.LR *= tr.cfg.GetLRPlateauFactor()
			plateau = 0
			log.Printf("epoch %d: validation plateau, learning rate reduced to %.2g", epoch+1, tr.opt.LR)
		}

		if interval := tr.cfg.GetSaveInterval(); interval > 0 && (epoch+1)%interval == 0 && !improved {
			path := filepath.Join(tr.saveDir, fmt.Sprintf("checkpoint_epoch_%d.ckpt.gz", epoch+1))
			ck := cvae.NewCheckpoint(tr.model, tr.norm, tr.opt, epoch, trainLoss.Total, valLoss.Total)
			if err := ck.Save(path); err != nil {
				return nil, fmt.Errorf("epoch %d: failed to save checkpoint: %w", epoch+1, err)
			}
			log.Printf("epoch %d: saved checkpoint %s", epoch+1, filepath.Base(path))
		}

		if patience >= tr.cfg.GetPatience() {
			log.Printf("early stopping after %d epochs (no improvement for %d)", epoch+1, patience)
			res.Stopped = true
			break
		}
	}

	log.Printf("training complete: best val %.6f at epoch %d", res.BestValLoss, res.BestEpoch+1)
	return res, nil
}

func normalizeAll(p traj.NormParams, trajs []traj.Trajectory) []traj.Trajectory {
	out := make([]traj.Trajectory, len(trajs))
	for i, t := range trajs {
		out[i] = p.NormalizeTrajectory(t)
	}
	return out
}

// trainEpoch runs one optimization pass over the shuffled training set.
func (tr *Trainer) trainEpoch(trajs []traj.Trajectory, w cvae.LossWeights, tf float64) (cvae.LossValues, error) {
	var total cvae.LossValues
	batches := 0

	feed := feedBatches(trajs, tr.cfg.GetBatchSize(), tr.rng)
	for batch := range feed {
		fwd := tr.model.Forward(batch.Seq, batch.Start, batch.End, tf, tr.rng)
		values, dOut, dMu, dLogvar := cvae.ComputeLoss(w, fwd.Outputs, batch.Seq, fwd.Mu, fwd.Logvar, batch.Start, batch.End)
		if !values.IsFinite() {
			// Drain the feeder so its goroutine exits before we bail.
			for range feed {
			}
			return total, fmt.Errorf("non-finite training loss %+v", values)
		}

		tr.opt.ZeroGrad()
		tr.model.Backward(fwd, dOut, dMu, dLogvar)
		tr.opt.ClipGradNorm(tr.cfg.GetGradClipNorm())
		tr.opt.Step()

		total.Add(values)
		batches++
	}

	total.Scale(float64(batches))
	return total, nil
}

// evaluate measures the loss over the validation set with teacher forcing
// disabled, so the decoder consumes its own outputs as it will at
// inference time. No gradients are taken.
func (tr *Trainer) evaluate(trajs []traj.Trajectory, w cvae.LossWeights) (cvae.LossValues, error) {
	var total cvae.LossValues
	batches := 0

	feed := sequentialBatches(trajs, tr.cfg.GetBatchSize())
	for batch := range feed {
		fwd := tr.model.Forward(batch.Seq, batch.Start, batch.End, 0.0, tr.rng)
		values, _, _, _ := cvae.ComputeLoss(w, fwd.Outputs, batch.Seq, fwd.Mu, fwd.Logvar, batch.Start, batch.End)
		if !values.IsFinite() {
			for range feed {
			}
			return total, fmt.Errorf("non-finite validation loss %+v", values)
		}
		total.Add(values)
		batches++
	}

	total.Scale(float64(batches))
	return total, nil
}
