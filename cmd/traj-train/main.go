// traj-train fits the generative model on a CSV corpus, checkpointing to
// a save directory and recording per-epoch losses to the run database.
package main

import (
	"flag"
	"log"

	"github.com/skyhaven-systems/trajgen/internal/config"
	"github.com/skyhaven-systems/trajgen/internal/cvae"
	"github.com/skyhaven-systems/trajgen/internal/dataset"
	"github.com/skyhaven-systems/trajgen/internal/runstore"
	"github.com/skyhaven-systems/trajgen/internal/train"
	"github.com/skyhaven-systems/trajgen/internal/version"
)

var (
	dataPath   = flag.String("data", "data/trajectories.csv", "Training corpus CSV")
	configPath = flag.String("config", "", "Config JSON (defaults apply when empty)")
	saveDir    = flag.String("save-dir", "models", "Checkpoint directory")
	runsDB     = flag.String("runs-db", "runs.db", "Run bookkeeping database (empty to disable)")
	resumePath = flag.String("resume", "", "Checkpoint to resume from")
	exportNorm = flag.String("export-norm", "", "Write normalization sidecar JSON to this path after training")
)

func main() {
	flag.Parse()
	log.Printf("traj-train %s", version.String())

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	samples, err := dataset.LoadCSV(*dataPath)
	if err != nil {
		log.Fatalf("failed to load corpus: %v", err)
	}
	trainSamples, valSamples, err := dataset.Split(samples, cfg.GetTrainSplit(), cfg.GetSeed())
	if err != nil {
		log.Fatalf("failed to split corpus: %v", err)
	}

	var store *runstore.Store
	var recorder train.Recorder
	var runID string
	if *runsDB != "" {
		store, err = runstore.Open(*runsDB)
		if err != nil {
			log.Fatalf("failed to open run database: %v", err)
		}
		defer store.Close()
		runID, err = store.CreateRun(cfg)
		if err != nil {
			log.Fatalf("failed to register run: %v", err)
		}
		recorder = store.Recorder(runID)
		log.Printf("run %s", runID)
	}

	var trainer *train.Trainer
	if *resumePath != "" {
		ck, err := cvae.LoadCheckpoint(*resumePath)
		if err != nil {
			log.Fatalf("failed to load checkpoint: %v", err)
		}
		trainer, err = train.Resume(cfg, ck, *saveDir, recorder)
		if err != nil {
			log.Fatalf("failed to resume: %v", err)
		}
		log.Printf("resumed from %s (epoch %d)", *resumePath, ck.Epoch)
	} else {
		trainer, err = train.New(cfg, *saveDir, recorder)
		if err != nil {
			log.Fatalf("failed to build trainer: %v", err)
		}
	}

	res, err := trainer.Run(dataset.Trajectories(trainSamples), dataset.Trajectories(valSamples))
	if err != nil {
		if store != nil {
			if ferr := store.FailRun(runID); ferr != nil {
				log.Printf("failed to mark run failed: %v", ferr)
			}
		}
		log.Fatalf("training failed: %v", err)
	}

	if store != nil {
		if err := store.FinishRun(runID, res); err != nil {
			log.Fatalf("failed to record run result: %v", err)
		}
	}
	if *exportNorm != "" {
		if err := trainer.Norm().SaveFlatKV(*exportNorm); err != nil {
			log.Fatalf("failed to export normalization: %v", err)
		}
		log.Printf("wrote normalization sidecar %s", *exportNorm)
	}
	log.Printf("done: best val %.6f at epoch %d (%s)", res.BestValLoss, res.BestEpoch+1, res.BestCheckpoint)
}
