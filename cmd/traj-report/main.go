// traj-report renders loss-curve reports from the run database.
package main

import (
	"flag"
	"log"

	"github.com/skyhaven-systems/trajgen/internal/report"
	"github.com/skyhaven-systems/trajgen/internal/runstore"
)

var (
	runsDB = flag.String("runs-db", "runs.db", "Run bookkeeping database")
	runID  = flag.String("run", "", "Run to report on (default: most recent)")
	out    = flag.String("out", "report/loss_curves.html", "Output HTML path")
	list   = flag.Bool("list", false, "List runs and exit")
)

func main() {
	flag.Parse()

	store, err := runstore.Open(*runsDB)
	if err != nil {
		log.Fatalf("failed to open run database: %v", err)
	}
	defer store.Close()

	if *list {
		runs, err := store.ListRuns()
		if err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		for _, r := range runs {
			log.Printf("%s %s epochs=%d best_val=%.6f started=%s",
				r.ID, r.Status, r.EpochsRun, r.BestValLoss, r.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return
	}

	id := *runID
	if id == "" {
		runs, err := store.ListRuns()
		if err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			log.Fatalf("run database has no runs")
		}
		id = runs[0].ID
		log.Printf("defaulting to most recent run %s", id)
	}

	run, err := store.GetRun(id)
	if err != nil {
		log.Fatalf("failed to load run: %v", err)
	}
	history, err := store.EpochHistory(id)
	if err != nil {
		log.Fatalf("failed to load epoch history: %v", err)
	}
	if len(history) == 0 {
		log.Fatalf("run %s has no recorded epochs", id)
	}

	title := "training run " + run.ID
	if err := report.LossCurvesHTML(history, title, *out); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s (%d epochs)", *out, len(history))
}
