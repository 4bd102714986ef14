// traj-datagen synthesizes a trajectory corpus and writes it as CSV.
package main

import (
	"flag"
	"log"

	"github.com/skyhaven-systems/trajgen/internal/dataset"
)

var (
	count  = flag.Int("count", 10000, "Number of trajectories to synthesize")
	points = flag.Int("points", 50, "Waypoints per trajectory")
	seed   = flag.Int64("seed", 42, "Random seed")
	out    = flag.String("out", "data/trajectories.csv", "Output CSV path")
)

func main() {
	flag.Parse()

	g := dataset.NewGenerator(dataset.DefaultBounds(), *seed)
	log.Printf("synthesizing %d trajectories (%d waypoints each, seed %d)", *count, *points, *seed)

	samples, err := g.GenerateCorpus(*count, *points)
	if err != nil {
		log.Fatalf("corpus generation failed: %v", err)
	}
	if err := dataset.SaveCSV(*out, samples); err != nil {
		log.Fatalf("failed to write corpus: %v", err)
	}
	log.Printf("wrote %d samples to %s", len(samples), *out)
}
