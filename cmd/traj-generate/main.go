// traj-generate produces ranked trajectory candidates from a trained
// checkpoint (or the exported ONNX decoder) for one start/end pair.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/skyhaven-systems/trajgen/internal/config"
	"github.com/skyhaven-systems/trajgen/internal/cvae"
	"github.com/skyhaven-systems/trajgen/internal/infer"
	"github.com/skyhaven-systems/trajgen/internal/onnx"
	"github.com/skyhaven-systems/trajgen/internal/report"
	"github.com/skyhaven-systems/trajgen/internal/traj"
	"github.com/skyhaven-systems/trajgen/internal/version"
)

var (
	checkpoint = flag.String("checkpoint", "models/best_model.ckpt.gz", "Trained model checkpoint")
	onnxModel  = flag.String("onnx", "", "Exported decoder graph (uses the native runtime instead of the checkpoint)")
	normPath   = flag.String("norm", "", "Normalization sidecar JSON (required with -onnx)")
	configPath = flag.String("config", "", "Config JSON (defaults apply when empty)")
	startArg   = flag.String("start", "", "Start waypoint as x,y,z")
	endArg     = flag.String("end", "", "End waypoint as x,y,z")
	obstArg    = flag.String("obstacles", "", "Obstacles as x,y,z,r;x,y,z,r;...")
	nCand      = flag.Int("n", 10, "Number of candidates")
	seed       = flag.Int64("seed", 42, "Random seed")
	outPath    = flag.String("out", "", "Write ranked candidates as JSON to this path (default stdout summary)")
	plotDir    = flag.String("plots", "", "Write trajectory plots to this directory")
)

func parseWaypoint(s string) (traj.Waypoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return traj.Waypoint{}, fmt.Errorf("waypoint %q must be x,y,z", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return traj.Waypoint{}, fmt.Errorf("bad coordinate %q: %w", p, err)
		}
		vals[i] = v
	}
	return traj.Waypoint{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

func parseObstacles(s string) ([]traj.Obstacle, error) {
	if s == "" {
		return nil, nil
	}
	var out []traj.Obstacle
	for _, spec := range strings.Split(s, ";") {
		parts := strings.Split(spec, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("obstacle %q must be x,y,z,r", spec)
		}
		var vals [4]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("bad obstacle value %q: %w", p, err)
			}
			vals[i] = v
		}
		out = append(out, traj.Obstacle{
			Center: traj.Waypoint{X: vals[0], Y: vals[1], Z: vals[2]},
			Radius: vals[3],
		})
	}
	return out, nil
}

// generator is the surface shared by the in-process engine and the
// native runtime.
type generator interface {
	Generate(start, end traj.Waypoint, n int, seed int64) ([]infer.Candidate, error)
	GenerateWithObstacles(start, end traj.Waypoint, obstacles []traj.Obstacle, n int, seed int64) ([]infer.Candidate, error)
}

func main() {
	flag.Parse()
	log.Printf("traj-generate %s", version.String())

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	start, err := parseWaypoint(*startArg)
	if err != nil {
		log.Fatalf("bad -start: %v", err)
	}
	end, err := parseWaypoint(*endArg)
	if err != nil {
		log.Fatalf("bad -end: %v", err)
	}
	obstacles, err := parseObstacles(*obstArg)
	if err != nil {
		log.Fatalf("bad -obstacles: %v", err)
	}

	var gen generator
	if *onnxModel != "" {
		if *normPath == "" {
			log.Fatalf("-onnx requires -norm")
		}
		rt, err := onnx.New(*onnxModel, *normPath, cfg)
		if err != nil {
			log.Fatalf("failed to load native runtime: %v", err)
		}
		defer rt.Close()
		gen = rt
		log.Printf("using native runtime %s", *onnxModel)
	} else {
		ck, err := cvae.LoadCheckpoint(*checkpoint)
		if err != nil {
			log.Fatalf("failed to load checkpoint: %v", err)
		}
		eng, err := infer.FromCheckpoint(ck, cfg)
		if err != nil {
			log.Fatalf("failed to build engine: %v", err)
		}
		gen = eng
		log.Printf("using checkpoint %s (epoch %d, val %.6f)", *checkpoint, ck.Epoch, ck.ValLoss)
	}

	var cands []infer.Candidate
	if len(obstacles) > 0 {
		cands, err = gen.GenerateWithObstacles(start, end, obstacles, *nCand, *seed)
	} else {
		cands, err = gen.Generate(start, end, *nCand, *seed)
	}
	if err != nil {
		log.Fatalf("generation failed: %v", err)
	}

	for i, c := range cands {
		line := fmt.Sprintf("#%d quality %.4f length %.1f smoothness %.4f efficiency %.4f endpoint_err %.2f",
			i+1, c.QualityScore, c.Metrics.PathLength, c.Metrics.SmoothnessScore,
			c.Metrics.PathEfficiency, c.Metrics.EndpointError)
		if len(obstacles) > 0 {
			line += fmt.Sprintf(" safety %.2f clearance %.2f", c.SafetyScore, c.MinClearance)
		}
		log.Print(line)
	}
	summary := infer.Summarize(cands)
	log.Printf("set: diversity %.2f mean smoothness %.4f mean length %.1f",
		summary.Diversity, summary.MeanSmoothness, summary.MeanPathLength)

	if *outPath != "" {
		data, err := json.MarshalIndent(struct {
			Candidates []infer.Candidate `json:"candidates"`
			Summary    infer.SetSummary  `json:"summary"`
		}{cands, summary}, "", "  ")
		if err != nil {
			log.Fatalf("failed to encode candidates: %v", err)
		}
		if err := os.WriteFile(*outPath, data, 0o644); err != nil {
			log.Fatalf("failed to write %s: %v", *outPath, err)
		}
		log.Printf("wrote %s", *outPath)
	}

	if *plotDir != "" {
		trajs := make([]traj.Trajectory, len(cands))
		for i, c := range cands {
			trajs[i] = c.Trajectory
		}
		if err := report.TrajectoryPlots(trajs, obstacles, *plotDir); err != nil {
			log.Fatalf("failed to write plots: %v", err)
		}
		log.Printf("wrote plots to %s", *plotDir)
	}
}
