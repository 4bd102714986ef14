// Package infer turns a trained model into a ranked-candidate generation
// service: it samples the latent prior, decodes candidates concurrently,
// scores them with the shared quality metrics and returns them best-first.
package infer

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/skyhaven-systems/trajgen/internal/config"
	"github.com/skyhaven-systems/trajgen/internal/cvae"
	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// ScoreWeights combine the quality-metric components into one ranking
// value. They should sum to 1 but are not forced to.
type ScoreWeights struct {
	Smoothness float64
	Efficiency float64
	Length     float64
}

// Candidate is one generated trajectory with its scores. SafetyScore and
// MinClearance are populated only by GenerateWithObstacles.
type Candidate struct {
	Trajectory   traj.Trajectory
	Metrics      traj.QualityMetrics
	QualityScore float64
	SafetyScore  float64
	MinClearance float64
}

// Engine generates and ranks trajectory candidates. The model weights and
// normalization are read-only after construction, so one Engine may serve
// concurrent Generate calls.
type Engine struct {
	model   *cvae.Model
	norm    traj.NormParams
	weights ScoreWeights
	workers int
}

// New builds an engine over a trained model. cfg supplies the ranking
// weights and worker-pool size.
func New(model *cvae.Model, norm traj.NormParams, cfg *config.Config) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("engine requires a model")
	}
	if err := norm.Validate(); err != nil {
		return nil, fmt.Errorf("engine normalization: %w", err)
	}
	workers := cfg.GetInferenceWorkers()
	if workers <= 0 {
		return nil, fmt.Errorf("inference workers must be positive, got %d", workers)
	}
	return &Engine{
		model: model,
		norm:  norm,
		weights: ScoreWeights{
			Smoothness: cfg.GetScoreSmoothnessWeight(),
			Efficiency: cfg.GetScoreEfficiencyWeight(),
			Length:     cfg.GetScoreLengthWeight(),
		},
		workers: workers,
	}, nil
}

// FromCheckpoint restores the model and normalization from a checkpoint
// bundle and builds an engine over them.
func FromCheckpoint(ck *cvae.Checkpoint, cfg *config.Config) (*Engine, error) {
	model, err := ck.Restore()
	if err != nil {
		return nil, fmt.Errorf("failed to restore model: %w", err)
	}
	return New(model, ck.Normalization, cfg)
}

func validateRequest(start, end traj.Waypoint, n int) error {
	if !start.IsFinite() {
		return fmt.Errorf("start waypoint has non-finite coordinates")
	}
	if !end.IsFinite() {
		return fmt.Errorf("end waypoint has non-finite coordinates")
	}
	if n <= 0 {
		return fmt.Errorf("candidate count must be positive, got %d", n)
	}
	return nil
}

func validateObstacles(obstacles []traj.Obstacle) error {
	for i, o := range obstacles {
		if !o.Center.IsFinite() {
			return fmt.Errorf("obstacle %d has non-finite center", i)
		}
		if o.Radius <= 0 {
			return fmt.Errorf("obstacle %d has non-positive radius %g", i, o.Radius)
		}
	}
	return nil
}

// decodeCandidates draws n independent prior samples and decodes each on
// the worker pool. All randomness is consumed up front in index order, so
// the result is a pure function of the seed regardless of scheduling.
func (e *Engine) decodeCandidates(start, end traj.Waypoint, n int, seed int64) []traj.Trajectory {
	rng := rand.New(rand.NewSource(seed))
	zs := make([]*mat.Dense, n)
	for i := range zs {
		zs[i] = e.model.SamplePrior(1, rng)
	}

	sn := e.norm.Normalize(start)
	en := e.norm.Normalize(end)
	startT := cvae.WaypointsToDense([]traj.Waypoint{sn})
	endT := cvae.WaypointsToDense([]traj.Waypoint{en})

	out := make([]traj.Trajectory, n)
	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				seq := e.model.DecodeLatent(zs[i], startT, endT)
				out[i] = e.norm.DenormalizeTrajectory(cvae.TrajectoriesFromSeq(seq)[0])
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// scoreCandidates computes metrics and the composite quality score:
// weighted smoothness plus efficiency plus the candidate's path length
// normalized by the set maximum, inverted so shorter paths score higher.
func scoreCandidates(trajs []traj.Trajectory, end traj.Waypoint, w ScoreWeights) []Candidate {
	cands := make([]Candidate, len(trajs))
	maxLen := 0.0
	for i, t := range trajs {
		cands[i] = Candidate{Trajectory: t, Metrics: traj.Evaluate(t, end)}
		if cands[i].Metrics.PathLength > maxLen {
			maxLen = cands[i].Metrics.PathLength
		}
	}
	for i := range cands {
		lengthTerm := 0.0
		if maxLen > 0 {
			lengthTerm = 1 - cands[i].Metrics.PathLength/maxLen
		}
		cands[i].QualityScore = w.Smoothness*cands[i].Metrics.SmoothnessScore +
			w.Efficiency*cands[i].Metrics.PathEfficiency +
			w.Length*lengthTerm
	}
	return cands
}

// RankByQuality scores pre-generated candidates against the declared end
// waypoint and sorts them best-first by quality score. Ties keep input
// order. Shared by every inference runtime so rankings stay comparable.
func RankByQuality(trajs []traj.Trajectory, end traj.Waypoint, w ScoreWeights) []Candidate {
	cands := scoreCandidates(trajs, end, w)
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].QualityScore > cands[j].QualityScore
	})
	return cands
}

// RankBySafety scores candidates and sorts them primarily by safety
// score, secondarily by quality score. Ties keep input order.
func RankBySafety(trajs []traj.Trajectory, end traj.Waypoint, obstacles []traj.Obstacle, w ScoreWeights) []Candidate {
	cands := scoreCandidates(trajs, end, w)
	for i := range cands {
		cands[i].SafetyScore = traj.SafetyScore(cands[i].Trajectory, obstacles)
		cands[i].MinClearance = traj.MinClearance(cands[i].Trajectory, obstacles)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].SafetyScore != cands[j].SafetyScore {
			return cands[i].SafetyScore > cands[j].SafetyScore
		}
		return cands[i].QualityScore > cands[j].QualityScore
	})
	return cands
}

// Generate produces n candidates for the start/end pair and returns them
// sorted best-first by quality score. Ties keep generation order.
func (e *Engine) Generate(start, end traj.Waypoint, n int, seed int64) ([]Candidate, error) {
	if err := validateRequest(start, end, n); err != nil {
		return nil, err
	}
	return RankByQuality(e.decodeCandidates(start, end, n, seed), end, e.weights), nil
}

// GenerateWithObstacles produces n candidates and ranks them primarily by
// safety score (minimum obstacle clearance, collision penetration summed
// negatively), secondarily by quality score. Colliding candidates are
// down-ranked, never rejected; callers needing hard guarantees must
// post-filter on MinClearance.
func (e *Engine) GenerateWithObstacles(start, end traj.Waypoint, obstacles []traj.Obstacle, n int, seed int64) ([]Candidate, error) {
	if err := validateRequest(start, end, n); err != nil {
		return nil, err
	}
	if err := validateObstacles(obstacles); err != nil {
		return nil, err
	}

	return RankBySafety(e.decodeCandidates(start, end, n, seed), end, obstacles, e.weights), nil
}
