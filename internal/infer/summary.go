package infer

import (
	"gonum.org/v1/gonum/stat"

	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// SetSummary aggregates the metric distribution of one candidate set,
// used by evaluation reports to compare generation runs.
type SetSummary struct {
	Count             int     `json:"count"`
	MeanPathLength    float64 `json:"mean_path_length"`
	StdPathLength     float64 `json:"std_path_length"`
	MeanSmoothness    float64 `json:"mean_smoothness_score"`
	StdSmoothness     float64 `json:"std_smoothness_score"`
	MeanEfficiency    float64 `json:"mean_path_efficiency"`
	StdEfficiency     float64 `json:"std_path_efficiency"`
	MeanEndpointError float64 `json:"mean_endpoint_error"`
	Diversity         float64 `json:"diversity"`
}

// Summarize computes the distribution summary of a candidate set.
func Summarize(cands []Candidate) SetSummary {
	s := SetSummary{Count: len(cands)}
	if len(cands) == 0 {
		return s
	}

	lengths := make([]float64, len(cands))
	smooth := make([]float64, len(cands))
	eff := make([]float64, len(cands))
	epErr := make([]float64, len(cands))
	trajs := make([]traj.Trajectory, len(cands))
	for i, c := range cands {
		lengths[i] = c.Metrics.PathLength
		smooth[i] = c.Metrics.SmoothnessScore
		eff[i] = c.Metrics.PathEfficiency
		epErr[i] = c.Metrics.EndpointError
		trajs[i] = c.Trajectory
	}

	s.MeanPathLength, s.StdPathLength = meanStd(lengths)
	s.MeanSmoothness, s.StdSmoothness = meanStd(smooth)
	s.MeanEfficiency, s.StdEfficiency = meanStd(eff)
	s.MeanEndpointError, _ = meanStd(epErr)
	s.Diversity = traj.Diversity(trajs)
	return s
}

// meanStd is stat.MeanStdDev with the single-sample case pinned to zero
// deviation instead of NaN.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
