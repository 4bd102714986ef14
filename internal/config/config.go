package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root configuration for the trajectory generator. The JSON
// schema is shared by the training and inference CLIs so the same file can
// reproduce a training run and drive generation from its checkpoints.
// Fields omitted from the JSON retain their defaults, so partial configs
// are safe.
type Config struct {
	// Model params
	LatentDim     *int `json:"latent_dim,omitempty"`
	HiddenDim     *int `json:"hidden_dim,omitempty"`
	NumLayers     *int `json:"num_layers,omitempty"`
	WaypointCount *int `json:"waypoint_count,omitempty"`

	// Loss weights
	Beta           *float64 `json:"beta,omitempty"`
	LambdaSmooth   *float64 `json:"lambda_smooth,omitempty"`
	LambdaBoundary *float64 `json:"lambda_boundary,omitempty"`

	// Training params
	Epochs            *int     `json:"epochs,omitempty"`
	BatchSize         *int     `json:"batch_size,omitempty"`
	LearningRate      *float64 `json:"learning_rate,omitempty"`
	WeightDecay       *float64 `json:"weight_decay,omitempty"`
	GradClipNorm      *float64 `json:"grad_clip_norm,omitempty"`
	Patience          *int     `json:"patience,omitempty"`
	SaveInterval      *int     `json:"save_interval,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
	TrainSplit        *float64 `json:"train_split,omitempty"`
	LRPlateauPatience *int     `json:"lr_plateau_patience,omitempty"`
	LRPlateauFactor   *float64 `json:"lr_plateau_factor,omitempty"`

	// Teacher forcing schedule: ratio(epoch) = max(initial * decay^epoch, min)
	TeacherForcingInitial *float64 `json:"teacher_forcing_initial,omitempty"`
	TeacherForcingDecay   *float64 `json:"teacher_forcing_decay,omitempty"`
	TeacherForcingMin     *float64 `json:"teacher_forcing_min,omitempty"`

	// Inference ranking weights
	ScoreSmoothnessWeight *float64 `json:"score_smoothness_weight,omitempty"`
	ScoreEfficiencyWeight *float64 `json:"score_efficiency_weight,omitempty"`
	ScoreLengthWeight     *float64 `json:"score_length_weight,omitempty"`
	InferenceWorkers      *int     `json:"inference_workers,omitempty"`
}

// Default returns a Config with all fields unset; the Get* accessors carry
// the defaults.
func Default() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints that would otherwise surface as
// corrupted geometry or shape mismatches deep inside the model.
func (c *Config) Validate() error {
	if c.LatentDim != nil && *c.LatentDim <= 0 {
		return fmt.Errorf("latent_dim must be positive, got %d", *c.LatentDim)
	}
	if c.HiddenDim != nil && *c.HiddenDim <= 0 {
		return fmt.Errorf("hidden_dim must be positive, got %d", *c.HiddenDim)
	}
	if c.NumLayers != nil && *c.NumLayers <= 0 {
		return fmt.Errorf("num_layers must be positive, got %d", *c.NumLayers)
	}
	if c.WaypointCount != nil && *c.WaypointCount < 2 {
		return fmt.Errorf("waypoint_count must be at least 2, got %d", *c.WaypointCount)
	}
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.LearningRate != nil && *c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", *c.LearningRate)
	}
	if c.TrainSplit != nil && (*c.TrainSplit <= 0 || *c.TrainSplit >= 1) {
		return fmt.Errorf("train_split must be in (0,1), got %g", *c.TrainSplit)
	}
	if c.TeacherForcingInitial != nil && (*c.TeacherForcingInitial < 0 || *c.TeacherForcingInitial > 1) {
		return fmt.Errorf("teacher_forcing_initial must be in [0,1], got %g", *c.TeacherForcingInitial)
	}
	if c.TeacherForcingDecay != nil && (*c.TeacherForcingDecay <= 0 || *c.TeacherForcingDecay > 1) {
		return fmt.Errorf("teacher_forcing_decay must be in (0,1], got %g", *c.TeacherForcingDecay)
	}
	return nil
}

func (c *Config) GetLatentDim() int {
	if c.LatentDim == nil {
		return 64
	}
	return *c.LatentDim
}

func (c *Config) GetHiddenDim() int {
	if c.HiddenDim == nil {
		return 256
	}
	return *c.HiddenDim
}

func (c *Config) GetNumLayers() int {
	if c.NumLayers == nil {
		return 2
	}
	return *c.NumLayers
}

func (c *Config) GetWaypointCount() int {
	if c.WaypointCount == nil {
		return 50
	}
	return *c.WaypointCount
}

func (c *Config) GetBeta() float64 {
	if c.Beta == nil {
		return 0.001
	}
	return *c.Beta
}

func (c *Config) GetLambdaSmooth() float64 {
	if c.LambdaSmooth == nil {
		return 0.1
	}
	return *c.LambdaSmooth
}

func (c *Config) GetLambdaBoundary() float64 {
	if c.LambdaBoundary == nil {
		return 1.0
	}
	return *c.LambdaBoundary
}

func (c *Config) GetEpochs() int {
	if c.Epochs == nil {
		return 100
	}
	return *c.Epochs
}

func (c *Config) GetBatchSize() int {
	if c.BatchSize == nil {
		return 64
	}
	return *c.BatchSize
}

func (c *Config) GetLearningRate() float64 {
	if c.LearningRate == nil {
		return 0.001
	}
	return *c.LearningRate
}

func (c *Config) GetWeightDecay() float64 {
	if c.WeightDecay == nil {
		return 1e-5
	}
	return *c.WeightDecay
}

func (c *Config) GetGradClipNorm() float64 {
	if c.GradClipNorm == nil {
		return 1.0
	}
	return *c.GradClipNorm
}

func (c *Config) GetPatience() int {
	if c.Patience == nil {
		return 15
	}
	return *c.Patience
}

func (c *Config) GetSaveInterval() int {
	if c.SaveInterval == nil {
		return 10
	}
	return *c.SaveInterval
}

func (c *Config) GetSeed() int64 {
	if c.Seed == nil {
		return 42
	}
	return *c.Seed
}

func (c *Config) GetTrainSplit() float64 {
	if c.TrainSplit == nil {
		return 0.8
	}
	return *c.TrainSplit
}

func (c *Config) GetLRPlateauPatience() int {
	if c.LRPlateauPatience == nil {
		return 5
	}
	return *c.LRPlateauPatience
}

func (c *Config) GetLRPlateauFactor() float64 {
	if c.LRPlateauFactor == nil {
		return 0.5
	}
	return *c.LRPlateauFactor
}

func (c *Config) GetTeacherForcingInitial() float64 {
	if c.TeacherForcingInitial == nil {
		return 0.5
	}
	return *c.TeacherForcingInitial
}

func (c *Config) GetTeacherForcingDecay() float64 {
	if c.TeacherForcingDecay == nil {
		return 0.99
	}
	return *c.TeacherForcingDecay
}

func (c *Config) GetTeacherForcingMin() float64 {
	if c.TeacherForcingMin == nil {
		return 0.1
	}
	return *c.TeacherForcingMin
}

func (c *Config) GetScoreSmoothnessWeight() float64 {
	if c.ScoreSmoothnessWeight == nil {
		return 0.5
	}
	return *c.ScoreSmoothnessWeight
}

func (c *Config) GetScoreEfficiencyWeight() float64 {
	if c.ScoreEfficiencyWeight == nil {
		return 0.3
	}
	return *c.ScoreEfficiencyWeight
}

func (c *Config) GetScoreLengthWeight() float64 {
	if c.ScoreLengthWeight == nil {
		return 0.2
	}
	return *c.ScoreLengthWeight
}

func (c *Config) GetInferenceWorkers() int {
	if c.InferenceWorkers == nil {
		return 4
	}
	return *c.InferenceWorkers
}
