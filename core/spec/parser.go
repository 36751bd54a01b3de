package spec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"tunespace/core/models"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a training request fails validation
var ErrInvalidConfig = errors.New("invalid training config")

// TrainingSpec represents a training request document. Hyperparameters are
// optional; omitted ones take the service defaults.
type TrainingSpec struct {
	ModelName          string   `json:"model_name" yaml:"model_name"`
	DatasetPath        string   `json:"dataset_path" yaml:"dataset_path"`
	OutputDir          string   `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	LearningRate       *float64 `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
	BatchSize          *int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	NumEpochs          *int     `json:"num_epochs,omitempty" yaml:"num_epochs,omitempty"`
	MaxLength          *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	WarmupSteps        *int     `json:"warmup_steps,omitempty" yaml:"warmup_steps,omitempty"`
	LoggingSteps       *int     `json:"logging_steps,omitempty" yaml:"logging_steps,omitempty"`
	SaveSteps          *int     `json:"save_steps,omitempty" yaml:"save_steps,omitempty"`
	EvaluationStrategy *string  `json:"evaluation_strategy,omitempty" yaml:"evaluation_strategy,omitempty"`
	EvalSteps          *int     `json:"eval_steps,omitempty" yaml:"eval_steps,omitempty"`
	UseLoRA            *bool    `json:"use_lora,omitempty" yaml:"use_lora,omitempty"`
	LoRAR              *int     `json:"lora_r,omitempty" yaml:"lora_r,omitempty"`
	LoRAAlpha          *int     `json:"lora_alpha,omitempty" yaml:"lora_alpha,omitempty"`
	LoRADropout        *float64 `json:"lora_dropout,omitempty" yaml:"lora_dropout,omitempty"`
}

// ParseTrainingSpec parses a YAML (or JSON) training request
func ParseTrainingSpec(data []byte) (*TrainingSpec, error) {
	var spec TrainingSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}
	return &spec, nil
}

// ToConfig applies defaults and validates the request. An empty output_dir
// becomes <defaultOutputDir>/<model name>.
func (s *TrainingSpec) ToConfig(defaultOutputDir string) (models.TrainingConfig, error) {
	cfg := models.DefaultTrainingConfig()
	cfg.ModelName = strings.TrimSpace(s.ModelName)
	cfg.DatasetPath = strings.TrimSpace(s.DatasetPath)
	cfg.OutputDir = strings.TrimSpace(s.OutputDir)

	setFloat(&cfg.LearningRate, s.LearningRate)
	setInt(&cfg.BatchSize, s.BatchSize)
	setInt(&cfg.NumEpochs, s.NumEpochs)
	setInt(&cfg.MaxLength, s.MaxLength)
	setInt(&cfg.WarmupSteps, s.WarmupSteps)
	setInt(&cfg.LoggingSteps, s.LoggingSteps)
	setInt(&cfg.SaveSteps, s.SaveSteps)
	setInt(&cfg.EvalSteps, s.EvalSteps)
	setInt(&cfg.LoRAR, s.LoRAR)
	setInt(&cfg.LoRAAlpha, s.LoRAAlpha)
	setFloat(&cfg.LoRADropout, s.LoRADropout)
	if s.EvaluationStrategy != nil {
		cfg.EvaluationStrategy = strings.TrimSpace(*s.EvaluationStrategy)
	}
	if s.UseLoRA != nil {
		cfg.UseLoRA = *s.UseLoRA
	}

	if cfg.OutputDir == "" && cfg.ModelName != "" {
		cfg.OutputDir = DefaultOutputDir(defaultOutputDir, cfg.ModelName)
	}

	if err := Validate(cfg); err != nil {
		return models.TrainingConfig{}, err
	}
	return cfg, nil
}

// Validate checks a complete training config
func Validate(cfg models.TrainingConfig) error {
	var problems []string
	if cfg.ModelName == "" {
		problems = append(problems, "model_name is required")
	}
	if cfg.DatasetPath == "" {
		problems = append(problems, "dataset_path is required")
	}
	if cfg.OutputDir == "" {
		problems = append(problems, "output_dir is required")
	}
	if cfg.LearningRate <= 0 {
		problems = append(problems, "learning_rate must be positive")
	}
	if cfg.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if cfg.NumEpochs <= 0 {
		problems = append(problems, "num_epochs must be positive")
	}
	if cfg.MaxLength <= 0 {
		problems = append(problems, "max_length must be positive")
	}
	if cfg.WarmupSteps < 0 {
		problems = append(problems, "warmup_steps must not be negative")
	}
	if cfg.LoggingSteps <= 0 {
		problems = append(problems, "logging_steps must be positive")
	}
	if cfg.SaveSteps <= 0 {
		problems = append(problems, "save_steps must be positive")
	}

	switch cfg.EvaluationStrategy {
	case "no", "epoch":
	case "steps":
		if cfg.EvalSteps <= 0 {
			problems = append(problems, "eval_steps must be positive when evaluation_strategy is steps")
		}
	default:
		problems = append(problems, fmt.Sprintf("evaluation_strategy %q must be one of no, steps, epoch", cfg.EvaluationStrategy))
	}

	if cfg.UseLoRA {
		if cfg.LoRAR <= 0 {
			problems = append(problems, "lora_r must be positive")
		}
		if cfg.LoRAAlpha <= 0 {
			problems = append(problems, "lora_alpha must be positive")
		}
		if cfg.LoRADropout < 0 || cfg.LoRADropout >= 1 {
			problems = append(problems, "lora_dropout must be in [0, 1)")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// DefaultOutputDir returns the output directory used when a request omits one
func DefaultOutputDir(base, modelName string) string {
	if base == "" {
		base = "./models"
	}
	return filepath.Join(base, sanitizeModelName(modelName))
}

// sanitizeModelName turns a hub id like "org/model" into a single path segment
func sanitizeModelName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "model"
	}
	return out
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
