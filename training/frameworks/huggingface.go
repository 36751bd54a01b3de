package frameworks

import (
	"strconv"

	"tunespace/core/models"
)

// HuggingFaceSetup builds the command line for a transformers Trainer script
type HuggingFaceSetup struct {
	// SaveTotalLimit caps the checkpoints the trainer keeps in output_dir
	SaveTotalLimit int
}

// TrainerArgs converts the training config into trainer script flags
func (h *HuggingFaceSetup) TrainerArgs(cfg models.TrainingConfig) ([]string, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	limit := h.SaveTotalLimit
	if limit <= 0 {
		limit = 2
	}

	args := []string{
		"--model_name_or_path", cfg.ModelName,
		"--train_file", cfg.DatasetPath,
		"--output_dir", cfg.OutputDir,
		"--num_train_epochs", strconv.Itoa(cfg.NumEpochs),
		"--per_device_train_batch_size", strconv.Itoa(cfg.BatchSize),
		"--learning_rate", formatFloat(cfg.LearningRate),
		"--max_length", strconv.Itoa(cfg.MaxLength),
		"--warmup_steps", strconv.Itoa(cfg.WarmupSteps),
		"--logging_steps", strconv.Itoa(cfg.LoggingSteps),
		"--save_steps", strconv.Itoa(cfg.SaveSteps),
		"--evaluation_strategy", cfg.EvaluationStrategy,
		"--eval_steps", strconv.Itoa(cfg.EvalSteps),
		"--save_total_limit", strconv.Itoa(limit),
	}

	if cfg.UseLoRA {
		args = append(args,
			"--use_lora",
			"--lora_r", strconv.Itoa(cfg.LoRAR),
			"--lora_alpha", strconv.Itoa(cfg.LoRAAlpha),
			"--lora_dropout", formatFloat(cfg.LoRADropout),
		)
	}

	return args, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
