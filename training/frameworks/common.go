package frameworks

import (
	"fmt"
	"sort"
	"strings"

	"tunespace/core/models"
)

// validateConfig checks the fields every trainer launch needs
func validateConfig(cfg models.TrainingConfig) error {
	if strings.TrimSpace(cfg.ModelName) == "" {
		return fmt.Errorf("model name is required")
	}
	if strings.TrimSpace(cfg.DatasetPath) == "" {
		return fmt.Errorf("dataset path is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return fmt.Errorf("output dir is required")
	}
	return nil
}

// Environment returns the variables exported to every trainer process
func Environment(jobID string, cfg models.TrainingConfig) map[string]string {
	return map[string]string{
		"TUNESPACE_JOB_ID":                  jobID,
		"TUNESPACE_MODEL_NAME":              cfg.ModelName,
		"TUNESPACE_DATASET_PATH":            cfg.DatasetPath,
		"TUNESPACE_OUTPUT_DIR":              cfg.OutputDir,
		"TOKENIZERS_PARALLELISM":            "false",
		"HF_HUB_DISABLE_TELEMETRY":          "1",
		"TRANSFORMERS_NO_ADVISORY_WARNINGS": "1",
	}
}

// HubSettings gives trainers access to the Hugging Face Hub
type HubSettings struct {
	Token    string
	CacheDir string
}

// Apply adds the hub token and cache location to env, skipping empty values
func (h HubSettings) Apply(env map[string]string) map[string]string {
	if h.Token != "" {
		env["HF_TOKEN"] = h.Token
	}
	if h.CacheDir != "" {
		env["HF_HUB_CACHE"] = h.CacheDir
	}
	return env
}

// EnvList flattens env into KEY=VALUE pairs in a stable order
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
