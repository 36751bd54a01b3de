package frameworks

import (
	"testing"

	"tunespace/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig() models.TrainingConfig {
	cfg := models.DefaultTrainingConfig()
	cfg.ModelName = "microsoft/DialoGPT-small"
	cfg.DatasetPath = "data/chat.jsonl"
	cfg.OutputDir = "models/microsoft_DialoGPT-small"
	return cfg
}

func flagValue(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func TestHuggingFaceSetup_TrainerArgs(t *testing.T) {
	h := &HuggingFaceSetup{}
	args, err := h.TrainerArgs(sampleConfig())
	require.NoError(t, err)

	v, ok := flagValue(args, "--model_name_or_path")
	require.True(t, ok)
	assert.Equal(t, "microsoft/DialoGPT-small", v)

	v, _ = flagValue(args, "--learning_rate")
	assert.Equal(t, "2e-05", v)
	v, _ = flagValue(args, "--per_device_train_batch_size")
	assert.Equal(t, "4", v)
	v, _ = flagValue(args, "--save_total_limit")
	assert.Equal(t, "2", v)

	assert.Contains(t, args, "--use_lora")
	v, _ = flagValue(args, "--lora_dropout")
	assert.Equal(t, "0.1", v)
}

func TestHuggingFaceSetup_WithoutLoRA(t *testing.T) {
	cfg := sampleConfig()
	cfg.UseLoRA = false

	args, err := (&HuggingFaceSetup{SaveTotalLimit: 5}).TrainerArgs(cfg)
	require.NoError(t, err)
	assert.NotContains(t, args, "--use_lora")
	assert.NotContains(t, args, "--lora_r")

	v, _ := flagValue(args, "--save_total_limit")
	assert.Equal(t, "5", v)
}

func TestHuggingFaceSetup_RequiresPaths(t *testing.T) {
	cfg := sampleConfig()
	cfg.DatasetPath = " "

	_, err := (&HuggingFaceSetup{}).TrainerArgs(cfg)
	assert.Error(t, err)
}

func TestPyTorchSetup_Wrap(t *testing.T) {
	cmd := []string{"python", "train.py"}

	assert.Equal(t, cmd, (&PyTorchSetup{}).Wrap(cmd))
	assert.Equal(t, cmd, (&PyTorchSetup{NProcPerNode: 1}).Wrap(cmd))

	wrapped := (&PyTorchSetup{NProcPerNode: 4}).Wrap(cmd)
	assert.Equal(t, []string{
		"python", "-m", "torch.distributed.run",
		"--nproc_per_node=4",
		"--nnodes=1",
		"--node_rank=0",
		"--master_addr=127.0.0.1",
		"--master_port=29500",
		"train.py",
	}, wrapped)
}

func TestEnvList_Sorted(t *testing.T) {
	env := Environment("job-1", sampleConfig())
	list := EnvList(env)

	assert.Len(t, list, len(env))
	assert.Contains(t, list, "TUNESPACE_JOB_ID=job-1")
	assert.IsIncreasing(t, list)
}

func TestHubSettings_Apply(t *testing.T) {
	env := HubSettings{Token: "hf_abc", CacheDir: "/cache"}.Apply(Environment("job-1", sampleConfig()))
	assert.Equal(t, "hf_abc", env["HF_TOKEN"])
	assert.Equal(t, "/cache", env["HF_HUB_CACHE"])

	env = HubSettings{}.Apply(map[string]string{})
	assert.Empty(t, env)
}
