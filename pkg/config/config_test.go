package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/exec"
	"github.com/mattsolo1/grove-kb/pkg/llm"
	"github.com/mattsolo1/grove-kb/pkg/orchestration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets key for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t, EnvLLMCommand, EnvLLMModel, EnvMaxParallel, EnvMockResponseFile)
	root := t.TempDir()

	fc, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, &FileConfig{}, fc)

	cfg, err := Build(root, fc, Options{})
	require.NoError(t, err)
	assert.Equal(t, ".knowledge", cfg.Layout.KnowledgeDir)
	assert.Equal(t, orchestration.DefaultMaxParallel, cfg.MaxParallel)
	assert.Equal(t, int64(orchestration.DefaultMaxFileBytes), cfg.MaxFileBytes)
	assert.True(t, cfg.Review.Enabled)
	assert.Equal(t, llm.DefaultRetryPolicy(), cfg.Retry)
	assert.IsType(t, &llm.CommandClient{}, cfg.Client)
	assert.Len(t, cfg.Handlers, 2)
}

func TestLoad_ParsesFile(t *testing.T) {
	clearEnv(t, EnvLLMCommand, EnvLLMModel, EnvMaxParallel, EnvMockResponseFile)
	root := t.TempDir()
	content := `knowledge_dir: docs/kb
include_extensions: [.go, .py]
exclude: ["*.lock"]
max_file_bytes: 1024
max_parallel: 2
dry_run_delay: 20ms
llm:
  command: my-llm
  model: small
retry:
  max_attempts: 5
review:
  enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0644))

	fc, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "docs/kb", fc.KnowledgeDir)
	assert.Equal(t, []string{".go", ".py"}, fc.IncludeExtensions)
	assert.Equal(t, 20*time.Millisecond, fc.DryRunDelay)
	assert.Equal(t, "my-llm", fc.LLM.Command)

	cfg, err := Build(root, fc, Options{MaxParallel: 7})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("docs", "kb"), cfg.Layout.KnowledgeDir)
	assert.Equal(t, []string{"*.lock"}, cfg.Layout.Exclude)
	assert.Equal(t, 7, cfg.MaxParallel, "flag wins over file")
	assert.Equal(t, int64(1024), cfg.MaxFileBytes)
	assert.Equal(t, 20*time.Millisecond, cfg.DryRunDelay)
	assert.False(t, cfg.Review.Enabled)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, llm.DefaultRetryPolicy().InitialBackoff, cfg.Retry.InitialBackoff, "unset retry fields keep defaults")
}

func TestLoad_InvalidYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("max_parallel: [oops"), 0644))

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_EnvOverridesAndDotEnv(t *testing.T) {
	clearEnv(t, EnvLLMCommand, EnvLLMModel, EnvMaxParallel, EnvMockResponseFile)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("max_parallel: 2\nllm:\n  model: file-model\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("KB_LLM_MODEL=dotenv-model\nKB_LLM_COMMAND=dotenv-llm\n"), 0644))
	t.Setenv(EnvLLMCommand, "env-llm")
	t.Setenv(EnvMaxParallel, "9")

	fc, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "env-llm", fc.LLM.Command, "existing environment wins over .env")
	assert.Equal(t, "dotenv-model", fc.LLM.Model)
	assert.Equal(t, 9, fc.MaxParallel)
}

func TestLoad_InvalidMaxParallelEnvIsIgnored(t *testing.T) {
	clearEnv(t, EnvMockResponseFile)
	t.Setenv(EnvMaxParallel, "many")
	t.Setenv(EnvLLMCommand, "my-llm")
	t.Setenv(EnvLLMModel, "env-model")
	root := t.TempDir()

	fc, err := Load(root)
	require.NoError(t, err)
	assert.Zero(t, fc.MaxParallel)
	// the other overrides still apply
	assert.Equal(t, "my-llm", fc.LLM.Command)
	assert.Equal(t, "env-model", fc.LLM.Model)
}

func TestLoad_IgnoreFileExtendsExclude(t *testing.T) {
	clearEnv(t, EnvLLMCommand, EnvLLMModel, EnvMaxParallel, EnvMockResponseFile)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("exclude:\n  - \"*.lock\"\n"), 0644))
	ignore := "# generated code\n\ngen/\n!keep.lock\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte(ignore), 0644))

	fc, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.lock", "gen/", "!keep.lock"}, fc.Exclude)

	cfg, err := Build(root, fc, Options{})
	require.NoError(t, err)
	h := cfg.Handlers[0]
	assert.False(t, h.ShouldIndex(filepath.Join(cfg.Root, "gen", "api.go")))
	assert.False(t, h.ShouldIndex(filepath.Join(cfg.Root, "yarn.lock")))
	assert.True(t, h.ShouldIndex(filepath.Join(cfg.Root, "keep.lock")))
	assert.False(t, h.ShouldIndexDir(filepath.Join(cfg.Root, "gen")))
}

func TestFileConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		fc      FileConfig
		wantErr string
	}{
		{"empty", FileConfig{}, ""},
		{"absolute knowledge dir", FileConfig{KnowledgeDir: "/tmp/kb"}, "knowledge_dir must be a relative path"},
		{"escaping imports dir", FileConfig{ImportsDir: "../shared"}, "imports_dir must be a relative path"},
		{"negative parallel", FileConfig{MaxParallel: -1}, "max_parallel must not be negative"},
		{"negative delay", FileConfig{DryRunDelay: -time.Second}, "dry_run_delay must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuild_MockResponseFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "mock.yml"), []byte("default: \"# scripted\"\n"), 0644))

	cfg, err := Build(root, &FileConfig{LLM: LLMConfig{MockResponseFile: "mock.yml"}}, Options{})
	require.NoError(t, err)
	mock, ok := cfg.Client.(*llm.MockClient)
	require.True(t, ok)
	resp, err := mock.Send(context.Background(), "anything", "tag")
	require.NoError(t, err)
	assert.Equal(t, "# scripted", resp.Text)
}

func TestBuild_CommandClientUsesRunner(t *testing.T) {
	root := t.TempDir()
	runner := &exec.MockCommandRunner{
		RunFunc: func(stdin, name string, args ...string) (string, error) {
			return "# doc", nil
		},
	}

	cfg, err := Build(root, &FileConfig{LLM: LLMConfig{Command: "llm", Model: "m1"}}, Options{Runner: runner})
	require.NoError(t, err)
	resp, err := cfg.Client.Send(context.Background(), "prompt", "tag")
	require.NoError(t, err)
	assert.Equal(t, "# doc", resp.Text)
	require.Len(t, runner.Commands, 1)
	assert.Contains(t, runner.Commands[0], "-m m1")
}
