package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"database": {"host": "localhost"},
		"ai": {"provider": "openai", "embed_model": "text-embedding-3-small"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, "none", cfg.Notifier.Type)
	require.Equal(t, 4, cfg.Pipeline.Workers)
	require.Equal(t, 256, cfg.Pipeline.QueueLimit)
	require.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	require.Equal(t, int64(2000), cfg.Pipeline.BaseBackoffMillis)
	require.Equal(t, int64(32), cfg.Server.MaxUploadMB)
	require.Equal(t, "*/5 * * * *", cfg.Schedule.ReconcileSpec)
	require.Equal(t, "0 4 * * *", cfg.Schedule.JobPurgeSpec)
	require.Equal(t, 120, cfg.AI.Timeout, "adapter calls must get a deadline by default")
}

func TestLoadAdapterTimeoutFlowsIntoAI(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"database": {"host": "localhost"},
		"ai": {"provider": "openai", "embed_model": "m"},
		"pipeline": {"adapter_timeout_seconds": 30}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.AI.Timeout)
}

func TestLoadExplicitAITimeoutWins(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"database": {"host": "localhost"},
		"ai": {"provider": "openai", "embed_model": "m", "timeout": 15},
		"pipeline": {"adapter_timeout_seconds": 30}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 15, cfg.AI.Timeout)
}

func TestLoadRejectsMissingPort(t *testing.T) {
	path := writeConfig(t, `{
		"database": {"host": "localhost"},
		"ai": {"provider": "openai", "embed_model": "m"}
	}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"ai": {"provider": "openai", "embed_model": "m"}
	}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingEmbedModel(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"database": {"host": "localhost"},
		"ai": {"provider": "openai"}
	}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"port": 9000,
		"database": {"dsn": "postgres://u:p@h/db"},
		"ai": {"provider": "gemini", "embed_model": "gemini-embedding-001"},
		"pipeline": {"workers": 8, "queue_limit": 16, "max_attempts": 2},
		"server": {"max_upload_mb": 64}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Pipeline.Workers)
	require.Equal(t, 16, cfg.Pipeline.QueueLimit)
	require.Equal(t, 2, cfg.Pipeline.MaxAttempts)
	require.Equal(t, int64(64), cfg.Server.MaxUploadMB)
}
