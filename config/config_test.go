package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
	assert.Equal(t, BackendAWS, cfg.Backend)
	assert.Equal(t, RecordsDynamoDB, cfg.Records)
	assert.Equal(t, LedgerObject, cfg.Ledger)
	assert.Equal(t, 30*24*time.Hour, cfg.JobTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.FinishedTTL)
	assert.Equal(t, 10*time.Minute, cfg.ConsumerTTL)
	assert.Equal(t, 3, cfg.PageAttempts)
	assert.Zero(t, cfg.LedgerRetention)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foqus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: "9090"
ledger: redis
finished_ttl: 48h
bulk_concurrency: 4
`), 0o600))
	t.Setenv("FOQUS_SERVER_PORT", "7070")
	t.Setenv("FOQUS_BUCKET", "results")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.ServerPort)
	assert.Equal(t, "results", cfg.Bucket)
	assert.Equal(t, LedgerRedis, cfg.Ledger)
	assert.Equal(t, 48*time.Hour, cfg.FinishedTTL)
	assert.Equal(t, 4, cfg.BulkConcurrency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		env string
		val string
	}{
		"backend":     {"FOQUS_BACKEND", "mainframe"},
		"records":     {"FOQUS_RECORDS", "csv"},
		"ledger":      {"FOQUS_LEDGER", "paper"},
		"concurrency": {"FOQUS_BULK_CONCURRENCY", "0"},
		"attempts":    {"FOQUS_PAGE_ATTEMPTS", "0"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.env, tc.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
