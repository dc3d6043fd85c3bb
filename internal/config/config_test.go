package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PopulatesEnvTagDefaults(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "snowgate-01", cfg.DeviceID)
	assert.Equal(t, "mysql", cfg.Warehouse.DriverName)
	assert.Equal(t, 2, cfg.Pool.MinSize)
	assert.Equal(t, 20, cfg.Pool.MaxSize)
	assert.Equal(t, 8765, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Security.ReadonlyMode)
	assert.Equal(t, 5, cfg.Security.MaxAuthAttemptsMin)
	assert.Equal(t, int64(10000), cfg.Quotas.PerClient.RequestsPerHour)
}

func TestDefault_FailsValidationWithoutDSN(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	err = cfg.Validate()
	assert.Error(t, err, "a DSN-less config must fail Validate")
}

func TestValidate_RejectsInvertedPoolBounds(t *testing.T) {
	cfg := &Config{Warehouse: Warehouse{DSN: "user:pass@tcp(localhost:3306)/db"}}
	cfg.Pool.MinSize = 10
	cfg.Pool.MaxSize = 5

	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_AcceptsSaneConfig(t *testing.T) {
	cfg := &Config{Warehouse: Warehouse{DSN: "user:pass@tcp(localhost:3306)/db"}}
	cfg.Pool.MinSize = 2
	cfg.Pool.MaxSize = 20

	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysYAMLBeforeEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "deviceId: from-yaml\nwarehouse:\n  dsn: \"user:pass@tcp(localhost:3306)/db\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/db", cfg.Warehouse.DSN)
}

func TestLoad_ErrorsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
