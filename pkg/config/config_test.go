package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptimizerConfig struct {
	Interval        time.Duration `envconfig:"INTERVAL" default:"24h"`
	MinObservations uint64        `envconfig:"MIN_OBSERVATIONS" default:"10"`
}

func TestLoadFileFlattensYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cfgtest:\n  interval: 1h\n  min-observations: 3\n"), 0o600))

	t.Setenv("CFGTEST_INTERVAL", "")
	require.NoError(t, os.Unsetenv("CFGTEST_INTERVAL"))
	t.Setenv("CFGTEST_MIN_OBSERVATIONS", "7")

	require.NoError(t, loadFile(path))
	t.Cleanup(func() { _ = os.Unsetenv("CFGTEST_INTERVAL") })

	var conf testOptimizerConfig
	require.NoError(t, envconfig.Process("CFGTEST", &conf))
	assert.Equal(t, time.Hour, conf.Interval)
	assert.Equal(t, uint64(7), conf.MinObservations, "environment wins over the file")
}

func TestLoadFileWithoutPathIsNoop(t *testing.T) {
	assert.NoError(t, loadFile(""))
}

func TestLoadFileReportsMissingFile(t *testing.T) {
	err := loadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "missing.yaml")
}

func TestConfigFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	t.Setenv(FileEnv, path)
	assert.Equal(t, path, configFile())
}

func TestReadFileDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.env")
	require.NoError(t, os.WriteFile(path, []byte("OPTIMIZER_INTERVAL=2h\n"), 0o600))

	vars, err := readFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2h", vars["OPTIMIZER_INTERVAL"])
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "COORDINATOR_MIN_OBSERVATIONS", envName("coordinator.min-observations"))
}
