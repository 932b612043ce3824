package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
chain_id: test-1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test-1", cfg.ChainID)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "tcp://127.0.0.1:26658", cfg.ABCI.ListenAddress)
	require.Equal(t, int64(100), cfg.ABCI.RetainBlocks)
	require.Equal(t, "goleveldb", cfg.Store.Backend)
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("PENUMBRA_TEST_DSN", "postgres://localhost/test")
	path := writeConfig(t, `
chain_id: test-1
index:
  enabled: true
  dsn: ${PENUMBRA_TEST_DSN}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/test", cfg.Index.DSN)
}

func TestLoadSubstitutesDefaultWhenEnvUnset(t *testing.T) {
	path := writeConfig(t, `
chain_id: test-1
logging:
  level: ${PENUMBRA_UNSET_LOG_LEVEL:-debug}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRequiresChainID(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresDSNWhenIndexEnabled(t *testing.T) {
	cfg := &Config{ChainID: "test-1", Index: IndexSettings{Enabled: true}}
	require.Error(t, cfg.Validate())
}

func TestDurationParsesFromYAML(t *testing.T) {
	path := writeConfig(t, `
chain_id: test-1
abci:
  dial_timeout: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 250_000_000, int(cfg.ABCI.DialTimeout.Duration()))
}
