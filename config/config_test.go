package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const validConfig = `
account:
  endpoint: https://example.mixedreality.azure.com
  account_id: 11111111-2222-3333-4444-555555555555
  account_key: secret
  watch_interval: 2s
session:
  readiness_interval: 150ms
  default_expiration: 48h
  locate_filter: "!placeholder"
logging:
  level: debug
  format: text
telemetry:
  enabled: true
  provider: prometheus
  listen: ":9090"
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	require.Equal(t, "https://example.mixedreality.azure.com", cfg.Account.Endpoint)
	require.Equal(t, "secret", cfg.Account.AccountKey)
	require.Equal(t, 2*time.Second, cfg.Account.WatchInterval.Duration)
	require.Equal(t, 150*time.Millisecond, cfg.ReadinessInterval())
	require.Equal(t, 48*time.Hour, cfg.DefaultExpiration())
	require.Equal(t, "!placeholder", cfg.Session.LocateFilter)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Telemetry.Enabled)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
account:
  endpoint: https://example.mixedreality.azure.com
  account_id: acc
`))
	require.NoError(t, err)
	require.Equal(t, 300*time.Millisecond, cfg.ReadinessInterval())
	require.Equal(t, 24*time.Hour, cfg.DefaultExpiration())
}

func TestParseRejectsMissingAccountFields(t *testing.T) {
	_, err := Parse([]byte(`
account:
  endpoint: https://example.mixedreality.azure.com
`))
	require.Error(t, err)

	_, err = Parse([]byte(`session: {}`))
	require.Error(t, err)
}

func TestSchemaRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad log level": `
account:
  endpoint: https://example.test
  account_id: acc
logging:
  level: verbose
`,
		"bad duration": `
account:
  endpoint: https://example.test
  account_id: acc
session:
  readiness_interval: soon
`,
		"wrong type": `
account:
  endpoint: 42
  account_id: acc
`,
	}
	for name, document := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(document))
			require.Error(t, err)
		})
	}
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "11111111-2222-3333-4444-555555555555", cfg.Account.AccountID)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	var wrapper struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1h30m"), &wrapper))
	require.Equal(t, 90*time.Minute, wrapper.D.Duration)

	rendered, err := wrapper.D.MarshalYAML()
	require.NoError(t, err)
	require.Equal(t, "1h30m0s", rendered)
}
