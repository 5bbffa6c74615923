package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokersplit/internal/settle"
)

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
	assert.NoError(t, config.Validate())
	assert.Equal(t, "localhost:8080", config.GetServerAddress())
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	src := `
server {
  address         = "0.0.0.0"
  port            = 9090
  log_level       = "debug"
  database        = "/var/lib/pokersplit/rounds.db"
  allowed_origins = ["https://pokersplit.example"]
  seed            = 7
  admin_token     = "s3cret"
}

settlement {
  strategy = "optimal"
}

rounds {
  max_players = 12
}
`
	config, err := ParseConfig([]byte(src), "pokersplit.hcl")
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "0.0.0.0:9090", config.GetServerAddress())
	assert.Equal(t, "debug", config.Server.LogLevel)
	assert.Equal(t, "/var/lib/pokersplit/rounds.db", config.Server.Database)
	assert.Equal(t, []string{"https://pokersplit.example"}, config.Server.AllowedOrigins)
	assert.Equal(t, int64(7), config.Server.Seed)
	assert.Equal(t, "s3cret", config.Server.AdminToken)
	assert.Equal(t, settle.StrategyOptimal, config.StrategyValue())
	assert.Equal(t, 2, config.Rounds.MinPlayers, "unset values keep defaults")
	assert.Equal(t, 12, config.Rounds.MaxPlayers)
}

func TestParseConfigPartial(t *testing.T) {
	t.Parallel()

	config, err := ParseConfig([]byte(`settlement { strategy = "greedy" }`), "partial.hcl")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, settle.StrategyGreedy, config.StrategyValue())
}

func TestParseConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseConfig([]byte(`server { port = `), "broken.hcl")
	assert.ErrorContains(t, err, "failed to parse HCL file")

	_, err = ParseConfig([]byte(`server { colour = "red" }`), "unknown.hcl")
	assert.ErrorContains(t, err, "failed to decode HCL")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"no database", func(c *Config) { c.Server.Database = "" }, "database path"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }, "invalid log level"},
		{"bad strategy", func(c *Config) { c.Settlement.Strategy = "fastest" }, "unknown strategy"},
		{"min too small", func(c *Config) { c.Rounds.MinPlayers = 1 }, "min players"},
		{"max below min", func(c *Config) { c.Rounds.MinPlayers, c.Rounds.MaxPlayers = 4, 3 }, "max players"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.ErrorContains(t, config.Validate(), tt.errMsg)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pokersplit.hcl")
	require.NoError(t, os.WriteFile(path, []byte("server {\n  port = 8181\n}\n"), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, config.Server.Port)
}
