package server

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/settle"
)

// Config represents the complete server configuration
type Config struct {
	Server     ServerSettings
	Settlement SettlementSettings
	Rounds     RoundSettings
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address        string   `hcl:"address,optional"`
	Port           int      `hcl:"port,optional"`
	LogLevel       string   `hcl:"log_level,optional"`
	Database       string   `hcl:"database,optional"`
	AllowedOrigins []string `hcl:"allowed_origins,optional"`
	Seed           int64    `hcl:"seed,optional"`
	AdminToken     string   `hcl:"admin_token,optional"`
}

// SettlementSettings controls how completed rounds are settled
type SettlementSettings struct {
	Strategy string `hcl:"strategy,optional"`
}

// RoundSettings bounds the size of new rounds
type RoundSettings struct {
	MinPlayers int `hcl:"min_players,optional"`
	MaxPlayers int `hcl:"max_players,optional"`
}

// fileConfig mirrors Config with every block optional.
type fileConfig struct {
	Server     *ServerSettings     `hcl:"server,block"`
	Settlement *SettlementSettings `hcl:"settlement,block"`
	Rounds     *RoundSettings      `hcl:"rounds,block"`
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSettings{
			Address:        "localhost",
			Port:           8080,
			LogLevel:       "info",
			Database:       "pokersplit.db",
			AllowedOrigins: []string{"*"},
		},
		Settlement: SettlementSettings{
			Strategy: string(settle.StrategyGreedy),
		},
		Rounds: RoundSettings{
			MinPlayers: round.DefaultMinPlayers,
			MaxPlayers: round.DefaultMaxPlayers,
		},
	}
}

// LoadConfig loads configuration from an HCL file. A missing file yields
// the defaults.
func LoadConfig(filename string) (*Config, error) {
	src, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(src, filename)
}

// ParseConfig decodes HCL source, filling anything unset from DefaultConfig.
func ParseConfig(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var raw fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", formatDiagnostics(diags))
	}

	config := DefaultConfig()
	if s := raw.Server; s != nil {
		if s.Address != "" {
			config.Server.Address = s.Address
		}
		if s.Port != 0 {
			config.Server.Port = s.Port
		}
		if s.LogLevel != "" {
			config.Server.LogLevel = s.LogLevel
		}
		if s.Database != "" {
			config.Server.Database = s.Database
		}
		if len(s.AllowedOrigins) > 0 {
			config.Server.AllowedOrigins = s.AllowedOrigins
		}
		config.Server.Seed = s.Seed
		config.Server.AdminToken = s.AdminToken
	}
	if raw.Settlement != nil && raw.Settlement.Strategy != "" {
		config.Settlement.Strategy = raw.Settlement.Strategy
	}
	if rs := raw.Rounds; rs != nil {
		if rs.MinPlayers != 0 {
			config.Rounds.MinPlayers = rs.MinPlayers
		}
		if rs.MaxPlayers != 0 {
			config.Rounds.MaxPlayers = rs.MaxPlayers
		}
	}

	return config, nil
}

func formatDiagnostics(diags hcl.Diagnostics) string {
	if len(diags) == 1 {
		return diags[0].Error()
	}
	return diags.Error()
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.Database == "" {
		return fmt.Errorf("database path must be set")
	}

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	if _, err := settle.ParseStrategy(c.Settlement.Strategy); err != nil {
		return err
	}

	if c.Rounds.MinPlayers < 2 {
		return fmt.Errorf("rounds: min players must be at least 2, got %d", c.Rounds.MinPlayers)
	}
	if c.Rounds.MaxPlayers < c.Rounds.MinPlayers {
		return fmt.Errorf("rounds: max players (%d) must not be below min players (%d)", c.Rounds.MaxPlayers, c.Rounds.MinPlayers)
	}

	return nil
}

// StrategyValue returns the parsed settlement strategy. Call Validate first.
func (c *Config) StrategyValue() settle.Strategy {
	strategy, err := settle.ParseStrategy(c.Settlement.Strategy)
	if err != nil {
		return settle.StrategyGreedy
	}
	return strategy
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
