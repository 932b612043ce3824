// Package config loads the node's chain configuration from a YAML file
// with environment variable substitution, grounded on the teacher's
// pkg/config/anchor_config.go (yaml.v3 + ${VAR_NAME} substitution + a
// Duration wrapper type + applyDefaults-style defaulting).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full configuration for a node binary.
type Config struct {
	ChainID string `yaml:"chain_id"`
	DataDir string `yaml:"data_dir"`

	ABCI    ABCISettings    `yaml:"abci"`
	Store   StoreSettings   `yaml:"store"`
	Index   IndexSettings   `yaml:"index"`
	Logging LoggingSettings `yaml:"logging"`
}

// ABCISettings holds ABCI server settings. cmd/pd runs the application
// in-process through a local client and does not read them.
type ABCISettings struct {
	ListenAddress string   `yaml:"listen_address"`
	Transport     string   `yaml:"transport"` // "socket" or "grpc"
	RetainBlocks  int64    `yaml:"retain_blocks"`
	DialTimeout   Duration `yaml:"dial_timeout"`
}

// StoreSettings configures the backing KV and substore layout.
type StoreSettings struct {
	// Backend selects the backing cometbft-db implementation
	// ("goleveldb", "memdb", "rocksdb"); memdb is intended for tests only.
	Backend string `yaml:"backend"`
	DBName  string `yaml:"db_name"`
}

// IndexSettings configures the optional Postgres event indexer.
type IndexSettings struct {
	Enabled      bool   `yaml:"enabled"`
	DSN          string `yaml:"dsn"`
	MaxConns     int    `yaml:"max_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// LoggingSettings configures the node's logger.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML unmarshaling as a Go duration
// string ("5s", "200ms"), rather than a bare integer of nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads a YAML config file from path, substituting ${VAR_NAME} and
// ${VAR_NAME:-default} references against the process environment before
// parsing, then applies defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.ABCI.ListenAddress == "" {
		c.ABCI.ListenAddress = "tcp://127.0.0.1:26658"
	}
	if c.ABCI.Transport == "" {
		c.ABCI.Transport = "socket"
	}
	if c.ABCI.RetainBlocks == 0 {
		c.ABCI.RetainBlocks = 100
	}
	if c.ABCI.DialTimeout == 0 {
		c.ABCI.DialTimeout = Duration(10 * time.Second)
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "goleveldb"
	}
	if c.Store.DBName == "" {
		c.Store.DBName = "penumbra"
	}
	if c.Index.MaxConns == 0 {
		c.Index.MaxConns = 10
	}
	if c.Index.MaxIdleConns == 0 {
		c.Index.MaxIdleConns = 2
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that the configuration is complete enough to start a
// node; it does not attempt to dial anything.
func (c *Config) Validate() error {
	var problems []string

	if c.ChainID == "" {
		problems = append(problems, "chain_id is required")
	}
	if c.Index.Enabled && c.Index.DSN == "" {
		problems = append(problems, "index.dsn is required when index.enabled is true")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
