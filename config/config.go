// Package config loads the striocat tool's TOML configuration and watches
// it for changes.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Tool holds the defaults striocat applies to the endpoints it creates.
type Tool struct {
	// Addr is the default address to dial or listen on.
	Addr string `toml:"addr"`
	// ReadBuf is the endpoint read buffer size; 0 means the library default.
	ReadBuf uint64 `toml:"readbuf"`
	// NoDelay enables TCP_NODELAY on every socket.
	NoDelay bool `toml:"nodelay"`
	// LogLevel is the slog level name (debug, info, warn, error).
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Tool {
	return &Tool{LogLevel: "info"}
}

// Validate checks the configuration for values the tool cannot use.
func (c *Tool) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("bad log level %q", c.LogLevel)
	}
	return nil
}

// Level returns the configured slog level. Validate must have accepted the
// configuration first.
func (c *Tool) Level() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.LogLevel))
	return level
}

// Args renders the configuration as an endpoint argument vector.
func (c *Tool) Args() []string {
	var args []string
	if c.ReadBuf != 0 {
		args = append(args, fmt.Sprintf("readbuf=%d", c.ReadBuf))
	}
	if c.NoDelay {
		args = append(args, "nodelay")
	}
	return args
}

// Load reads a TOML config file on top of the given defaults. A missing
// file yields the defaults unchanged.
func Load(path string, defaults *Tool) (*Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := new(Tool)
	if defaults != nil {
		*cfg = *defaults
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}
