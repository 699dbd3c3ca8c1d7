// Package cmd implements the striocat command line: a netcat-style tool
// that bridges stdio to a strio TCP endpoint, in both dial and listen
// directions.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/strio-net/strio"
	"github.com/strio-net/strio/config"
)

var (
	Root = &cobra.Command{
		Use:   "striocat",
		Short: "Bridge stdio to a TCP stream endpoint",
	}
	rootFlags = struct {
		Config   string
		LogLevel string
		ReadBuf  uint64
		NoDelay  bool
	}{}
)

func init() {
	pf := Root.PersistentFlags()
	pf.StringVar(&rootFlags.Config, "config", "", "path to a TOML config file")
	pf.StringVar(&rootFlags.LogLevel, "log-level", "", "the log level to use")
	pf.Uint64Var(&rootFlags.ReadBuf, "readbuf", 0, "endpoint read buffer size")
	pf.BoolVar(&rootFlags.NoDelay, "nodelay", false, "enable TCP_NODELAY")

	Root.AddCommand(dialCmd)
	Root.AddCommand(listenCmd)
}

// loadConfig merges the config file (if any) with explicitly set flags;
// flags win.
func loadConfig(cmd *cobra.Command) (*config.Tool, error) {
	cfg := config.Default()
	if rootFlags.Config != "" {
		var err error
		cfg, err = config.Load(rootFlags.Config, cfg)
		if err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = rootFlags.LogLevel
	}
	if cmd.Flags().Changed("readbuf") {
		cfg.ReadBuf = rootFlags.ReadBuf
	}
	if cmd.Flags().Changed("nodelay") {
		cfg.NoDelay = rootFlags.NoDelay
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the tool logger. The returned LevelVar lets a config
// reload change the level of a running session.
func newLogger(cfg *config.Tool) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(cfg.Level())
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   level,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	return logger, level
}

// startReloader keeps the running session in sync with the config file, if
// one is in use. onChange receives each accepted revision.
func startReloader(logger *slog.Logger, cfg *config.Tool, onChange func(old, cur *config.Tool)) *config.Reloader {
	if rootFlags.Config == "" {
		return nil
	}
	r, err := config.NewReloader(rootFlags.Config, cfg, onChange, logger)
	if err != nil {
		logger.Warn("unable to watch config file", "path", rootFlags.Config, "err", err)
		return nil
	}
	return r
}

// applyLive pushes a reloaded configuration into the running bridge: the
// log level flips in place, and nodelay goes to the endpoint through its
// control surface. Address and read buffer size only take effect on the
// next run.
func applyLive(logger *slog.Logger, level *slog.LevelVar, c *strio.Conn, old, cur *config.Tool) {
	if cur.LogLevel != old.LogLevel {
		level.Set(cur.Level())
		logger.Info("log level changed", "level", cur.LogLevel)
	}
	if cur.NoDelay != old.NoDelay {
		val := "0"
		if cur.NoDelay {
			val = "1"
		}
		if _, err := c.Control(false, strio.ControlNodelay, []byte(val)); err != nil {
			logger.Error("unable to apply nodelay", "nodelay", cur.NoDelay, "err", err)
		} else {
			logger.Info("applied nodelay", "nodelay", cur.NoDelay)
		}
	}
	if cur.Addr != old.Addr || cur.ReadBuf != old.ReadBuf {
		logger.Info("address and readbuf changes take effect on the next run")
	}
}

func pickAddr(cfg *config.Tool, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Addr != "" {
		return cfg.Addr, nil
	}
	return "", fmt.Errorf("no address given and none configured")
}
