package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	defaults := Default()
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), defaults)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != defaults {
		t.Fatalf("missing file did not return the defaults")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "striocat.toml")
	content := "addr = \"127.0.0.1:7\"\nreadbuf = 4096\nnodelay = true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path, Default())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:7" || cfg.ReadBuf != 4096 || !cfg.NoDelay {
		t.Fatalf("loaded config = %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("defaults lost: log level = %q", cfg.LogLevel)
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "striocat.toml")
	if err := os.WriteFile(path, []byte("log_level = \"shouty\"\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path, Default()); err == nil {
		t.Fatalf("bad log level accepted")
	}
}

func TestReloaderPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "striocat.toml")
	if err := os.WriteFile(path, []byte("nodelay = false\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cur, err := Load(path, Default())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	changed := make(chan *Tool, 1)
	rel, err := NewReloader(path, cur, func(old, cur *Tool) {
		if old.NoDelay {
			t.Errorf("old revision has nodelay set")
		}
		changed <- cur
	}, nil)
	if err != nil {
		t.Fatalf("creating reloader: %v", err)
	}
	defer rel.Close()

	content := "nodelay = true\nlog_level = \"debug\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-changed:
		if !cfg.NoDelay || cfg.LogLevel != "debug" {
			t.Fatalf("reloaded config = %+v", cfg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("reload never fired")
	}
	if got := rel.Current(); !got.NoDelay {
		t.Fatalf("Current() = %+v after reload", got)
	}
}

func TestReloaderRejectsBadRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "striocat.toml")
	if err := os.WriteFile(path, []byte("nodelay = true\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cur, err := Load(path, Default())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	rel, err := NewReloader(path, cur, func(old, cur *Tool) {
		t.Errorf("onChange fired for a rejected revision: %+v", cur)
	}, nil)
	if err != nil {
		t.Fatalf("creating reloader: %v", err)
	}
	defer rel.Close()

	if err := os.WriteFile(path, []byte("log_level = \"shouty\"\n"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	// Give the settle timer and re-read ample time to run.
	time.Sleep(600 * time.Millisecond)
	if got := rel.Current(); !got.NoDelay {
		t.Fatalf("rejected revision replaced the config: %+v", got)
	}
}

func TestArgsRendering(t *testing.T) {
	cfg := &Tool{}
	if args := cfg.Args(); len(args) != 0 {
		t.Fatalf("empty config rendered %v", args)
	}

	cfg = &Tool{ReadBuf: 2048, NoDelay: true}
	args := cfg.Args()
	if len(args) != 2 || args[0] != "readbuf=2048" || args[1] != "nodelay" {
		t.Fatalf("rendered %v", args)
	}
}
