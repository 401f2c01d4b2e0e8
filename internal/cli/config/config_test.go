package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL || cfg.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PrettyJSON == nil || !*cfg.PrettyJSON {
		t.Fatalf("pretty json should default to true")
	}
	if cfg.Events.Topic != DefaultEventsTopic || cfg.Events.Group != DefaultEventsGroup {
		t.Fatalf("unexpected events defaults: %+v", cfg.Events)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cli.yaml")
	body := "baseURL: http://judge:9000\ntimeout: 3s\nprettyJSON: false\nevents:\n  brokers: [kafka:9092]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "http://judge:9000" || cfg.Timeout != 3*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if *cfg.PrettyJSON {
		t.Fatalf("prettyJSON=false was overridden")
	}
	if len(cfg.Events.Brokers) != 1 || cfg.Events.Topic != DefaultEventsTopic {
		t.Fatalf("events = %+v", cfg.Events)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("timeout: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
