package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"REDIS_URL":               "redis://cache:6380/2",
		"QUEUE_KEY":               "jq",
		"SUB_HASH_PREFIX":         "sub:",
		"WORKER_PROCESSES":        "8",
		"BOX_ID_START":            "0",
		"DEFAULT_TIME_LIMIT":      "1.5",
		"DEFAULT_MEM_LIMIT_MB":    "512",
		"DEFAULT_OUTPUT_LIMIT_KB": "1024",
		"DATA_DIR":                "/srv/data",
		"JUDGE_CALLBACK_SECRET":   "s3cret",
	}
	cfg := defaultAppConfig()
	if err := applyEnv(cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	finishConfig(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Redis.URL != "redis://cache:6380/2" || cfg.Queue.Key != "jq" || cfg.Status.KeyPrefix != "sub:" {
		t.Fatalf("redis settings not applied: %+v %+v %+v", cfg.Redis, cfg.Queue, cfg.Status)
	}
	if cfg.Worker.Processes != 8 || cfg.Worker.BoxIDStart != 0 {
		t.Fatalf("worker settings not applied: %+v", cfg.Worker)
	}
	if cfg.Limits.TimeLimit != 1.5 || cfg.Limits.MemoryLimitMB != 512 || cfg.Limits.OutputLimitKB != 1024 {
		t.Fatalf("limits not applied: %+v", cfg.Limits)
	}
	if cfg.DataDir != "/srv/data" || cfg.Callback.Secret != "s3cret" {
		t.Fatalf("paths or secret not applied")
	}
}

func TestDefaultsMatchDeploymentContract(t *testing.T) {
	t.Parallel()
	cfg := defaultAppConfig()
	finishConfig(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" || cfg.Queue.Key != "judge:queue" || cfg.Status.KeyPrefix != "judge:sub:" {
		t.Fatalf("unexpected redis defaults")
	}
	if cfg.Worker.Processes != 4 || cfg.Worker.BoxIDStart != 100 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Limits.TimeLimit != 2.0 || cfg.Limits.MemoryLimitMB != 256 || cfg.Limits.OutputLimitKB != 4096 {
		t.Fatalf("unexpected limit defaults: %+v", cfg.Limits)
	}
	if cfg.Harness.MaxDiffLen != 2000 {
		t.Fatalf("unexpected diff limit default: %d", cfg.Harness.MaxDiffLen)
	}
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"WORKER_PROCESSES", "BOX_ID_START", "DEFAULT_TIME_LIMIT", "DEFAULT_MEM_LIMIT_MB"} {
		cfg := defaultAppConfig()
		err := applyEnv(cfg, func(k string) string {
			if k == name {
				return "lots"
			}
			return ""
		})
		if err == nil {
			t.Fatalf("%s=lots accepted", name)
		}
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{name: "no workers", mutate: func(c *AppConfig) { c.Worker.Processes = -1 }},
		{name: "box start past range", mutate: func(c *AppConfig) { c.Worker.BoxIDStart = 1000 }},
		{name: "zero time limit", mutate: func(c *AppConfig) { c.Limits.TimeLimit = 0 }},
		{name: "no backends", mutate: func(c *AppConfig) { c.Sandbox.Backends = nil }},
		{name: "no data dir", mutate: func(c *AppConfig) { c.DataDir = "" }},
		{name: "diff limit too small", mutate: func(c *AppConfig) { c.Harness.MaxDiffLen = 10 }},
	}
	for _, tt := range tests {
		cfg := defaultAppConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoadYAMLKeepsUnsetDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "judge.yaml")
	body := "worker:\n  processes: 2\nharness:\n  maxDiffLen: 500\nsandbox:\n  backends: [container, isolate]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := defaultAppConfig()
	if err := loadYAML(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Processes != 2 || cfg.Worker.BoxIDStart != 100 {
		t.Fatalf("worker = %+v", cfg.Worker)
	}
	if cfg.Harness.MaxDiffLen != 500 {
		t.Fatalf("harness = %+v", cfg.Harness)
	}
	if len(cfg.Sandbox.Backends) != 2 || cfg.Sandbox.Backends[0] != "container" {
		t.Fatalf("backends = %v", cfg.Sandbox.Backends)
	}
	if cfg.Sandbox.Isolate.Binary != "isolate" {
		t.Fatalf("isolate defaults lost: %+v", cfg.Sandbox.Isolate)
	}
}
