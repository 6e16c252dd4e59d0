package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vkcluster.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "initialNodes:\n  - 127.0.0.1:7000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRetry != 5 {
		t.Fatalf("expected default maxRetry 5, got %d", cfg.MaxRetry)
	}
	if cfg.ConnectTimeout.Value() != 5*time.Second {
		t.Fatalf("expected default connectTimeout 5s, got %s", cfg.ConnectTimeout.Value())
	}
	if cfg.CommandTimeout.Value() != 5*time.Second {
		t.Fatalf("expected default commandTimeout 5s, got %s", cfg.CommandTimeout.Value())
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `initialNodes:
  - 127.0.0.1:7000
  - 127.0.0.1:7001
maxRetry: 2
connectTimeout: 250ms
commandTimeout: 1s
useClusterNodes: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRetry != 2 {
		t.Fatalf("expected maxRetry 2, got %d", cfg.MaxRetry)
	}
	if cfg.ConnectTimeout.Value() != 250*time.Millisecond {
		t.Fatalf("expected connectTimeout 250ms, got %s", cfg.ConnectTimeout.Value())
	}
	if !cfg.UseClusterNodes {
		t.Fatal("expected useClusterNodes true")
	}
}

func TestLoadEmptyPathFails(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadBadDurationFails(t *testing.T) {
	path := writeTempConfig(t, "initialNodes:\n  - 127.0.0.1:7000\nconnectTimeout: notaduration\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{MaxRetry: -1, SelectDB: -1}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 3 {
		t.Fatalf("expected 3 collected errors (missing nodes, bad maxRetry, bad selectDb), got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestValidateRejectsSeedMissingPort(t *testing.T) {
	cfg := &Config{InitialNodes: []string{"127.0.0.1"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a seed without a port")
	}
}

func TestSummaryIncludesNodesAndTimeouts(t *testing.T) {
	cfg := &Config{
		InitialNodes:   []string{"127.0.0.1:7000"},
		MaxRetry:       5,
		ConnectTimeout: Duration(5 * time.Second),
		CommandTimeout: Duration(5 * time.Second),
	}
	s := cfg.Summary()
	if s == "" {
		t.Fatal("expected a non-empty summary")
	}
}
