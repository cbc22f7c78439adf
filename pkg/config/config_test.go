package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"chaincore/internal/testutil"
)

func TestLoadSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	data := []byte("backend:\n  kind: file\n  dir: /tmp/chain\n  snapshot_interval: 50\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend.Kind != "file" {
		t.Fatalf("expected backend kind file, got %s", cfg.Backend.Kind)
	}
	if cfg.Backend.SnapshotInterval != 50 {
		t.Fatalf("expected snapshot_interval 50, got %d", cfg.Backend.SnapshotInterval)
	}
}

func TestLoadOverride(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := sb.WriteFile("config/default.yaml", []byte("backend:\n  kind: mem\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := sb.WriteFile("config/dev.yaml", []byte("backend:\n  kind: file\n  dir: ./dev-data\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend.Kind != "file" {
		t.Fatalf("expected override to file, got %s", cfg.Backend.Kind)
	}
	if cfg.Backend.Dir != "./dev-data" {
		t.Fatalf("expected dir ./dev-data, got %s", cfg.Backend.Dir)
	}
}
