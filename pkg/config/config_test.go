package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/agoramesh/node/internal/testutil"
)

// resetViper undoes SetDefault/config-file state between tests; viper is a
// package-level singleton so tests that load config must not leak into
// each other.
func resetViper(t *testing.T) {
	t.Helper()
	v := viper.New()
	*viper.GetViper() = *v
}

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	resetViper(t)
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.ListenAddr != "/ip4/0.0.0.0/tcp/4001" {
		t.Errorf("ListenAddr = %q, want default", cfg.Network.ListenAddr)
	}
	if cfg.Trust.WeightReputation != 0.4 || cfg.Trust.WeightStake != 0.3 || cfg.Trust.WeightEndorsement != 0.3 {
		t.Errorf("trust weights = %v/%v/%v, want defaults", cfg.Trust.WeightReputation, cfg.Trust.WeightStake, cfg.Trust.WeightEndorsement)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should default to enabled")
	}
}

func TestLoadFromSandboxedConfigFile(t *testing.T) {
	resetViper(t)
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.MkdirAll(sb.Path("config"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	yaml := []byte("network:\n  listen_addr: \"/ip4/127.0.0.1/tcp/5001\"\ntrust:\n  weight_reputation: 0.5\n")
	if err := sb.WriteFile("config/default.yaml", yaml, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.ListenAddr != "/ip4/127.0.0.1/tcp/5001" {
		t.Errorf("ListenAddr = %q, want override from sandboxed config file", cfg.Network.ListenAddr)
	}
	if cfg.Trust.WeightReputation != 0.5 {
		t.Errorf("WeightReputation = %v, want 0.5", cfg.Trust.WeightReputation)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	resetViper(t)
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	defer os.Chdir(wd)

	os.Setenv("AGORAMESH_LOGGING_LEVEL", "debug")
	defer os.Unsetenv("AGORAMESH_LOGGING_LEVEL")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env override %q", cfg.Logging.Level, "debug")
	}
}
