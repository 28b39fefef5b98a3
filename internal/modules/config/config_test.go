package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
service:
  name: grid_test
storage:
  driver: memory
  seed_file: configs/users.yaml
api:
  addr: ":9999"
exchange:
  rate_limit: 3
  paper_markets:
    - symbol: BTCUSDT
      tick_size: 0.1
      step_size: 0.001
      min_qty: 0.001
      contract_size: 1
      price: 60000
engine:
  timing:
    cycle_interval: 3s
`

func writeConfig(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(configDirENV, dir)
	t.Setenv(configFilePathENV, "test.yaml")
}

func TestLoadFileAndDefaults(t *testing.T) {
	writeConfig(t, sampleYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Name != "grid_test" || cfg.API.Addr != ":9999" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Engine.Timing.CycleInterval != 3*time.Second {
		t.Fatalf("cycle interval = %v", cfg.Engine.Timing.CycleInterval)
	}
	if cfg.Engine.Timing.ErrorSleep != 5*time.Second {
		t.Fatalf("default error sleep lost: %v", cfg.Engine.Timing.ErrorSleep)
	}
	if cfg.Supervisor.JoinTimeout != 30*time.Second {
		t.Fatalf("supervisor default lost: %v", cfg.Supervisor.JoinTimeout)
	}

	opts := cfg.ExchangeOptions()
	if len(opts.PaperMarkets) != 1 || opts.PaperMarkets[0].TickSize != 0.1 {
		t.Fatalf("paper markets = %+v", opts.PaperMarkets)
	}
	if opts.PaperPrices["BTCUSDT"] != 60000 || opts.RateLimit != 3 {
		t.Fatalf("exchange options = %+v", opts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	writeConfig(t, sampleYAML)
	t.Setenv("GRIDBOT_API_ADDR", ":7000")
	t.Setenv("GRIDBOT_ENGINE_TIMING_CYCLE_INTERVAL", "1s")
	t.Setenv(tokenTelegramENV, "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Addr != ":7000" {
		t.Fatalf("api addr = %q", cfg.API.Addr)
	}
	if cfg.Engine.Timing.CycleInterval != time.Second {
		t.Fatalf("cycle interval = %v", cfg.Engine.Timing.CycleInterval)
	}
	if cfg.Telegram.Token != "tok" {
		t.Fatalf("telegram token = %q", cfg.Telegram.Token)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv(configDirENV, t.TempDir())
	t.Setenv(configFilePathENV, "absent.yaml")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	writeConfig(t, "storage:\n  driver: postgres\n")
	if _, err := Load(); err == nil {
		t.Fatal("postgres without dsn must fail")
	}

	writeConfig(t, "storage:\n  driver: cassandra\n")
	if _, err := Load(); err == nil {
		t.Fatal("unknown driver must fail")
	}
}
