package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Metrics.HTTP.URL = "http://metrics:9100"
	cfg.Rollback.ControllerURL = "http://deploy-controller:8200"
	return cfg
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
metrics:
  source: http
  http:
    url: http://metrics:9100
  interval: 15000000000
thresholds:
  cpu_percent: 75
rollback:
  controller_url: http://deploy-controller:8200
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %s", cfg.LogLevel)
	}
	if cfg.Metrics.Interval != 15*time.Second {
		t.Fatalf("interval = %s", cfg.Metrics.Interval)
	}
	if cfg.Thresholds.CPUPercent != 75 {
		t.Fatalf("cpu threshold = %v", cfg.Thresholds.CPUPercent)
	}
	// Unspecified fields come from defaults.
	if cfg.Thresholds.MemoryPercent != 85 {
		t.Fatalf("memory threshold default = %v", cfg.Thresholds.MemoryPercent)
	}
	if cfg.Fusion.DebounceCycles != 2 {
		t.Fatalf("debounce default = %d", cfg.Fusion.DebounceCycles)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "metrics": {"source": "http", "http": {"url": "http://metrics:9100"}},
  "rollback": {"controller_url": "http://deploy-controller:8200"},
  "fusion": {"min_breaches": 3}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fusion.MinBreaches != 3 {
		t.Fatalf("min_breaches = %d", cfg.Fusion.MinBreaches)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := validConfig()
	cfg.Metrics.Source = "graphite"
	if err := Validate(cfg); err == nil {
		t.Fatalf("unsupported source accepted")
	}

	cfg = validConfig()
	cfg.Thresholds.CPUPercent = 140
	if err := Validate(cfg); err == nil {
		t.Fatalf("cpu threshold above 100 accepted")
	}

	cfg = validConfig()
	cfg.Rollback.ControllerURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("missing controller url accepted")
	}

	cfg = validConfig()
	cfg.Fusion.VerdictRollbackLevel = "LOW"
	if err := Validate(cfg); err == nil {
		t.Fatalf("LOW rollback level accepted")
	}

	cfg = validConfig()
	cfg.Metrics.Window = 5 * time.Second
	cfg.Metrics.Interval = 30 * time.Second
	if err := Validate(cfg); err == nil {
		t.Fatalf("window shorter than interval accepted")
	}

	cfg = validConfig()
	cfg.Notify.Kafka.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("kafka without brokers accepted")
	}
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(cpu int) {
		content := `
metrics:
  source: http
  http:
    url: http://metrics:9100
thresholds:
  cpu_percent: ` + strconv.Itoa(cpu) + `
rollback:
  controller_url: http://deploy-controller:8200
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(75)
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if got := m.Get().Thresholds.CPUPercent; got != 75 {
		t.Fatalf("cpu = %v, want 75", got)
	}

	write(90)
	if _, err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := m.Get().Thresholds.CPUPercent; got != 90 {
		t.Fatalf("cpu after reload = %v, want 90", got)
	}
}
