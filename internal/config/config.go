package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Thresholds ThresholdsConfig `json:"thresholds" yaml:"thresholds"`
	Fusion     FusionConfig     `json:"fusion" yaml:"fusion"`
	Assessor   AssessorConfig   `json:"assessor" yaml:"assessor"`
	Rollback   RollbackConfig   `json:"rollback" yaml:"rollback"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
}

type MetricsConfig struct {
	Source           string        `json:"source" yaml:"source"`
	Influx           InfluxConfig  `json:"influx" yaml:"influx"`
	HTTP             HTTPConfig    `json:"http" yaml:"http"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
	Window           time.Duration `json:"window" yaml:"window"`
	FetchTimeout     time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	DegradedAfter    int           `json:"degraded_after" yaml:"degraded_after"`
	BaselineLookback time.Duration `json:"baseline_lookback" yaml:"baseline_lookback"`
}

type InfluxConfig struct {
	URL    string `json:"url" yaml:"url"`
	Token  string `json:"token" yaml:"token"`
	Org    string `json:"org" yaml:"org"`
	Bucket string `json:"bucket" yaml:"bucket"`
}

type HTTPConfig struct {
	URL string `json:"url" yaml:"url"`
}

type ThresholdsConfig struct {
	CPUPercent       float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent" yaml:"memory_percent"`
	ErrorCount       float64 `json:"error_count" yaml:"error_count"`
	LatencySeconds   float64 `json:"latency_seconds" yaml:"latency_seconds"`
	UnhealthyTargets float64 `json:"unhealthy_targets" yaml:"unhealthy_targets"`
}

type FusionConfig struct {
	MinBreaches          int    `json:"min_breaches" yaml:"min_breaches"`
	VerdictRollbackLevel string `json:"verdict_rollback_level" yaml:"verdict_rollback_level"`
	DebounceCycles       int    `json:"debounce_cycles" yaml:"debounce_cycles"`
}

type AssessorConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Model         string        `json:"model" yaml:"model"`
	APIKey        string        `json:"api_key" yaml:"api_key"`
	BaseURL       string        `json:"base_url" yaml:"base_url"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	Attempts      int           `json:"attempts" yaml:"attempts"`
	Backoff       time.Duration `json:"backoff" yaml:"backoff"`
	MaxTokens     int           `json:"max_tokens" yaml:"max_tokens"`
	MaxConcurrent int64         `json:"max_concurrent" yaml:"max_concurrent"`
	MaxPromptLen  int           `json:"max_prompt_len" yaml:"max_prompt_len"`
}

type RollbackConfig struct {
	ControllerURL      string        `json:"controller_url" yaml:"controller_url"`
	RequestTimeout     time.Duration `json:"request_timeout" yaml:"request_timeout"`
	Attempts           int           `json:"attempts" yaml:"attempts"`
	Backoff            time.Duration `json:"backoff" yaml:"backoff"`
	ConvergenceTimeout time.Duration `json:"convergence_timeout" yaml:"convergence_timeout"`
	PollInterval       time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type NotifyConfig struct {
	WebhookURL string        `json:"webhook_url" yaml:"webhook_url"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	Retries    int           `json:"retries" yaml:"retries"`
	Kafka      KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Metrics: MetricsConfig{
			Source:           "http",
			Interval:         30 * time.Second,
			Window:           5 * time.Minute,
			FetchTimeout:     10 * time.Second,
			DegradedAfter:    3,
			BaselineLookback: 1 * time.Hour,
		},
		Thresholds: ThresholdsConfig{
			CPUPercent:       80,
			MemoryPercent:    85,
			ErrorCount:       10,
			LatencySeconds:   2,
			UnhealthyTargets: 0,
		},
		Fusion: FusionConfig{
			MinBreaches:          2,
			VerdictRollbackLevel: "HIGH",
			DebounceCycles:       2,
		},
		Assessor: AssessorConfig{
			Enabled:       true,
			Model:         "gpt-4o-mini",
			Timeout:       20 * time.Second,
			Attempts:      2,
			Backoff:       2 * time.Second,
			MaxTokens:     400,
			MaxConcurrent: 4,
			MaxPromptLen:  8000,
		},
		Rollback: RollbackConfig{
			RequestTimeout:     10 * time.Second,
			Attempts:           3,
			Backoff:            5 * time.Second,
			ConvergenceTimeout: 5 * time.Minute,
			PollInterval:       10 * time.Second,
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
			Retries: 1,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:deployguard.db?_pragma=busy_timeout(5000)"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Metrics.Source == "" {
		cfg.Metrics.Source = def.Metrics.Source
	}
	if cfg.Metrics.Interval <= 0 {
		cfg.Metrics.Interval = def.Metrics.Interval
	}
	if cfg.Metrics.Window <= 0 {
		cfg.Metrics.Window = def.Metrics.Window
	}
	if cfg.Metrics.FetchTimeout <= 0 {
		cfg.Metrics.FetchTimeout = def.Metrics.FetchTimeout
	}
	if cfg.Metrics.DegradedAfter <= 0 {
		cfg.Metrics.DegradedAfter = def.Metrics.DegradedAfter
	}
	if cfg.Metrics.BaselineLookback <= 0 {
		cfg.Metrics.BaselineLookback = def.Metrics.BaselineLookback
	}
	if cfg.Fusion.MinBreaches <= 0 {
		cfg.Fusion.MinBreaches = def.Fusion.MinBreaches
	}
	if cfg.Fusion.VerdictRollbackLevel == "" {
		cfg.Fusion.VerdictRollbackLevel = def.Fusion.VerdictRollbackLevel
	}
	if cfg.Fusion.DebounceCycles <= 0 {
		cfg.Fusion.DebounceCycles = def.Fusion.DebounceCycles
	}
	if cfg.Assessor.Model == "" {
		cfg.Assessor.Model = def.Assessor.Model
	}
	if cfg.Assessor.Timeout <= 0 {
		cfg.Assessor.Timeout = def.Assessor.Timeout
	}
	if cfg.Assessor.Attempts <= 0 {
		cfg.Assessor.Attempts = def.Assessor.Attempts
	}
	if cfg.Assessor.Backoff <= 0 {
		cfg.Assessor.Backoff = def.Assessor.Backoff
	}
	if cfg.Assessor.MaxTokens <= 0 {
		cfg.Assessor.MaxTokens = def.Assessor.MaxTokens
	}
	if cfg.Assessor.MaxConcurrent <= 0 {
		cfg.Assessor.MaxConcurrent = def.Assessor.MaxConcurrent
	}
	if cfg.Assessor.MaxPromptLen <= 0 {
		cfg.Assessor.MaxPromptLen = def.Assessor.MaxPromptLen
	}
	if cfg.Rollback.RequestTimeout <= 0 {
		cfg.Rollback.RequestTimeout = def.Rollback.RequestTimeout
	}
	if cfg.Rollback.Attempts <= 0 {
		cfg.Rollback.Attempts = def.Rollback.Attempts
	}
	if cfg.Rollback.Backoff <= 0 {
		cfg.Rollback.Backoff = def.Rollback.Backoff
	}
	if cfg.Rollback.ConvergenceTimeout <= 0 {
		cfg.Rollback.ConvergenceTimeout = def.Rollback.ConvergenceTimeout
	}
	if cfg.Rollback.PollInterval <= 0 {
		cfg.Rollback.PollInterval = def.Rollback.PollInterval
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = def.Notify.Timeout
	}
	if cfg.Notify.Retries < 0 {
		cfg.Notify.Retries = def.Notify.Retries
	}
}

// Validate rejects unusable configs at startup. These are the only errors
// the system treats as fatal; everything past startup is contained.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Metrics.Source) {
	case "http":
		if cfg.Metrics.HTTP.URL == "" {
			return errors.New("metrics.http.url required when metrics.source is http")
		}
	case "influx":
		if cfg.Metrics.Influx.URL == "" || cfg.Metrics.Influx.Bucket == "" {
			return errors.New("metrics.influx requires url and bucket")
		}
	default:
		return fmt.Errorf("unsupported metrics.source: %s", cfg.Metrics.Source)
	}
	if cfg.Thresholds.CPUPercent <= 0 || cfg.Thresholds.CPUPercent > 100 {
		return errors.New("thresholds.cpu_percent must be in (0, 100]")
	}
	if cfg.Thresholds.MemoryPercent <= 0 || cfg.Thresholds.MemoryPercent > 100 {
		return errors.New("thresholds.memory_percent must be in (0, 100]")
	}
	if cfg.Thresholds.ErrorCount < 0 {
		return errors.New("thresholds.error_count must be >= 0")
	}
	if cfg.Thresholds.LatencySeconds <= 0 {
		return errors.New("thresholds.latency_seconds must be > 0")
	}
	if cfg.Metrics.Window < cfg.Metrics.Interval {
		return errors.New("metrics.window must be at least metrics.interval")
	}
	switch strings.ToUpper(cfg.Fusion.VerdictRollbackLevel) {
	case "MEDIUM", "HIGH", "CRITICAL":
	default:
		return fmt.Errorf("fusion.verdict_rollback_level must be MEDIUM, HIGH or CRITICAL, got %q", cfg.Fusion.VerdictRollbackLevel)
	}
	if cfg.Rollback.ControllerURL == "" {
		return errors.New("rollback.controller_url is required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers and topic")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported storage.driver: %s", cfg.Storage.Driver)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops
// without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	applyDefaults(cfg)
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
