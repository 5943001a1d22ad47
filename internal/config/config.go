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
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Detectors  DetectorsConfig  `json:"detectors" yaml:"detectors"`
	Scoring    ScoringConfig    `json:"scoring" yaml:"scoring"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Detections DetectionsConfig `json:"detections" yaml:"detections"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// DetectorsConfig enables individual detectors and carries their tunables.
// Every detector is on by default; hosts opt out explicitly instead of the
// old environment-variable switches.
type DetectorsConfig struct {
	Bot             ToggleConfig       `json:"bot" yaml:"bot"`
	IPRateLimit     IPRateLimitConfig  `json:"ip_rate_limit" yaml:"ip_rate_limit"`
	Proxy           ToggleConfig       `json:"proxy" yaml:"proxy"`
	MultiAccount    MultiAccountConfig `json:"multi_account" yaml:"multi_account"`
	AbnormalPattern ToggleConfig       `json:"abnormal_pattern" yaml:"abnormal_pattern"`
	DataTamper      DataTamperConfig   `json:"data_tamper" yaml:"data_tamper"`
	Automation      ToggleConfig       `json:"automation" yaml:"automation"`
}

type ToggleConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type IPRateLimitConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	HighThreshold     int  `json:"high_threshold" yaml:"high_threshold"`
	CriticalThreshold int  `json:"critical_threshold" yaml:"critical_threshold"`
}

type MultiAccountConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	MaxPerIP     int           `json:"max_per_ip" yaml:"max_per_ip"`
	MaxPerDevice int           `json:"max_per_device" yaml:"max_per_device"`
	Window       time.Duration `json:"window" yaml:"window"`
}

type DataTamperConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Secret  string `json:"secret" yaml:"secret"`
}

// ScoringConfig holds per-detector importance weights for the aggregator and
// the default weight applied to detectors missing from the table.
type ScoringConfig struct {
	DetectorWeights map[string]float64 `json:"detector_weights" yaml:"detector_weights"`
	DefaultWeight   float64            `json:"default_weight" yaml:"default_weight"`
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

type MetricsConfig struct {
	SampleLimit int `json:"sample_limit" yaml:"sample_limit"`
}

type DetectionsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Detectors: DetectorsConfig{
			Bot: ToggleConfig{Enabled: true},
			IPRateLimit: IPRateLimitConfig{
				Enabled:           true,
				HighThreshold:     60,
				CriticalThreshold: 100,
			},
			Proxy: ToggleConfig{Enabled: true},
			MultiAccount: MultiAccountConfig{
				Enabled:      true,
				MaxPerIP:     5,
				MaxPerDevice: 3,
				Window:       time.Hour,
			},
			AbnormalPattern: ToggleConfig{Enabled: true},
			DataTamper:      DataTamperConfig{Enabled: true, Secret: "default-secret"},
			Automation:      ToggleConfig{Enabled: true},
		},
		Scoring: ScoringConfig{
			DetectorWeights: map[string]float64{
				"multi_account":      0.25,
				"proxy":              0.20,
				"abnormal_pattern":   0.20,
				"score_manipulation": 0.15,
				"automation":         0.20,
			},
			DefaultWeight: 0.1,
		},
		API:        APIConfig{Enabled: true, Addr: ":8081"},
		Storage:    StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:fraudguard.db?_pragma=busy_timeout(5000)"},
		Metrics:    MetricsConfig{SampleLimit: 1000},
		Detections: DetectionsConfig{StoreLimit: 1000},
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
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Metrics.SampleLimit <= 0 {
		cfg.Metrics.SampleLimit = 1000
	}
	if cfg.Detections.StoreLimit <= 0 {
		cfg.Detections.StoreLimit = 1000
	}
	if cfg.Detectors.IPRateLimit.HighThreshold <= 0 {
		cfg.Detectors.IPRateLimit.HighThreshold = 60
	}
	if cfg.Detectors.IPRateLimit.CriticalThreshold <= 0 {
		cfg.Detectors.IPRateLimit.CriticalThreshold = 100
	}
	if cfg.Detectors.MultiAccount.MaxPerIP <= 0 {
		cfg.Detectors.MultiAccount.MaxPerIP = 5
	}
	if cfg.Detectors.MultiAccount.MaxPerDevice <= 0 {
		cfg.Detectors.MultiAccount.MaxPerDevice = 3
	}
	if cfg.Detectors.MultiAccount.Window <= 0 {
		cfg.Detectors.MultiAccount.Window = time.Hour
	}
	if cfg.Detectors.DataTamper.Secret == "" {
		cfg.Detectors.DataTamper.Secret = "default-secret"
	}
	if cfg.Scoring.DefaultWeight <= 0 {
		cfg.Scoring.DefaultWeight = 0.1
	}
	if len(cfg.Scoring.DetectorWeights) == 0 {
		cfg.Scoring.DetectorWeights = DefaultConfig().Scoring.DetectorWeights
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Detectors.IPRateLimit.CriticalThreshold < cfg.Detectors.IPRateLimit.HighThreshold {
		return fmt.Errorf("detectors.ip_rate_limit.critical_threshold %d below high_threshold %d",
			cfg.Detectors.IPRateLimit.CriticalThreshold, cfg.Detectors.IPRateLimit.HighThreshold)
	}
	for name, w := range cfg.Scoring.DetectorWeights {
		if w <= 0 {
			return fmt.Errorf("scoring.detector_weights[%s] must be > 0", name)
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

// NewStaticManager wraps an in-memory config with no backing file, for hosts
// that wire configuration themselves and for tests.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
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

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
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
