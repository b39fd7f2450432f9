// Package daemon manages the mtran server lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/tutu-network/mtran/internal/infra/records"
)

// EnvPrefix prefixes every environment override, e.g. MT_SERVER_PORT.
const EnvPrefix = "MT"

// Config holds all server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Models    ModelsConfig    `toml:"models"`
	Engine    EngineConfig    `toml:"engine"`
	Detector  DetectorConfig  `toml:"detector"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	APIToken    string   `toml:"api_token" envconfig:"API_TOKEN"`
	CORSOrigins []string `toml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

// ModelsConfig controls the record catalog and model storage.
type ModelsConfig struct {
	Dir             string        `toml:"dir"`
	RecordsURL      string        `toml:"records_url" envconfig:"RECORDS_URL"`
	AttachmentsURL  string        `toml:"attachments_url" envconfig:"ATTACHMENTS_URL"`
	Offline         bool          `toml:"offline"`
	DownloadTimeout time.Duration `toml:"download_timeout" envconfig:"DOWNLOAD_TIMEOUT"`
}

// EngineConfig controls engines and the translation runtime.
type EngineConfig struct {
	IdleTimeout            time.Duration `toml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	InitTimeout            time.Duration `toml:"init_timeout" envconfig:"INIT_TIMEOUT"`
	MaxSentenceLength      int           `toml:"max_sentence_length" envconfig:"MAX_SENTENCE_LENGTH"`
	CacheSize              int           `toml:"cache_size" envconfig:"CACHE_SIZE"`
	FullwidthZhPunctuation bool          `toml:"fullwidth_zh_punctuation" envconfig:"FULLWIDTH_ZH_PUNCTUATION"`
	WorkerPath             string        `toml:"worker_path" envconfig:"WORKER_PATH"`
	BeamSize               int           `toml:"beam_size" envconfig:"BEAM_SIZE"`
	CPUThreads             int           `toml:"cpu_threads" envconfig:"CPU_THREADS"`
}

// DetectorConfig controls language detection.
type DetectorConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold" envconfig:"CONFIDENCE_THRESHOLD"`
	MaxLanguages        int     `toml:"max_languages" envconfig:"MAX_LANGUAGES"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level    string `toml:"level"`
	File     string `toml:"file"`
	Console  string `toml:"console"` // auto, on, off
	Requests bool   `toml:"requests"`
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	home := mtranHome()
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8989,
			CORSOrigins: []string{"*"},
		},
		Models: ModelsConfig{
			Dir:             filepath.Join(home, "models"),
			RecordsURL:      records.DefaultRecordsURL,
			AttachmentsURL:  records.DefaultAttachmentsURL,
			DownloadTimeout: 30 * time.Minute,
		},
		Engine: EngineConfig{
			IdleTimeout:            60 * time.Second,
			InitTimeout:            30 * time.Second,
			MaxSentenceLength:      512,
			CacheSize:              1000,
			FullwidthZhPunctuation: true,
			BeamSize:               1,
		},
		Detector: DetectorConfig{
			ConfidenceThreshold: 0.5,
			MaxLanguages:        2,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: "auto",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads ~/.mtran/config.toml over the defaults, then applies
// MT_* environment overrides.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom is LoadConfig for an explicit file path. A missing file
// is not an error.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		return fmt.Errorf("detector.confidence_threshold %v must be within [0, 1]", c.Detector.ConfidenceThreshold)
	}
	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir is required")
	}
	return nil
}

// SaveConfig writes the config to ~/.mtran/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(mtranHome(), "config.toml")
}

// mtranHome returns the data directory, MTRAN_HOME or ~/.mtran.
func mtranHome() string {
	if env := os.Getenv("MTRAN_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mtran")
}

// Home is exported for use by other packages.
func Home() string {
	return mtranHome()
}
