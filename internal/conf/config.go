// Package conf provides configuration management for biosig.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/biosig-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Acquisition source types
const (
	SourceSynthetic = "synthetic"
	SourceSoundcard = "soundcard"
)

// MainSettings contains identity settings for the node
type MainSettings struct {
	Name     string `yaml:"name"`     // node name, used in MQTT topics and notifications
	Timezone string `yaml:"timezone"` // timezone for recording file names
}

// SyntheticSettings configures the synthetic signal producer
type SyntheticSettings struct {
	Frequency float64 `yaml:"frequency"` // sine frequency in Hz
	Amplitude float64 `yaml:"amplitude"` // peak amplitude in µV
	Noise     float64 `yaml:"noise"`     // uniform noise amplitude in µV
	FailAfter int     `yaml:"failafter"` // simulate a read failure after N blocks, 0 disables
	FailOpen  bool    `yaml:"failopen"`  // simulate an unavailable device
}

// AcquisitionSettings configures the producer and the sample pipeline
type AcquisitionSettings struct {
	Source          string            `yaml:"source"`          // synthetic or soundcard
	DeviceIDs       []string          `yaml:"deviceids"`       // amplifier serials or capture device names
	Channels        []int             `yaml:"channels"`        // 1-based channel selection
	SampleRate      int               `yaml:"samplerate"`      // samples per second per channel
	SamplesPerBlock int               `yaml:"samplesperblock"` // 0 derives rate/12
	BufferCapacity  int               `yaml:"buffercapacity"`  // blocks held between producer and consumer
	ScaleFactor     float64           `yaml:"scalefactor"`     // raw to published unit conversion
	HighPass        float64           `yaml:"highpass"`        // high-pass cut-off in Hz recorded in the descriptor
	Synthetic       SyntheticSettings `yaml:"synthetic"`
}

// BlockSize returns the configured samples per block, deriving it from the
// sample rate when unset.
func (a *AcquisitionSettings) BlockSize() int {
	if a.SamplesPerBlock > 0 {
		return a.SamplesPerBlock
	}
	return max(1, a.SampleRate/blocksPerSecond)
}

// RecordingSettings configures segment recording
type RecordingSettings struct {
	Enabled     bool    `yaml:"enabled"`     // record from session start
	Directory   string  `yaml:"directory"`   // root directory for recordings
	Sequence    string  `yaml:"sequence"`    // sequence directory name
	Subject     string  `yaml:"subject"`     // subject directory name
	SplitMs     int     `yaml:"splitms"`     // rotate after this many ms, 0 disables rotation
	Calibration float64 `yaml:"calibration"` // raw units per stored integer step
	MinFreeMB   int     `yaml:"minfreemb"`   // refuse to open segments below this free space
}

// MQTTSettings configures the MQTT block sink
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// SinkSettings configures downstream sinks
type SinkSettings struct {
	History int          `yaml:"history"` // blocks kept by the realtime sink
	MQTT    MQTTSettings `yaml:"mqtt"`
}

// APISettings configures the HTTP control API
type APISettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// HelloSettings configures the one-shot greeting server
type HelloSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen"`
	Greeting string `yaml:"greeting"`
}

// CatalogSettings configures the session and segment catalog
type CatalogSettings struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite or mysql
	Path    string `yaml:"path"` // sqlite database file
	DSN     string `yaml:"dsn"`  // mysql data source name
}

// ArchiveSettings configures upload of closed segments
type ArchiveSettings struct {
	Enabled    bool          `yaml:"enabled"`
	Target     string        `yaml:"target"`    // local, ftp or sftp
	Directory  string        `yaml:"directory"` // local target directory
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	KeyFile    string        `yaml:"keyfile"`
	RemotePath string        `yaml:"remotepath"`
	QueueSize  int           `yaml:"queuesize"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NotificationSettings configures shoutrrr alerts
type NotificationSettings struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// ExportSettings configures EDF export
type ExportSettings struct {
	PhysicalMin float64 `yaml:"physicalmin"` // µV mapped to the lowest digital value
	PhysicalMax float64 `yaml:"physicalmax"` // µV mapped to the highest digital value
}

// Settings contains all configuration options
type Settings struct {
	Debug        bool                 `yaml:"debug"`
	Main         MainSettings         `yaml:"main"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	Acquisition  AcquisitionSettings  `yaml:"acquisition"`
	Recording    RecordingSettings    `yaml:"recording"`
	Sink         SinkSettings         `yaml:"sink"`
	API          APISettings          `yaml:"api"`
	Hello        HelloSettings        `yaml:"hello"`
	Catalog      CatalogSettings      `yaml:"catalog"`
	Archive      ArchiveSettings      `yaml:"archive"`
	Notification NotificationSettings `yaml:"notification"`
	Sentry       SentrySettings       `yaml:"sentry"`
	Export       ExportSettings       `yaml:"export"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// GetLogger returns the conf package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

// Load reads configuration from configFile, or from the default search
// paths when configFile is empty, applies defaults and environment
// overrides, and validates the result.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults and environment bindings and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// Invalid environment values are reported but do not stop startup
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		return viper.ReadInConfig()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config is not secret by default
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
