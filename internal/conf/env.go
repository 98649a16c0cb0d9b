// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every automatic environment override
const envPrefix = "BIOSIG"

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns explicitly validated environment variables.
// Other keys are still overridable through BIOSIG_<SECTION>_<KEY>.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BIOSIG_DEBUG", validateEnvBool},
		{"acquisition.source", "BIOSIG_ACQUISITION_SOURCE", validateEnvSource},
		{"acquisition.samplerate", "BIOSIG_ACQUISITION_SAMPLERATE", validateEnvPositiveInt},
		{"acquisition.buffercapacity", "BIOSIG_ACQUISITION_BUFFERCAPACITY", validateEnvPositiveInt},
		{"recording.enabled", "BIOSIG_RECORDING_ENABLED", validateEnvBool},
		{"recording.directory", "BIOSIG_RECORDING_DIRECTORY", nil},
		{"recording.splitms", "BIOSIG_RECORDING_SPLITMS", validateEnvNonNegativeInt},
		{"sink.mqtt.password", "BIOSIG_MQTT_PASSWORD", nil},
		{"archive.password", "BIOSIG_ARCHIVE_PASSWORD", nil},
		{"catalog.dsn", "BIOSIG_CATALOG_DSN", nil},
		{"sentry.dsn", "BIOSIG_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvSource(value string) error {
	if value != SourceSynthetic && value != SourceSoundcard {
		return fmt.Errorf("must be %s or %s", SourceSynthetic, SourceSoundcard)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}
