package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// defaultSettings unmarshals the registered defaults without reading a file.
func defaultSettings(t *testing.T) *Settings {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaultConfig()
	settings := &Settings{}
	require.NoError(t, viper.Unmarshal(settings))
	return settings
}

func TestDefaultsAreValid(t *testing.T) {
	settings := defaultSettings(t)

	require.NoError(t, ValidateSettings(settings))
	assert.Equal(t, SourceSynthetic, settings.Acquisition.Source)
	assert.Equal(t, 1200, settings.Acquisition.SampleRate)
	assert.Equal(t, 8, settings.Acquisition.BufferCapacity)
	assert.Len(t, settings.Acquisition.Channels, 16)
	assert.Equal(t, []string{DefaultDeviceID}, settings.Acquisition.DeviceIDs)
	assert.InDelta(t, 1e-6, settings.Acquisition.ScaleFactor, 1e-12)
	assert.Equal(t, 600000, settings.Recording.SplitMs)
	assert.Equal(t, 30*time.Second, settings.Archive.Timeout)
}

func TestBlockSize(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		perBlock   int
		want       int
	}{
		{"derived from rate", 1200, 0, 100},
		{"explicit value wins", 1200, 64, 64},
		{"low rate floors to one", 5, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AcquisitionSettings{SampleRate: tt.sampleRate, SamplesPerBlock: tt.perBlock}
			assert.Equal(t, tt.want, a.BlockSize())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
acquisition:
  samplerate: 600
  channels: [1, 3, 5]
recording:
  enabled: true
  splitms: 10
archive:
  timeout: 5s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 600, settings.Acquisition.SampleRate)
	assert.Equal(t, []int{1, 3, 5}, settings.Acquisition.Channels)
	assert.True(t, settings.Recording.Enabled)
	assert.Equal(t, 10, settings.Recording.SplitMs)
	assert.Equal(t, 5*time.Second, settings.Archive.Timeout)
	// Keys absent from the file keep their defaults
	assert.Equal(t, "Subject_01", settings.Recording.Subject)
	assert.Same(t, settings, GetSettings())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("acquisition:\n  samplerate: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Errors[0], "acquisition.samplerate")
}

func TestEnvironmentOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("BIOSIG_RECORDING_SPLITMS", "2500")
	t.Setenv("BIOSIG_ACQUISITION_SOURCE", "soundcard")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: false\n"), 0o600))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2500, settings.Recording.SplitMs)
	assert.Equal(t, SourceSoundcard, settings.Acquisition.Source)
}

func TestBindEnvVarsReportsInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("BIOSIG_ACQUISITION_SAMPLERATE", "fast")
	t.Setenv("BIOSIG_DEBUG", "maybe")

	err := bindEnvVars()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIOSIG_ACQUISITION_SAMPLERATE")
	assert.Contains(t, err.Error(), "BIOSIG_DEBUG")
}

func TestCreateDefaultConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaultConfig()

	dir := filepath.Join(t.TempDir(), "nested")
	require.NoError(t, createDefaultConfig(dir))

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "acquisition:")
	assert.Equal(t, 1200, viper.GetInt("acquisition.samplerate"))
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	settings := defaultSettings(t)
	settings.Recording.Subject = "Subject_42"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, settings))

	viper.Reset()
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Subject_42", loaded.Recording.Subject)
	assert.Equal(t, settings.Acquisition.Channels, loaded.Acquisition.Channels)
}

func TestSessionDirectory(t *testing.T) {
	r := RecordingSettings{Directory: "data", Sequence: "Seq", Subject: "Subj"}
	assert.Equal(t, filepath.Join("data", "Seq", "Subj"), r.SessionDirectory())
}
