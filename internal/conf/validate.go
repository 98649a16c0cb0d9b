package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// maxSampleRate bounds configured rates to what the amplifier supports
const maxSampleRate = 38400

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateAcquisitionSettings,
		validateRecordingSettings,
		validateSinkSettings,
		validateServiceSettings,
		validateCatalogSettings,
		validateArchiveSettings,
		validateExportSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAcquisitionSettings(s *Settings) []string {
	var errs []string
	a := &s.Acquisition

	switch a.Source {
	case SourceSynthetic, SourceSoundcard:
	default:
		errs = append(errs, fmt.Sprintf("acquisition.source must be %q or %q, got %q", SourceSynthetic, SourceSoundcard, a.Source))
	}

	if a.SampleRate <= 0 || a.SampleRate > maxSampleRate {
		errs = append(errs, fmt.Sprintf("acquisition.samplerate must be between 1 and %d, got %d", maxSampleRate, a.SampleRate))
	}
	if a.SamplesPerBlock < 0 {
		errs = append(errs, "acquisition.samplesperblock must not be negative")
	}
	if a.BufferCapacity < 1 {
		errs = append(errs, "acquisition.buffercapacity must be at least 1")
	}
	if a.ScaleFactor <= 0 {
		errs = append(errs, "acquisition.scalefactor must be positive")
	}
	if a.HighPass < 0 {
		errs = append(errs, "acquisition.highpass must not be negative")
	}

	if len(a.Channels) == 0 {
		errs = append(errs, "acquisition.channels must select at least one channel")
	}
	seen := make(map[int]bool, len(a.Channels))
	for _, ch := range a.Channels {
		if ch < 1 {
			errs = append(errs, fmt.Sprintf("acquisition.channels contains invalid channel %d", ch))
		}
		if seen[ch] {
			errs = append(errs, fmt.Sprintf("acquisition.channels contains duplicate channel %d", ch))
		}
		seen[ch] = true
	}
	return errs
}

func validateRecordingSettings(s *Settings) []string {
	var errs []string
	r := &s.Recording

	if r.Directory == "" {
		errs = append(errs, "recording.directory must be set")
	}
	for name, value := range map[string]string{"recording.sequence": r.Sequence, "recording.subject": r.Subject} {
		if strings.ContainsAny(value, `/\`) || value == ".." {
			errs = append(errs, fmt.Sprintf("%s must be a single path element, got %q", name, value))
		}
	}
	if r.SplitMs < 0 {
		errs = append(errs, "recording.splitms must not be negative")
	}
	if r.Calibration <= 0 {
		errs = append(errs, "recording.calibration must be positive")
	}
	if r.MinFreeMB < 0 {
		errs = append(errs, "recording.minfreemb must not be negative")
	}
	return errs
}

func validateSinkSettings(s *Settings) []string {
	var errs []string
	if s.Sink.History < 1 {
		errs = append(errs, "sink.history must be at least 1")
	}

	m := &s.Sink.MQTT
	if !m.Enabled {
		return errs
	}
	if _, err := url.Parse(m.Broker); err != nil || m.Broker == "" {
		errs = append(errs, fmt.Sprintf("sink.mqtt.broker is not a valid URL: %q", m.Broker))
	}
	if m.Topic == "" {
		errs = append(errs, "sink.mqtt.topic must be set when MQTT is enabled")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, fmt.Sprintf("sink.mqtt.qos must be 0, 1 or 2, got %d", m.QoS))
	}
	return errs
}

func validateServiceSettings(s *Settings) []string {
	var errs []string
	if s.API.Enabled {
		if _, _, err := net.SplitHostPort(s.API.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("api.listen is not a host:port address: %q", s.API.Listen))
		}
	}
	if s.Hello.Enabled {
		if _, _, err := net.SplitHostPort(s.Hello.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("hello.listen is not a host:port address: %q", s.Hello.Listen))
		}
		if len(s.Hello.Greeting) > 0xFFFF {
			errs = append(errs, "hello.greeting exceeds 65535 bytes")
		}
	}
	if s.Notification.Enabled && len(s.Notification.URLs) == 0 {
		errs = append(errs, "notification.urls must list at least one URL when notifications are enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn must be set when sentry is enabled")
	}
	return errs
}

func validateCatalogSettings(s *Settings) []string {
	c := &s.Catalog
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case "sqlite":
		if c.Path == "" {
			return []string{"catalog.path must be set for sqlite"}
		}
	case "mysql":
		if c.DSN == "" {
			return []string{"catalog.dsn must be set for mysql"}
		}
	default:
		return []string{fmt.Sprintf("catalog.type must be sqlite or mysql, got %q", c.Type)}
	}
	return nil
}

func validateArchiveSettings(s *Settings) []string {
	a := &s.Archive
	if !a.Enabled {
		return nil
	}
	var errs []string
	switch a.Target {
	case "local":
		if a.Directory == "" {
			errs = append(errs, "archive.directory must be set for the local target")
		}
	case "ftp", "sftp":
		if a.Host == "" {
			errs = append(errs, fmt.Sprintf("archive.host must be set for the %s target", a.Target))
		}
		if a.Target == "sftp" && a.Password == "" && a.KeyFile == "" {
			errs = append(errs, "archive.password or archive.keyfile must be set for sftp")
		}
	default:
		errs = append(errs, fmt.Sprintf("archive.target must be local, ftp or sftp, got %q", a.Target))
	}
	if a.QueueSize < 1 {
		errs = append(errs, "archive.queuesize must be at least 1")
	}
	return errs
}

func validateExportSettings(s *Settings) []string {
	if s.Export.PhysicalMax <= s.Export.PhysicalMin {
		return []string{"export.physicalmax must be greater than export.physicalmin"}
	}
	return nil
}
