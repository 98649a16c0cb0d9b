// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr != nil && sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.IsEnabled() || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		title := generateErrorTitle(ee)

		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("priority", ee.GetPriority())

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle creates a grouping title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, titleCase(c))
	}
	if ct := formatCategoryForTitle(ee.Category); ct != "" {
		parts = append(parts, ct)
	}
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, formatOperationForTitle(op))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryDevice:
		return "Device Unavailable"
	case CategoryDeviceRead:
		return "Device Read Failure"
	case CategoryRecording:
		return "Recorder I/O Error"
	case CategoryValidation:
		return "Validation Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryNetwork:
		return "Network Error"
	default:
		return string(category)
	}
}

func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryDevice, CategoryRecording, CategoryDatabase, CategoryConfiguration:
		return sentry.LevelError
	case CategoryDeviceRead, CategoryNetwork, CategoryArchive, CategoryMQTTPublish:
		return sentry.LevelWarning
	case CategoryState, CategoryNoSession, CategoryValidation:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	globalTelemetryReporter = reporter
	telemetryMu.Unlock()

	hooksMu.Lock()
	updateActiveReporting()
	hooksMu.Unlock()
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	credURLRegex  = regexp.MustCompile(`([a-z]+://)[^:/@\s]+:[^@\s]+@`)
	secretKVRegex = regexp.MustCompile(`(?i)(password|token|dsn|secret)[=:]\S+`)
	longHexRegex  = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// scrubMessageForPrivacy removes credentials and query strings from messages
func scrubMessageForPrivacy(message string) string {
	scrubbed := credURLRegex.ReplaceAllString(message, "$1[REDACTED]@")
	scrubbed = urlQueryRegex.ReplaceAllString(scrubbed, "$1?[REDACTED]")
	scrubbed = secretKVRegex.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	return longHexRegex.ReplaceAllString(scrubbed, "[ID_REDACTED]")
}

// InitSentry configures the sentry client and installs the reporter.
func InitSentry(dsn, release string) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: true,
	}); err != nil {
		return New(err).
			Category(CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}
