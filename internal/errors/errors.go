// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryDevice        ErrorCategory = "device-unavailable"
	CategoryDeviceRead    ErrorCategory = "device-read"
	CategoryBuffer        ErrorCategory = "sample-buffer"
	CategoryRecording     ErrorCategory = "recording-io"
	CategoryState         ErrorCategory = "state"
	CategoryNoSession     ErrorCategory = "no-session"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryFileParsing   ErrorCategory = "file-parsing"
	CategoryNetwork       ErrorCategory = "network"
	CategoryDatabase      ErrorCategory = "database"
	CategoryArchive       ErrorCategory = "archive"
	CategoryNotification  ErrorCategory = "notification"
	CategoryMQTTPublish   ErrorCategory = "mqtt-publish"
	CategoryDiskUsage     ErrorCategory = "disk-usage"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryGeneric       ErrorCategory = "generic"
)

// Priority constants for error prioritization
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	component string         // Component where error occurred (lazily detected)
	Category  ErrorCategory  // Error category for better grouping
	Priority  string         // Explicit priority override (optional)
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
	reported  bool           // Whether telemetry has been sent
	mu        sync.RWMutex
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return string(ee.Category)
	}
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, so package level sentinels
// built with a category act as error kinds.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component name, detecting it lazily if needed
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	component := ee.component
	ee.mu.RUnlock()
	if component != "" {
		return component
	}

	ee.mu.Lock()
	defer ee.mu.Unlock()
	if ee.component == "" {
		ee.component = ComponentUnknown
	}
	return ee.component
}

// GetCategory returns the error category as string
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority or one derived from the category
func (ee *EnhancedError) GetPriority() string {
	if ee.Priority != "" {
		return ee.Priority
	}
	switch ee.Category {
	case CategoryDevice, CategoryDeviceRead, CategoryRecording:
		return PriorityHigh
	case CategoryState, CategoryNoSession, CategoryValidation:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// GetContext returns a copy of the context map
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported marks this error as reported to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been reported
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error with enhanced context
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set)
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets the explicit priority override for the error
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		if priority != "" {
			eb.priority = PriorityMedium
		}
	}
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext adds file path and size context
func (eb *ErrorBuilder) FileContext(filePath string, fileSize int64) *ErrorBuilder {
	eb.Context("file_type", getFileExtension(filePath))
	if fileSize >= 0 {
		eb.Context("file_size", fileSize)
	}
	return eb
}

// Timing adds an operation name and its duration
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", duration.Milliseconds())
	return eb
}

// Build creates the EnhancedError and triggers optional telemetry reporting
func (eb *ErrorBuilder) Build() *EnhancedError {
	err := eb.err
	if err == nil {
		err = stderrors.New(describeContext(eb.context))
	}

	ee := &EnhancedError{
		Err:       err,
		component: eb.component,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
	}

	// Fast path - skip stack walking when nobody consumes the error
	if !hasActiveReporting.Load() {
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		return ee
	}

	if ee.component == "" {
		ee.component = detectComponent()
	}
	if ee.Category == "" {
		ee.Category = detectCategory(err)
	}

	reportToTelemetry(ee)
	runErrorHooks(ee)

	return ee
}

// describeContext renders the "error" or "operation" context value as the
// message of an error built without an underlying cause.
func describeContext(ctx map[string]any) string {
	if msg, ok := ctx["error"].(string); ok && msg != "" {
		return msg
	}
	if op, ok := ctx["operation"].(string); ok && op != "" {
		return op + " failed"
	}
	return "unspecified error"
}

// Component registry for dynamic component detection
var (
	componentRegistry = make(map[string]string)
	registryMutex     sync.RWMutex
)

// RegisterComponent registers a package path pattern with a component name
func RegisterComponent(packagePattern, componentName string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	componentRegistry[packagePattern] = componentName
}

func init() {
	RegisterComponent("acquisition", "acquisition")
	RegisterComponent("recorder", "recorder")
	RegisterComponent("sources/malgo", "source.malgo")
	RegisterComponent("sources/synthetic", "source.synthetic")
	RegisterComponent("sinks", "sinks")
	RegisterComponent("catalog", "catalog")
	RegisterComponent("archive", "archive")
	RegisterComponent("notification", "notification")
	RegisterComponent("export", "export")
	RegisterComponent("hello", "hello")
	RegisterComponent("conf", "configuration")
	RegisterComponent("api", "api")
}

// detectComponent walks the call stack and returns the first registered component
func detectComponent() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, "/internal/errors.") {
			if component := lookupComponent(frame.Function); component != "" {
				return component
			}
		}
		if !more {
			break
		}
	}
	return ComponentUnknown
}

// lookupComponent matches a fully qualified function name against the registry
func lookupComponent(funcName string) string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	best := ""
	bestLen := 0
	for pattern, component := range componentRegistry {
		if strings.Contains(funcName, "/internal/"+pattern+".") && len(pattern) > bestLen {
			best = component
			bestLen = len(pattern)
		}
	}
	return best
}

// detectCategory guesses a category from the error text
func detectCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "no space left"):
		return CategoryFileIO
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "no route to host"):
		return CategoryNetwork
	case strings.Contains(msg, "database"), strings.Contains(msg, "sql"):
		return CategoryDatabase
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return CategoryValidation
	default:
		return CategoryGeneric
	}
}

func getFileExtension(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return "none"
	}
	return strings.ToLower(path[idx+1:])
}

// ErrorHook receives every error built while reporting is active
type ErrorHook func(ee *EnhancedError)

var (
	hooksMu            sync.RWMutex
	errorHooks         []ErrorHook
	hasActiveReporting atomic.Bool
)

// AddErrorHook registers a hook that is called for each built error
func AddErrorHook(hook ErrorHook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	errorHooks = append(errorHooks, hook)
	updateActiveReporting()
}

// ClearErrorHooks removes all registered hooks
func ClearErrorHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	errorHooks = nil
	updateActiveReporting()
}

func runErrorHooks(ee *EnhancedError) {
	hooksMu.RLock()
	hooks := make([]ErrorHook, len(errorHooks))
	copy(hooks, errorHooks)
	hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}
}

// updateActiveReporting must be called with hooksMu held
func updateActiveReporting() {
	reporter := GetTelemetryReporter()
	hasActiveReporting.Store(len(errorHooks) > 0 || (reporter != nil && reporter.IsEnabled()))
}

// Convenience functions for common error patterns

// ValidationError creates a validation error
func ValidationError(message string) *EnhancedError {
	return New(NewStd(message)).
		Category(CategoryValidation).
		Build()
}

// Standard library passthrough functions

// NewStd creates a new standard error (passthrough to standard library)
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}
