// Package errors wraps failures with a component, a category and context values, and
// hands them to the telemetry reporter when one is installed.
//
//	return errors.New(err).
//		Component("retrain").
//		Category(errors.CategoryTraining).
//		Collection(collectionID).
//		Species(sp).
//		Build()
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ComponentUnknown is the component of errors built outside reid packages
const ComponentUnknown = "unknown"

const modulePrefix = "github.com/tphakala/wildlife-reid/internal/"

// EnhancedError is an error with reid metadata. Build it with New or Newf.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Timestamp time.Time

	component string
	context   map[string]any
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is treats two enhanced errors of the same category as equal
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return false
}

// ErrorCategory implements CategorizedError, so rewrapping keeps the category
func (ee *EnhancedError) ErrorCategory() ErrorCategory { return ee.Category }

// GetComponent returns the package the error was built in, or the explicit component
func (ee *EnhancedError) GetComponent() string { return ee.component }

// GetContext returns a copy of the context values
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.context == nil {
		return nil
	}
	return maps.Clone(ee.context)
}

// MarkReported records that telemetry has seen the error
func (ee *EnhancedError) MarkReported() { ee.reported.Store(true) }

// IsReported reports whether telemetry has seen the error
func (ee *EnhancedError) IsReported() bool { return ee.reported.Load() }

// ErrorBuilder assembles an EnhancedError
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an error around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts an error from a format string; %w wraps as in fmt.Errorf
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the package or subsystem. Left unset it is read from the call stack.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the category. Left unset it is inherited from the wrapped error.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context attaches a value
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any, 4)
	}
	eb.context[key] = value
	return eb
}

// Collection attaches the collection id
func (eb *ErrorBuilder) Collection(id string) *ErrorBuilder {
	return eb.Context("collection_id", id)
}

// Species attaches the species name
func (eb *ErrorBuilder) Species(name string) *ErrorBuilder {
	return eb.Context("species", name)
}

// Op attaches the operation name used in telemetry titles, e.g. "fit_classifier"
func (eb *ErrorBuilder) Op(name string) *ErrorBuilder {
	return eb.Context("operation", name)
}

// Model attaches the base name of a model or artifact file
func (eb *ErrorBuilder) Model(path string) *ErrorBuilder {
	return eb.Context("model_file", path[strings.LastIndexAny(path, `/\`)+1:])
}

// Timing attaches the operation and how long it ran before failing
func (eb *ErrorBuilder) Timing(op string, elapsed time.Duration) *ErrorBuilder {
	return eb.Op(op).Context("duration_ms", elapsed.Milliseconds())
}

// Build finishes the error and reports it when telemetry is on
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.err == nil {
		eb.err = stderrors.New("unspecified error")
	}
	reporting := hasActiveReporting.Load()

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Timestamp: time.Now(),
		component: eb.component,
		context:   eb.context,
	}
	if ee.Category == "" {
		ee.Category = inheritedCategory(eb.err)
		if ee.Category == CategoryGeneric && reporting {
			ee.Category = categoryFromMessage(eb.err.Error())
		}
	}
	if ee.component == "" {
		ee.component = ComponentUnknown
		if reporting {
			ee.component = callerComponent()
		}
	}

	if reporting {
		reportToTelemetry(ee)
	}
	return ee
}

// callerComponent returns the first reid package on the stack outside this one
func callerComponent() string {
	pcs := make([]uintptr, 16)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if c := componentFromFunc(frame.Function); c != "" {
			return c
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// componentFromFunc maps ".../internal/observability/metrics.New" to "observability.metrics"
func componentFromFunc(funcName string) string {
	_, rest, ok := strings.Cut(funcName, modulePrefix)
	if !ok || strings.HasPrefix(rest, "errors.") {
		return ""
	}
	pkg, _, _ := strings.Cut(rest, ".")
	return strings.ReplaceAll(pkg, "/", ".")
}

// NewStd is errors.New of the standard library, for sentinels
func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Unwrap(err error) error { return stderrors.Unwrap(err) }
func Join(errs ...error) error { return stderrors.Join(errs...) }
