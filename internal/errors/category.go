package errors

import "strings"

// ErrorCategory groups errors for HTTP status mapping, metrics labels and telemetry
type ErrorCategory string

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryState         ErrorCategory = "state"
	CategoryConfiguration ErrorCategory = "configuration"

	CategoryFileIO   ErrorCategory = "file-io"
	CategoryNetwork  ErrorCategory = "network"
	CategoryHTTP     ErrorCategory = "http-request"
	CategoryDatabase ErrorCategory = "database"
	CategoryStorage  ErrorCategory = "blob-storage"
	CategorySystem   ErrorCategory = "system-resource"
	CategoryResource ErrorCategory = "resource"

	CategoryModelInit   ErrorCategory = "model-initialization"
	CategoryModelLoad   ErrorCategory = "model-loading"
	CategoryLabelLoad   ErrorCategory = "label-loading"
	CategoryImageDecode ErrorCategory = "image-decode"
	CategoryInference   ErrorCategory = "inference"
	CategoryProcessing  ErrorCategory = "processing"
	CategoryTraining    ErrorCategory = "training"
	CategoryJobQueue    ErrorCategory = "job-queue"
	CategoryRetrain     ErrorCategory = "retrain"

	CategoryTimeout      ErrorCategory = "timeout"
	CategoryCancellation ErrorCategory = "cancellation"
	CategoryRetry        ErrorCategory = "retry"
)

// CategorizedError is implemented by errors that know their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

// messageHints guess a category for uncategorised errors from driver and OS messages.
// Checked in order, first match wins.
var messageHints = []struct {
	category ErrorCategory
	words    []string
}{
	{CategoryModelLoad, []string{"tflite", "interpreter"}},
	{CategoryImageDecode, []string{"image: unknown format", "invalid jpeg", "png:"}},
	{CategoryNotFound, []string{"not found", "no such file"}},
	{CategoryNetwork, []string{"connection", "timeout", "no route to host"}},
	{CategoryDatabase, []string{"sqlite", "mysql", "database is locked"}},
	{CategoryFileIO, []string{"permission denied", "read-only file system", "no space left"}},
}

func categoryFromMessage(msg string) ErrorCategory {
	msg = strings.ToLower(msg)
	for _, hint := range messageHints {
		for _, w := range hint.words {
			if strings.Contains(msg, w) {
				return hint.category
			}
		}
	}
	return CategoryGeneric
}

// inheritedCategory returns the category of the closest categorised error in err's tree
func inheritedCategory(err error) ErrorCategory {
	var c CategorizedError
	if As(err, &c) && c.ErrorCategory() != "" {
		return c.ErrorCategory()
	}
	return CategoryGeneric
}

// IsCategory reports whether err carries category
func IsCategory(err error, category ErrorCategory) bool {
	return CategoryOf(err) == category
}

// CategoryOf returns the category of the outermost EnhancedError in err's tree, or generic
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// IsNotFound is IsCategory(err, CategoryNotFound)
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
