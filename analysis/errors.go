package analysis

import (
	"fmt"
	"net/http"
	"strings"

	"essentia-analysis-api/config"
)

// Error codes reported to clients.
const (
	CodeNoFile          = "NO_FILE"
	CodeNoFilename      = "NO_FILENAME"
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeProcessingError = "PROCESSING_ERROR"
)

// ValidationError rejects a request before any file is staged.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Status maps the validation failure onto an HTTP status.
func (e *ValidationError) Status() int {
	if e.Code == CodeFileTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func ErrNoFile() *ValidationError {
	return &ValidationError{Code: CodeNoFile, Message: "No audio file provided"}
}

func ErrNoFilename() *ValidationError {
	return &ValidationError{Code: CodeNoFilename, Message: "No file selected"}
}

func ErrInvalidFormat() *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidFormat,
		Message: "Unsupported format. Allowed: " + strings.Join(config.AllowedExtensions, ", "),
	}
}

func ErrFileTooLarge() *ValidationError {
	return &ValidationError{Code: CodeFileTooLarge, Message: "File too large"}
}

// ProcessingError is any failure after the upload was accepted.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return e.Stage + " failed"
	}
	return e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func processingError(stage string, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: err}
}

func panicError(stage string, recovered any) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: fmt.Errorf("%s panicked: %v", stage, recovered)}
}
