// Package errors provides the typed failures returned by the query pipeline
// and their mapping onto BPMN errors for job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Pipeline errors
const (
	ErrCodeInvalidQuery              ErrorCode = "INVALID_QUERY"
	ErrCodeClassificationUnavailable ErrorCode = "CLASSIFICATION_UNAVAILABLE"
	ErrCodeStructuredDataUnavailable ErrorCode = "STRUCTURED_DATA_UNAVAILABLE"
	ErrCodeSemanticIndexUnavailable  ErrorCode = "SEMANTIC_INDEX_UNAVAILABLE"
	ErrCodeInsufficientEvidence      ErrorCode = "INSUFFICIENT_EVIDENCE"
	ErrCodeCacheInconsistency        ErrorCode = "CACHE_INCONSISTENCY"
	ErrCodeResponderFailed           ErrorCode = "RESPONDER_FAILED"
	ErrCodeVisualizerUnavailable     ErrorCode = "VISUALIZER_UNAVAILABLE"
	ErrCodeChartValidationFailed     ErrorCode = "CHART_VALIDATION_FAILED"
	ErrCodeQueryCancelled            ErrorCode = "QUERY_CANCELLED"
	ErrCodeInvalidJobInput           ErrorCode = "INVALID_JOB_INPUT"
	ErrCodeNotificationPublishFailed ErrorCode = "NOTIFICATION_PUBLISH_FAILED"
	ErrCodeInternal                  ErrorCode = "INTERNAL_ERROR"
)

// StandardError is the typed failure surfaced at the pipeline boundary.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches any StandardError carrying the same code, so sentinel values
// such as ErrClassificationUnavailable work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns a copy carrying an extra metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	out := *e
	out.Metadata = make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[key] = value
	return &out
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidQuery              = &StandardError{Code: ErrCodeInvalidQuery}
	ErrClassificationUnavailable = &StandardError{Code: ErrCodeClassificationUnavailable}
	ErrStructuredDataUnavailable = &StandardError{Code: ErrCodeStructuredDataUnavailable}
	ErrSemanticIndexUnavailable  = &StandardError{Code: ErrCodeSemanticIndexUnavailable}
	ErrCacheInconsistency        = &StandardError{Code: ErrCodeCacheInconsistency}
	ErrResponderFailed           = &StandardError{Code: ErrCodeResponderFailed}
	ErrVisualizerUnavailable     = &StandardError{Code: ErrCodeVisualizerUnavailable}
	ErrChartValidationFailed     = &StandardError{Code: ErrCodeChartValidationFailed}
	ErrQueryCancelled            = &StandardError{Code: ErrCodeQueryCancelled}
)

// BPMNError is the shape thrown into a process instance.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

func NewInvalidQueryError(details string) *StandardError {
	e := newError(ErrCodeInvalidQuery, "Query rejected", nil, false)
	e.Details = details
	return e
}

// NewClassificationUnavailableError is a degraded-service failure. It is
// retryable at the caller but the router itself never retries more than once.
func NewClassificationUnavailableError(cause error) *StandardError {
	return newError(ErrCodeClassificationUnavailable, "Intent classification unavailable", cause, true)
}

func NewStructuredDataUnavailableError(table string, cause error) *StandardError {
	return newError(ErrCodeStructuredDataUnavailable, "Structured data unavailable", cause, true).
		WithMetadata("table", table)
}

func NewSemanticIndexUnavailableError(collection string, cause error) *StandardError {
	return newError(ErrCodeSemanticIndexUnavailable, "Semantic index unavailable", cause, true).
		WithMetadata("collection", collection)
}

func NewCacheInconsistencyError(fingerprint, cached, current string) *StandardError {
	e := newError(ErrCodeCacheInconsistency, "Cached entry has stale data version", nil, false)
	e.Details = fmt.Sprintf("fingerprint: %s, cachedVersion: %s, currentVersion: %s", fingerprint, cached, current)
	return e
}

func NewResponderFailedError(intent string, cause error) *StandardError {
	return newError(ErrCodeResponderFailed, "Responder failed", cause, false).
		WithMetadata("intent", intent)
}

func NewVisualizerUnavailableError(cause error) *StandardError {
	return newError(ErrCodeVisualizerUnavailable, "Chart rendering unavailable", cause, true)
}

func NewChartValidationFailedError(details string) *StandardError {
	e := newError(ErrCodeChartValidationFailed, "Chart specification failed validation", nil, false)
	e.Details = details
	return e
}

func NewQueryCancelledError(cause error) *StandardError {
	return newError(ErrCodeQueryCancelled, "Query cancelled", cause, false)
}

func NewInvalidJobInputError(details string) *StandardError {
	e := newError(ErrCodeInvalidJobInput, "Job input validation failed", nil, false)
	e.Details = details
	return e
}

func NewNotificationPublishFailedError(cause error) *StandardError {
	return newError(ErrCodeNotificationPublishFailed, "Notification publish failed", cause, true)
}

func NewInternalError(cause error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", cause, false)
}

// CodeOf extracts the code of the first StandardError in err's chain.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// AsStandard returns err's StandardError, wrapping foreign errors as
// INTERNAL_ERROR.
func AsStandard(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidQuery:              "INVALID_QUERY",
	ErrCodeClassificationUnavailable: "CLASSIFICATION_UNAVAILABLE",
	ErrCodeStructuredDataUnavailable: "STRUCTURED_DATA_UNAVAILABLE",
	ErrCodeResponderFailed:           "ANSWER_GENERATION_FAILED",
	ErrCodeQueryCancelled:            "QUERY_CANCELLED",
	ErrCodeInvalidJobInput:           "INVALID_JOB_INPUT",
}

// GetRetryCount is the number of job retries granted per code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStructuredDataUnavailable,
		ErrCodeNotificationPublishFailed:
		return 3

	case ErrCodeVisualizerUnavailable,
		ErrCodeSemanticIndexUnavailable:
		return 2

	case ErrCodeClassificationUnavailable:
		return 1

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CLASSIFICATION"):
		return "CLASSIFICATION"
	case strings.Contains(codeStr, "STRUCTURED"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEMANTIC"):
		return "SEARCH"
	case strings.Contains(codeStr, "CACHE"):
		return "CACHE"
	case strings.Contains(codeStr, "VISUALIZER") || strings.Contains(codeStr, "CHART"):
		return "VISUALIZATION"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
