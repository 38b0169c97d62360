package service

import (
	"errors"
	"sort"
	"strings"
)

// User-facing messages. CRM detail never appears in these.
const (
	MsgConsentRequired    = "Please consent to receive marketing emails"
	MsgTryAgain           = "Something went wrong submitting the form. Please try again."
	MsgInvalidInput       = "Please check the highlighted fields and try again."
	MsgServiceUnavailable = "The form is temporarily unavailable. Please try again later."
)

// ConfigurationError means required CRM credentials are missing.
// It is not retryable without a configuration change.
type ConfigurationError struct {
	Missing []string
	err     error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: missing " + strings.Join(e.Missing, ", ")
}

func (e *ConfigurationError) Unwrap() error { return e.err }

// ConsentError means the visitor did not opt in to marketing email.
type ConsentError struct{}

func (e *ConsentError) Error() string { return "consent required" }

// ValidationError lists invalid form fields, keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return "invalid fields: " + strings.Join(names, ", ")
}

// SubmissionError wraps a network or upstream failure. The wrapped error is
// for logs only.
type SubmissionError struct {
	Kind string
	err  error
}

func (e *SubmissionError) Error() string {
	return "submission failed (" + e.Kind + "): " + e.err.Error()
}

func (e *SubmissionError) Unwrap() error { return e.err }

// NewSubmissionError wraps err as a retryable submission failure.
func NewSubmissionError(kind string, err error) error {
	return &SubmissionError{Kind: kind, err: err}
}

// IsRetryable reports whether the visitor can fix the problem by resubmitting.
func IsRetryable(err error) bool {
	var cfgErr *ConfigurationError
	return err != nil && !errors.As(err, &cfgErr)
}

// UserMessage maps err to the text shown to the visitor.
func UserMessage(err error) string {
	var (
		cfgErr     *ConfigurationError
		consentErr *ConsentError
		validErr   *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &consentErr):
		return MsgConsentRequired
	case errors.As(err, &validErr):
		return MsgInvalidInput
	case errors.As(err, &cfgErr):
		return MsgServiceUnavailable
	default:
		return MsgTryAgain
	}
}

// ErrorKind is a short stable label for logs, metrics, and the audit log.
func ErrorKind(err error) string {
	var (
		cfgErr     *ConfigurationError
		consentErr *ConsentError
		validErr   *ValidationError
		subErr     *SubmissionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &consentErr):
		return "consent"
	case errors.As(err, &validErr):
		return "validation"
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &subErr):
		return subErr.Kind
	default:
		return "unknown"
	}
}
