package errors

import "fmt"

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	ErrCodeDatabaseQuery ErrorCode = "DATABASE_QUERY"

	ErrCodeGatewayAPI   ErrorCode = "GATEWAY_API"
	ErrCodeMediaRehost  ErrorCode = "MEDIA_REHOST"
	ErrCodeDispatch     ErrorCode = "DISPATCH"

	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeAuthorization ErrorCode = "AUTHORIZATION"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured application error with an optional user-facing
// message safe to relay to a contact.
type AppError struct {
	Code        ErrorCode
	Message     string
	Cause       error
	UserMessage string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithUserMessage sets a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and context message
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	if appErr, ok := err.(*AppError); ok && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return "Something went wrong. Please try again."
}
