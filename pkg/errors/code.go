package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission errors
// 13100-13199: Judge errors
// 13200-13299: Sandbox & fixture errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission Errors (13000-13099) ==========

	SubmissionNotFound   ErrorCode = 13000
	SubmissionEnqueue    ErrorCode = 13001
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	SubmissionJudging    ErrorCode = 13004

	// ========== Judge Errors (13100-13199) ==========

	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
	CompilationError ErrorCode = 13102
	CallbackFailed   ErrorCode = 13103
	CallbackToken    ErrorCode = 13104
	PublishFailed    ErrorCode = 13105

	// ========== Sandbox & Fixture Errors (13200-13299) ==========

	SandboxError        ErrorCode = 13200
	SandboxUnavailable  ErrorCode = 13201
	FixtureNotFound     ErrorCode = 13202
	FixtureInvalid      ErrorCode = 13203
	FixtureSyncFailed   ErrorCode = 13204
	StorageError        ErrorCode = 13205
	StorageObjectAbsent ErrorCode = 13206
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",

	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	SubmissionNotFound:   "Submission not found",
	SubmissionEnqueue:    "Failed to enqueue submission",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	SubmissionJudging:    "Submission is being judged",

	JudgeQueueFull:   "Judge queue is full, please try again later",
	JudgeSystemError: "Judge system error",
	CompilationError: "Compilation error",
	CallbackFailed:   "Callback delivery failed",
	CallbackToken:    "Invalid callback token",
	PublishFailed:    "Failed to publish status event",

	SandboxError:        "Sandbox execution failed",
	SandboxUnavailable:  "Sandbox backend unavailable",
	FixtureNotFound:     "Test fixtures not found",
	FixtureInvalid:      "Test fixtures are invalid",
	FixtureSyncFailed:   "Failed to sync test fixtures",
	StorageError:        "Object storage operation failed",
	StorageObjectAbsent: "Object not found in storage",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == Unauthorized, c == CallbackToken:
		return http.StatusUnauthorized
	case c == NotFound, c == SubmissionNotFound, c == RecordNotFound:
		return http.StatusNotFound
	case c == SubmissionJudging:
		return http.StatusConflict
	case c == TooManyRequests, c == JudgeQueueFull:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == SandboxUnavailable:
		return http.StatusServiceUnavailable
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
