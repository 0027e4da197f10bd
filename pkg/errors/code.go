package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Submission module errors
// 12000-12999: Judge & Sandbox errors
// 13000-13999: Problem & Test data errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransitionFailed  ErrorCode = 10102
	TransactionFailed ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Storage errors (10300-10399)
	StorageError      ErrorCode = 10300
	ArtifactNotFound  ErrorCode = 10301
	ArtifactPutFailed ErrorCode = 10302

	// Validation errors (10400-10499)
	ValidationFailed   ErrorCode = 10400
	RequiredFieldEmpty ErrorCode = 10401

	// Queue errors (10500-10599)
	QueueError      ErrorCode = 10500
	QueuePublishErr ErrorCode = 10501
	QueueClosed     ErrorCode = 10502

	// ========== Submission Module Errors (11000-11999) ==========

	SubmissionNotFound     ErrorCode = 11000
	SubmissionCreateFailed ErrorCode = 11001
	CodeTooLarge           ErrorCode = 11002
	LanguageNotSupported   ErrorCode = 11003
	SubmitTooFrequently    ErrorCode = 11004
	SubmissionAccessDenied ErrorCode = 11005
	SubmissionExists       ErrorCode = 11006

	// ========== Judge & Sandbox Errors (12000-12999) ==========

	JudgeQueueFull      ErrorCode = 12000
	JudgeSystemError    ErrorCode = 12001
	SandboxSpawnFailed  ErrorCode = 12002
	SandboxIOFailed     ErrorCode = 12003
	CompilationError    ErrorCode = 12100
	RuntimeError        ErrorCode = 12101
	TimeLimitExceeded   ErrorCode = 12102
	MemoryLimitExceeded ErrorCode = 12103

	// ========== Problem & Test Data Errors (13000-13999) ==========

	ProblemNotFound  ErrorCode = 13000
	TestCaseNotFound ErrorCode = 13100
	TestCaseInvalid  ErrorCode = 13101
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransitionFailed:  "Status transition conflict",
	TransactionFailed: "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Storage
	StorageError:      "Artifact storage operation failed",
	ArtifactNotFound:  "Artifact not found",
	ArtifactPutFailed: "Failed to store artifact",

	// Validation
	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",

	// Queue
	QueueError:      "Queue operation failed",
	QueuePublishErr: "Failed to publish message",
	QueueClosed:     "Queue is closed",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	SubmissionAccessDenied: "You don't have permission to view this submission",
	SubmissionExists:       "Submission already exists",

	// Judge
	JudgeQueueFull:      "Judge queue is full, please try again later",
	JudgeSystemError:    "Judge system error",
	SandboxSpawnFailed:  "Sandbox failed to start the process",
	SandboxIOFailed:     "Sandbox workspace I/O failed",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",

	// Problem
	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case data",
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
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == SubmissionAccessDenied:
		return 403
	case c == NotFound, c == SubmissionNotFound, c == ProblemNotFound, c == TestCaseNotFound, c == ArtifactNotFound:
		return 404
	case c == SubmissionExists:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueFull:
		return 503
	case c >= 10400 && c < 10500:
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}
