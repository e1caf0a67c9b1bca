package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: store write conflicts, agent busy, no candidates this pass.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, resource not found, cancelled task.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or contention.
	// Examples: rate limiting, no drone with enough battery.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Service temporarily unavailable
	ErrCodeRetryLater  ErrorCode = "RETRY_LATER" // Caller should retry later

	// Permanent errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"      // Resource does not exist
	ErrCodeConflict      ErrorCode = "CONFLICT"       // Conflicting operation or state
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"  // Malformed or invalid input
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // Resource already exists
	ErrCodePrecondition  ErrorCode = "PRECONDITION"   // Precondition not met
	ErrCodeUnsupported   ErrorCode = "UNSUPPORTED"    // Operation not supported
	ErrCodeCanceled      ErrorCode = "CANCELED"       // Operation was canceled

	// Resource errors
	ErrCodeRateLimit    ErrorCode = "RATE_LIMITED"  // Rate limit exceeded
	ErrCodeResourceBusy ErrorCode = "RESOURCE_BUSY" // Resource is busy/locked

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic

	// Fleet coordination errors
	ErrCodeAgentOffline      ErrorCode = "AGENT_OFFLINE"      // Target agent is offline
	ErrCodeAgentBusy         ErrorCode = "AGENT_BUSY"         // Agent is processing another task
	ErrCodeTaskFailed        ErrorCode = "TASK_FAILED"        // Task execution failed
	ErrCodeCoordination      ErrorCode = "COORDINATION"       // Coordination failure
	ErrCodeNoCandidates      ErrorCode = "NO_CANDIDATES"      // No agent qualified for the task
	ErrCodeDroneUnavailable  ErrorCode = "DRONE_UNAVAILABLE"  // No drone fit to fly
	ErrCodeCapabilityMissing ErrorCode = "CAPABILITY_MISSING" // Required capability not available
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	// Transient
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeRetryLater:
		return CategoryTransient

	// Permanent
	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput,
		ErrCodeAlreadyExists, ErrCodePrecondition, ErrCodeUnsupported,
		ErrCodeCanceled:
		return CategoryPermanent

	// Resource
	case ErrCodeRateLimit, ErrCodeResourceBusy, ErrCodeDroneUnavailable:
		return CategoryResource

	// Internal
	case ErrCodeInternal, ErrCodePanic:
		return CategoryInternal

	// Fleet coordination (varies)
	case ErrCodeAgentOffline, ErrCodeAgentBusy, ErrCodeCoordination, ErrCodeNoCandidates:
		return CategoryTransient
	case ErrCodeTaskFailed, ErrCodeCapabilityMissing:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:           "operation timed out",
	ErrCodeUnavailable:       "service temporarily unavailable",
	ErrCodeRetryLater:        "retry later",
	ErrCodeNotFound:          "resource not found",
	ErrCodeConflict:          "conflicting operation",
	ErrCodeInvalidInput:      "invalid input provided",
	ErrCodeAlreadyExists:     "resource already exists",
	ErrCodePrecondition:      "precondition failed",
	ErrCodeUnsupported:       "operation not supported",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeRateLimit:         "rate limit exceeded",
	ErrCodeResourceBusy:      "resource is busy",
	ErrCodeInternal:          "internal error",
	ErrCodePanic:             "recovered from panic",
	ErrCodeAgentOffline:      "agent is offline",
	ErrCodeAgentBusy:         "agent is busy",
	ErrCodeTaskFailed:        "task execution failed",
	ErrCodeCoordination:      "coordination failure",
	ErrCodeNoCandidates:      "no candidate agents for task",
	ErrCodeDroneUnavailable:  "no drone available",
	ErrCodeCapabilityMissing: "required capability missing",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
