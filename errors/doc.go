// Package errors provides a structured error taxonomy for fleet
// coordination in fleetkit. It defines error types, codes, and categories
// that enable consistent retry and escalation decisions across agents.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (store conflicts, busy agents)
//   - Permanent: Failures where retry will not help (invalid input, not found)
//   - Resource: Resource exhaustion (rate limits, no flight-worthy drone)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Error Codes
//
// Each error has a specific code that identifies the type of failure:
//
//   - TIMEOUT: Operation timed out
//   - CONFLICT: Concurrent write lost the revision race
//   - NO_CANDIDATES: No agent qualified for the task this pass
//   - DRONE_UNAVAILABLE: No drone fit to fly
//   - And more...
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.ErrCodeTimeout, "operation timed out")
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "fetching agent state")
//
// Check if an error is retryable:
//
//	if errors.IsRetryable(err) {
//	    // requeue the task
//	}
//
// # JSON Serialization
//
// All errors support JSON serialization for cross-agent communication and
// the agent log sink:
//
//	data, err := json.Marshal(agentErr)
package errors
