// Package tools defines the Genkit tools exposed to the reasoning
// agent: corpus retrieval and the Wikipedia fallback.
package tools

// Status indicates the outcome of a tool call.
type Status string

const (
	// StatusSuccess indicates the tool completed normally.
	StatusSuccess Status = "success"
	// StatusError indicates the tool failed; Error holds details.
	StatusError Status = "error"
)

// ErrorCode classifies tool failures for model consumption.
type ErrorCode string

const (
	// ErrCodeValidation indicates invalid tool input.
	ErrCodeValidation ErrorCode = "ValidationError"
	// ErrCodeExecution indicates the underlying operation failed.
	ErrCodeExecution ErrorCode = "ExecutionError"
	// ErrCodeBudget indicates the tool-round budget is exhausted.
	ErrCodeBudget ErrorCode = "BudgetExhausted"
)

// Error is a structured tool error the model can read and react to.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Result is the uniform tool output envelope. Errors are reported in
// the result rather than as Go errors so the model can self-correct.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// errorResult builds an error Result.
func errorResult(code ErrorCode, message string) Result {
	return Result{
		Status: StatusError,
		Error:  &Error{Code: code, Message: message},
	}
}
