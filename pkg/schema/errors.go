package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeConfig            = "CONFIG_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeProvider          = "PROVIDER_ERROR"
	ErrCodeMissingKey        = "MISSING_KEY"
	ErrCodeChildFailure      = "CHILD_FAILURE"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInputRejected     = "INPUT_REJECTED"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
)

// AgenticError is the structured error type for all engine operations. When
// an instance fails, InstanceID, StateKey and ActionIndex identify which
// action produced the failure.
type AgenticError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	InstanceID  string         `json:"instance_id,omitempty"`
	StateKey    string         `json:"state_key,omitempty"`
	ActionIndex int            `json:"action_index,omitempty"`
	Cause       error          `json:"-"`
}

func (e *AgenticError) Error() string {
	if e.StateKey != "" {
		return fmt.Sprintf("[%s] state %s action %d: %s", e.Code, e.StateKey, e.ActionIndex, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AgenticError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AgenticError.
func NewError(code, message string) *AgenticError {
	return &AgenticError{Code: code, Message: message}
}

// NewErrorf creates a new AgenticError with a formatted message.
func NewErrorf(code, format string, args ...any) *AgenticError {
	return &AgenticError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithInstance attaches the owning instance ID.
func (e *AgenticError) WithInstance(id string) *AgenticError {
	e.InstanceID = id
	return e
}

// WithAction attaches the state key and action index that produced the error.
func (e *AgenticError) WithAction(stateKey string, actionIndex int) *AgenticError {
	e.StateKey = stateKey
	e.ActionIndex = actionIndex
	return e
}

// WithCause attaches an underlying cause.
func (e *AgenticError) WithCause(err error) *AgenticError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AgenticError) WithDetails(details map[string]any) *AgenticError {
	e.Details = details
	return e
}
