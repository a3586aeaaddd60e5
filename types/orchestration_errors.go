package types

// Orchestration error codes. These extend the ErrorCode space declared in
// error.go with the tagged taxonomy the orchestration core returns. AgentBusy
// reuses the existing ErrAgentBusy code rather than mint a duplicate.
const (
	ErrTaskExecutionFailed  ErrorCode = "TASK_EXECUTION_FAILED"
	ErrMessageHandlingFail  ErrorCode = "MESSAGE_HANDLING_FAILED"
	ErrNotInitialized       ErrorCode = "NOT_INITIALIZED"
	ErrInvalidConfig        ErrorCode = "INVALID_CONFIG"
	ErrAIProviderFailure    ErrorCode = "AI_PROVIDER"
	ErrMemoryFailure        ErrorCode = "MEMORY"
	ErrApprovalDenied       ErrorCode = "APPROVAL_DENIED"
	ErrSerializationFailure ErrorCode = "SERIALIZATION"
	ErrIoFailure            ErrorCode = "IO"
	ErrDuplicateAgent       ErrorCode = "DUPLICATE_AGENT"
	ErrNoAvailableAgent     ErrorCode = "NO_AVAILABLE_AGENT"
)

// NewTaskExecutionFailed builds the error an agent's process_task returns on
// failure; the registry reflects it into the agent's AgentStatus.
func NewTaskExecutionFailed(message string) *Error {
	return NewError(ErrTaskExecutionFailed, message)
}

// NewMessageHandlingFailed builds the error a handle_message rejection returns;
// broadcast continues past it.
func NewMessageHandlingFailed(message string) *Error {
	return NewError(ErrMessageHandlingFail, message)
}

// NewNotInitialized builds the error returned when an agent is used before
// initialize.
func NewNotInitialized() *Error {
	return NewError(ErrNotInitialized, "agent not initialized")
}

// NewAgentBusy builds the error returned when a second task is assigned to an
// already-Busy agent, reusing the framework-wide AGENT_BUSY code.
func NewAgentBusy(message string) *Error {
	return NewError(ErrAgentBusy, message)
}

// NewInvalidConfig builds the error returned for a malformed AgentConfig.
func NewInvalidConfig(message string) *Error {
	return NewError(ErrInvalidConfig, message)
}

// NewDuplicateAgent builds the error returned when register_agent is called
// with an id already present in the table.
func NewDuplicateAgent(id AgentID) *Error {
	return NewError(ErrDuplicateAgent, "agent "+string(id)+" already registered")
}

// NewNoAvailableAgent builds the error returned when no idle, capable agent
// exists for a task.
func NewNoAvailableAgent(message string) *Error {
	return NewError(ErrNoAvailableAgent, message)
}

// NewAIProviderError builds a retryable upstream-LLM error.
func NewAIProviderError(message string, cause error) *Error {
	return NewError(ErrAIProviderFailure, message).WithCause(cause).WithRetryable(true)
}

// NewMemoryError builds a vault read/write error. retryable distinguishes
// transient storage failures (true) from decryption failures (false, permanent).
func NewMemoryError(message string, cause error, retryable bool) *Error {
	return NewError(ErrMemoryFailure, message).WithCause(cause).WithRetryable(retryable)
}

// NewApprovalDenied builds the error a governor/critic rejection returns.
func NewApprovalDenied(message string) *Error {
	return NewError(ErrApprovalDenied, message)
}

// NewSerializationError wraps a marshal/unmarshal failure.
func NewSerializationError(cause error) *Error {
	return NewError(ErrSerializationFailure, cause.Error()).WithCause(cause)
}

// NewIoError wraps a transport/filesystem failure.
func NewIoError(cause error) *Error {
	return NewError(ErrIoFailure, cause.Error()).WithCause(cause)
}
