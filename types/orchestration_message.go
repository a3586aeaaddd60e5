package types

// MessageKind discriminates the AgentMessage tagged variant carried on the bus.
type MessageKind string

const (
	MsgTaskAssign       MessageKind = "task_assign"
	MsgTaskResult       MessageKind = "task_result"
	MsgQueryMemory      MessageKind = "query_memory"
	MsgMemoryResponse   MessageKind = "memory_response"
	MsgRequestApproval  MessageKind = "request_approval"
	MsgApprovalResponse MessageKind = "approval_response"
)

// AgentMessage is the single envelope type flowing through the Message Bus. Only
// the fields relevant to Kind are populated; this mirrors the original's Rust enum
// without requiring a sum-type library, at the cost of some unused fields per
// variant — the same trade-off the rest of this codebase makes for wire messages.
type AgentMessage struct {
	Kind MessageKind `json:"kind"`

	// MsgTaskAssign
	TaskID TaskID `json:"task_id,omitempty"`
	Task   *Task  `json:"task,omitempty"`

	// MsgTaskResult
	Result *TaskResult `json:"result,omitempty"`

	// MsgQueryMemory
	Query string `json:"query,omitempty"`

	// MsgMemoryResponse
	Entries []MemoryEntry `json:"entries,omitempty"`

	// MsgRequestApproval
	Operation string `json:"operation,omitempty"`

	// MsgApprovalResponse
	Approved      bool   `json:"approved,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ApprovalToken string `json:"approval_token,omitempty"`
}

// NewTaskAssignMessage builds a MsgTaskAssign envelope.
func NewTaskAssignMessage(taskID TaskID, task Task) AgentMessage {
	return AgentMessage{Kind: MsgTaskAssign, TaskID: taskID, Task: &task}
}

// NewTaskResultMessage builds a MsgTaskResult envelope.
func NewTaskResultMessage(taskID TaskID, result TaskResult) AgentMessage {
	return AgentMessage{Kind: MsgTaskResult, TaskID: taskID, Result: &result}
}

// NewQueryMemoryMessage builds a MsgQueryMemory envelope.
func NewQueryMemoryMessage(query string) AgentMessage {
	return AgentMessage{Kind: MsgQueryMemory, Query: query}
}

// NewMemoryResponseMessage builds a MsgMemoryResponse envelope.
func NewMemoryResponseMessage(entries []MemoryEntry) AgentMessage {
	return AgentMessage{Kind: MsgMemoryResponse, Entries: entries}
}

// NewRequestApprovalMessage builds a MsgRequestApproval envelope.
func NewRequestApprovalMessage(operation string) AgentMessage {
	return AgentMessage{Kind: MsgRequestApproval, Operation: operation}
}

// NewApprovalResponseMessage builds a MsgApprovalResponse envelope. token is the
// signed JWT produced by the approval issuer (see agentcore/approval.go); empty
// when the issuer is unconfigured.
func NewApprovalResponseMessage(approved bool, reason, token string) AgentMessage {
	return AgentMessage{Kind: MsgApprovalResponse, Approved: approved, Reason: reason, ApprovalToken: token}
}
