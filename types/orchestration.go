package types

import "strings"

// AgentID identifies an agent uniquely within a process. Caller-supplied, opaque,
// compared byte-exact.
type AgentID string

// TaskID identifies a task uniquely within a process. Caller-supplied.
type TaskID string

// WorkspaceID scopes memory and agent configuration to an isolation boundary.
type WorkspaceID string

// MemoryID identifies a memory vault entry. Minted by the vault when the caller
// supplies none (see vault.Put).
type MemoryID string

// AgentKind is the immutable role an agent was registered under.
type AgentKind string

const (
	KindDirector   AgentKind = "director"
	KindResearcher AgentKind = "researcher"
	KindExecutor   AgentKind = "executor"
	KindCreator    AgentKind = "creator"
	KindDesigner   AgentKind = "designer"
	KindDeveloper  AgentKind = "developer"
	KindAnalyst    AgentKind = "analyst"
	KindCritic     AgentKind = "critic"
	KindGovernor   AgentKind = "governor"
)

// AgentState is the coarse lifecycle state of AgentStatus.
type AgentState string

const (
	StateIdle  AgentState = "idle"
	StateBusy  AgentState = "busy"
	StateError AgentState = "error"
)

// AgentStatus is a tagged variant: Idle | Busy | Error(message). Message is only
// meaningful when State == StateError.
type AgentStatus struct {
	State   AgentState `json:"state"`
	Message string     `json:"message,omitempty"`
}

func StatusIdle() AgentStatus  { return AgentStatus{State: StateIdle} }
func StatusBusy() AgentStatus  { return AgentStatus{State: StateBusy} }
func StatusErrorf(message string) AgentStatus {
	return AgentStatus{State: StateError, Message: message}
}

func (s AgentStatus) IsIdle() bool  { return s.State == StateIdle }
func (s AgentStatus) IsBusy() bool  { return s.State == StateBusy }
func (s AgentStatus) IsError() bool { return s.State == StateError }

func (s AgentStatus) String() string {
	if s.State == StateError && s.Message != "" {
		return string(StateError) + ": " + s.Message
	}
	return string(s.State)
}

// AgentInfo is a point-in-time projection of an agent's identity and status.
type AgentInfo struct {
	ID          AgentID     `json:"id"`
	Name        string      `json:"name"`
	Kind        AgentKind   `json:"kind"`
	Status      AgentStatus `json:"status"`
	CurrentTask *TaskID     `json:"current_task,omitempty"`
}

// AgentConfig is supplied at registration and is immutable after initialization
// except by explicit re-init.
type AgentConfig struct {
	AgentID      AgentID        `json:"agent_id"`
	WorkspaceID  WorkspaceID    `json:"workspace_id"`
	AIProvider   string         `json:"ai_provider"`
	Model        string         `json:"model"`
	Settings     map[string]any `json:"settings,omitempty"`
}

// TaskPriority is totally ordered: Low < Medium < High < Critical.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TaskContext carries the grounding a task was created with.
type TaskContext struct {
	WorkspaceID     WorkspaceID    `json:"workspace_id"`
	UserInstruction string         `json:"user_instruction"`
	RelevantFiles   []string       `json:"relevant_files,omitempty"`
	MemoryContext   []MemoryEntry  `json:"memory_context,omitempty"`
}

// Task is immutable once created.
type Task struct {
	ID           TaskID       `json:"id"`
	Description  string       `json:"description"`
	Priority     TaskPriority `json:"priority"`
	Dependencies []TaskID     `json:"dependencies,omitempty"`
	Context      TaskContext  `json:"context"`
}

// TaskResult is immutable once produced.
type TaskResult struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output"`
	Errors   []string       `json:"errors,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemorySensitivity classifies the confidentiality of a MemoryEntry.
type MemorySensitivity string

const (
	SensitivityPublic       MemorySensitivity = "public"
	SensitivityInternal     MemorySensitivity = "internal"
	SensitivityConfidential MemorySensitivity = "confidential"
)

// SensitivityFromDB tolerates unknown/legacy values by defaulting to Internal,
// matching the original vault's decode behavior.
func SensitivityFromDB(value string) MemorySensitivity {
	switch strings.ToLower(value) {
	case string(SensitivityPublic):
		return SensitivityPublic
	case string(SensitivityConfidential):
		return SensitivityConfidential
	default:
		return SensitivityInternal
	}
}

// MemoryEntry is the decrypted, in-process view of a vault row. Content is
// plaintext only within the process; on disk every field below content/tags/
// metadata is ciphertext (see vault package).
type MemoryEntry struct {
	ID                MemoryID          `json:"id"`
	WorkspaceID       WorkspaceID       `json:"workspace_id"`
	Content           string            `json:"content"`
	Tags              []string          `json:"tags,omitempty"`
	Source            string            `json:"source"`
	Sensitivity       MemorySensitivity `json:"sensitivity"`
	CreatedAt         int64             `json:"created_at"`
	LastAccessed      int64             `json:"last_accessed"`
	AccessCount       int64             `json:"access_count"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Embedding         []float32         `json:"embedding,omitempty"`
	EmbeddingModel    string            `json:"embedding_model,omitempty"`
	EmbeddingProvider string            `json:"embedding_provider,omitempty"`
	EmbeddingDim      int               `json:"embedding_dim,omitempty"`
}
