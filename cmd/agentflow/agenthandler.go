package main

import (
	"encoding/json"
	"net/http"

	"github.com/BaSui01/agentflow/orchestrator"
	"github.com/BaSui01/agentflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// agentHandler exposes the Registry's register_agent/list_agents/assign_task
// operations over HTTP. It is the thin transport layer over orchestrator.Registry
// that SPEC_FULL.md's §4.6 surface names but the original handlers package never
// implemented (its stub only covered health checks).
type agentHandler struct {
	registry *orchestrator.Registry
	logger   *zap.Logger
}

func newAgentHandler(registry *orchestrator.Registry, logger *zap.Logger) *agentHandler {
	return &agentHandler{registry: registry, logger: logger}
}

func (h *agentHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *agentHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleListAgents responds with every registered agent's info and the
// registry-wide statistics.
func (h *agentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"agents":     h.registry.ListAgents(),
		"statistics": h.registry.GetStatistics(),
	})
}

type executeTaskRequest struct {
	Description     string `json:"description"`
	UserInstruction string `json:"user_instruction"`
	WorkspaceID     string `json:"workspace_id"`
	Priority        int    `json:"priority"`
}

// HandleExecuteAgent assigns a new task to whichever registered agent the
// Task Manager selects and returns the assignee id; the task itself runs
// asynchronously, matching orchestrator.Registry.AssignTask's contract.
func (h *agentHandler) HandleExecuteAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}

	var req executeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Description == "" {
		h.writeError(w, http.StatusBadRequest, errMissingDescription)
		return
	}

	task := types.Task{
		ID:          types.TaskID(uuid.NewString()),
		Description: req.Description,
		Priority:    types.TaskPriority(req.Priority),
		Context: types.TaskContext{
			WorkspaceID:     types.WorkspaceID(req.WorkspaceID),
			UserInstruction: req.UserInstruction,
		},
	}

	agentID, err := h.registry.AssignTask(r.Context(), task)
	if err != nil {
		h.writeError(w, http.StatusConflict, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id":  string(task.ID),
		"agent_id": string(agentID),
	})
}

var (
	errMethodNotAllowed   = jsonErr("method not allowed")
	errMissingDescription = jsonErr("description is required")
)

type jsonErr string

func (e jsonErr) Error() string { return string(e) }
