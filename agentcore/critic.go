package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/agentflow/bus"
	"github.com/BaSui01/agentflow/llm/tokenizer"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// criticKeywords are the substrings CanHandle checks a task's description
// against, matching the capability-matching-is-substring-based design note.
var criticKeywords = []string{"evaluate", "review", "critique"}

// CriticReview is the structured verdict a Critic's ProcessTask extracts from
// the model's response. QualityScore is on a 0..100 scale.
type CriticReview struct {
	QualityScore float64  `json:"quality_score"`
	Accuracy     float64  `json:"accuracy"`
	Coherence    float64  `json:"coherence"`
	Suggestions  []string `json:"suggestions"`
}

// Critic is a specialized agent that evaluates another agent's output rather
// than producing its own task output. It overrides CanHandle and ProcessTask;
// every other Agent method is inherited from BaseAgent.
type Critic struct {
	*BaseAgent
	maxPromptTokens int
	approvalIssuer  *ApprovalIssuer
}

// CriticOption configures optional Critic collaborators.
type CriticOption func(*Critic)

// WithApprovalIssuer attaches the issuer Approve signs ApprovalResponse
// envelopes with. Omitted, Approve returns unsigned (empty-token) responses.
func WithApprovalIssuer(issuer *ApprovalIssuer) CriticOption {
	return func(c *Critic) { c.approvalIssuer = issuer }
}

// NewCritic builds a Critic. maxPromptTokens bounds the prompt sent to the
// model; a prompt whose token count would exceed it is rejected before the
// call is made rather than truncated silently.
func NewCritic(cfg types.AgentConfig, aiCompletion AICompletion, messageBus *bus.Bus, logger *zap.Logger, maxPromptTokens int, opts ...CriticOption) *Critic {
	c := &Critic{
		BaseAgent:       NewBaseAgent(cfg, types.KindCritic, aiCompletion, messageBus, logger),
		maxPromptTokens: maxPromptTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Approve asks the model whether operation should be approved and returns the
// decision as a (signed, when an ApprovalIssuer is configured) ApprovalResponse
// envelope — the Critic half of the Governor/Critic approval flow
// SPEC_FULL.md's domain stack describes: ProcessTask evaluates a task's
// output, Approve evaluates a proposed operation instead.
func (c *Critic) Approve(ctx context.Context, operation string) (types.AgentMessage, error) {
	prompt := fmt.Sprintf(
		"Decide whether to approve the following operation. Respond with a JSON "+
			"object containing approved (boolean) and reason (string).\n\nOperation: %s",
		operation,
	)

	response, err := c.QueryAI(ctx, prompt)
	if err != nil {
		return types.AgentMessage{}, err
	}

	decision, parseErr := parseApprovalDecision(response)
	if parseErr != nil {
		return types.AgentMessage{}, types.NewTaskExecutionFailed(parseErr.Error())
	}

	return c.approvalIssuer.Issue(decision.Approved, decision.Reason)
}

// Capabilities reports the Critic's evaluation capability tags.
func (c *Critic) Capabilities() []string {
	return []string{"evaluate", "review", "critique"}
}

// CanHandle reports whether task's description contains one of the Critic's
// keywords, case-insensitively.
func (c *Critic) CanHandle(task types.Task) bool {
	lower := strings.ToLower(task.Description)
	for _, kw := range criticKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ProcessTask asks the model to evaluate task.Context.UserInstruction as the
// artifact under review, parses a CriticReview out of the response, and
// returns it as TaskResult.Metadata. A prompt that would exceed
// maxPromptTokens is rejected before any call is made.
func (c *Critic) ProcessTask(ctx context.Context, task types.Task) (types.TaskResult, error) {
	prompt := fmt.Sprintf(
		"Evaluate the following work and respond with a JSON object containing "+
			"quality_score (0-100), accuracy, coherence (each 0.0-1.0) and a suggestions array.\n\n"+
			"Task: %s\n\nWork under review:\n%s",
		task.Description, task.Context.UserInstruction,
	)

	if c.maxPromptTokens > 0 {
		tok, err := tokenizer.NewTiktokenTokenizer(c.Config().Model)
		if err == nil {
			if count, err := tok.CountTokens(prompt); err == nil && count > c.maxPromptTokens {
				return types.TaskResult{}, types.NewInvalidConfig(
					fmt.Sprintf("evaluation prompt has %d tokens, exceeds budget of %d", count, c.maxPromptTokens))
			}
		}
	}

	response, err := c.QueryAI(ctx, prompt)
	if err != nil {
		return types.TaskResult{}, err
	}

	review, parseErr := parseCriticReview(response)
	if parseErr != nil {
		return types.TaskResult{}, types.NewTaskExecutionFailed(parseErr.Error())
	}

	return types.TaskResult{
		Success: true,
		Output:  response,
		Metadata: map[string]any{
			"task_id":       string(task.ID),
			"agent_id":      string(c.Config().AgentID),
			"quality_score": review.QualityScore,
			"accuracy":      review.Accuracy,
			"coherence":     review.Coherence,
			"suggestions":   review.Suggestions,
		},
	}, nil
}

// parseCriticReview extracts the JSON object the model was asked to produce,
// tolerating surrounding prose by scanning for the first '{'...last '}' span,
// and validates that quality_score falls within the mandated 0..100 range.
func parseCriticReview(response string) (CriticReview, error) {
	start := strings.IndexByte(response, '{')
	end := strings.LastIndexByte(response, '}')
	if start < 0 || end < start {
		return CriticReview{}, fmt.Errorf("no JSON object found in response")
	}

	var review CriticReview
	if err := json.Unmarshal([]byte(response[start:end+1]), &review); err != nil {
		return CriticReview{}, fmt.Errorf("parse critic review: %w", err)
	}
	if review.QualityScore < 0 || review.QualityScore > 100 {
		return CriticReview{}, fmt.Errorf("quality_score %v out of range 0..100", review.QualityScore)
	}
	return review, nil
}
