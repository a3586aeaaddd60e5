package agentcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/types"
	"github.com/golang-jwt/jwt/v5"
)

// approvalClaims is the signed payload backing a MsgApprovalResponse's
// ApprovalToken. Approved and Reason travel inside the token itself, not as
// unauthenticated wire fields, so a consumer can verify which agent identity
// actually issued the decision rather than trusting the envelope's plain
// Approved/Reason fields on their own.
type approvalClaims struct {
	jwt.RegisteredClaims
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// ApprovalIssuer signs ApprovalResponse envelopes on behalf of one governing
// agent identity (a Governor or Critic, per SPEC_FULL.md's domain stack). A
// nil *ApprovalIssuer is valid and Issue falls back to an unsigned
// (empty-token) envelope, matching NewApprovalResponseMessage's documented
// "empty when the issuer is unconfigured" contract.
type ApprovalIssuer struct {
	agentID types.AgentID
	secret  []byte
	ttl     time.Duration
}

// NewApprovalIssuer builds an issuer signing as agentID with secret. ttl
// bounds how long the resulting token is valid; a non-positive ttl defaults
// to five minutes.
func NewApprovalIssuer(agentID types.AgentID, secret []byte, ttl time.Duration) *ApprovalIssuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ApprovalIssuer{agentID: agentID, secret: secret, ttl: ttl}
}

// Issue signs an ApprovalResponse envelope carrying approved/reason under i's
// agent identity. Called on a nil *ApprovalIssuer, it returns an unsigned
// envelope instead of panicking, so callers can hold an optional issuer field
// and call Issue unconditionally.
func (i *ApprovalIssuer) Issue(approved bool, reason string) (types.AgentMessage, error) {
	if i == nil {
		return types.NewApprovalResponseMessage(approved, reason, ""), nil
	}
	now := time.Now()
	claims := approvalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    string(i.agentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Approved: approved,
		Reason:   reason,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return types.AgentMessage{}, fmt.Errorf("sign approval token: %w", err)
	}
	return types.NewApprovalResponseMessage(approved, reason, token), nil
}

// VerifyApproval validates that msg's ApprovalToken was signed by
// expectedIssuer under secret, has not expired, and that its signed
// Approved/Reason claims match the envelope's plain fields — catching a
// forwarded envelope whose unauthenticated fields were altered after signing.
// An empty token is rejected: a caller that requires a verified approval must
// not treat "unconfigured issuer" as "approved".
func VerifyApproval(msg types.AgentMessage, secret []byte, expectedIssuer types.AgentID) error {
	if msg.ApprovalToken == "" {
		return errors.New("approval response carries no signed token")
	}

	var claims approvalClaims
	token, err := jwt.ParseWithClaims(msg.ApprovalToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(string(expectedIssuer)))
	if err != nil {
		return fmt.Errorf("verify approval token: %w", err)
	}
	if !token.Valid {
		return errors.New("approval token invalid")
	}
	if claims.Approved != msg.Approved || claims.Reason != msg.Reason {
		return errors.New("approval token does not match envelope fields")
	}
	return nil
}

// approvalDecision is the JSON shape Approve asks the model to produce.
type approvalDecision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// parseApprovalDecision extracts the JSON object the model was asked to
// produce, tolerating surrounding prose the same way parseCriticReview does.
func parseApprovalDecision(response string) (approvalDecision, error) {
	start := strings.IndexByte(response, '{')
	end := strings.LastIndexByte(response, '}')
	if start < 0 || end < start {
		return approvalDecision{}, fmt.Errorf("no JSON object found in response")
	}
	var decision approvalDecision
	if err := json.Unmarshal([]byte(response[start:end+1]), &decision); err != nil {
		return approvalDecision{}, fmt.Errorf("parse approval decision: %w", err)
	}
	return decision, nil
}
