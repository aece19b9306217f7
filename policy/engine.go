// Package policy evaluates submission rules written in Rego.
package policy

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/rego"
)

// Actions a policy can return.
const (
	ActionAllow  = "allow"
	ActionReject = "reject"
)

// Decision is the outcome of evaluating a submission.
type Decision struct {
	Action string
	Reason string
}

// Allowed reports whether the submission may proceed.
func (d Decision) Allowed() bool {
	return d.Action != ActionReject
}

// Input is the document a policy sees as `input`.
type Input struct {
	Text      string `json:"text"`
	Length    int    `json:"length"`
	MaxLength int    `json:"max_length"`
	SessionID string `json:"session_id"`
}

// NewInput builds the policy input for text.
func NewInput(sessionID, text string, maxLength int) Input {
	return Input{
		Text:      text,
		Length:    utf8.RuneCountInString(text),
		MaxLength: maxLength,
		SessionID: sessionID,
	}
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.submission_policy.decision"),
		rego.Module("submission_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks a submission against the policy. The rule may return a
// bare action string or an object {action, reason}.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// Undefined decision: the policy declared no default.
		return Decision{Action: ActionAllow, Reason: "default"}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Action: v}, nil
	case map[string]interface{}:
		d := Decision{Action: ActionAllow}
		if a, ok := v["action"].(string); ok && a != "" {
			d.Action = a
		}
		if r, ok := v["reason"].(string); ok {
			d.Reason = r
		}
		return d, nil
	default:
		return Decision{Action: ActionAllow, Reason: "unexpected return type"}, nil
	}
}

// SubmissionGate applies an engine to chat submissions.
type SubmissionGate struct {
	Engine    *Engine
	MaxLength int
}

// Check reports whether text may be submitted to the session.
func (g *SubmissionGate) Check(ctx context.Context, sessionID, text string) (bool, string, error) {
	d, err := g.Engine.Evaluate(ctx, NewInput(sessionID, text, g.MaxLength))
	if err != nil {
		return false, "", err
	}
	return d.Allowed(), d.Reason, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package submission_policy

default decision = {"action": "allow", "reason": ""}

# Reject messages longer than the configured maximum.
decision = {"action": "reject", "reason": "message too long"} {
	input.max_length > 0
	input.length > input.max_length
}
`
