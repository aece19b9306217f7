package policy

import (
	"context"
	"strings"
	"testing"
)

func TestDefaultPolicyAllowsShortMessages(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d, err := engine.Evaluate(ctx, NewInput("s1", "What is Big O notation?", 100))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Allowed() {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestDefaultPolicyRejectsLongMessages(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d, err := engine.Evaluate(ctx, NewInput("s1", strings.Repeat("é", 11), 10))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Allowed() || d.Reason != "message too long" {
		t.Fatalf("expected reject, got %+v", d)
	}

	// Length is counted in characters, not bytes.
	d, err = engine.Evaluate(ctx, NewInput("s1", strings.Repeat("é", 10), 10))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Allowed() {
		t.Fatalf("expected allow at the limit, got %+v", d)
	}
}

func TestDefaultPolicyNoLimit(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d, err := engine.Evaluate(ctx, NewInput("s1", strings.Repeat("a", 10000), 0))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Allowed() {
		t.Fatalf("max_length 0 should disable the limit, got %+v", d)
	}
}

func TestCustomPolicyStringDecision(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package submission_policy

default decision = "allow"

decision = "reject" {
	contains(lower(input.text), "homework answers")
}
`)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d, err := engine.Evaluate(ctx, NewInput("s1", "Give me the HOMEWORK ANSWERS", 0))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Action != ActionReject {
		t.Fatalf("expected reject, got %+v", d)
	}
}

func TestUndefinedDecisionAllows(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package submission_policy

decision = "reject" {
	input.session_id == "banned"
}
`)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d, err := engine.Evaluate(ctx, NewInput("s1", "hi", 0))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Allowed() || d.Reason != "default" {
		t.Fatalf("expected default allow, got %+v", d)
	}
}

func TestInvalidPolicy(t *testing.T) {
	if _, err := NewEngine(context.Background(), "package broken\n\ndecision = {"); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestSubmissionGate(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	gate := &SubmissionGate{Engine: engine, MaxLength: 5}

	ok, _, err := gate.Check(ctx, "s1", "hello")
	if err != nil || !ok {
		t.Fatalf("expected allow, got ok=%v err=%v", ok, err)
	}
	ok, reason, err := gate.Check(ctx, "s1", "hello!")
	if err != nil || ok || reason == "" {
		t.Fatalf("expected reject with reason, got ok=%v reason=%q err=%v", ok, reason, err)
	}
}
