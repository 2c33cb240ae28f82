package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianly1003/devtap/internal/domain"
)

// Evaluator executes opaque expressions inside a session's execution
// contexts. It never interprets the expression's semantics; callers get
// back whatever JSON the expression produced.
type Evaluator struct {
	callTimeout time.Duration
}

// NewEvaluator creates an Evaluator with the given per-call timeout.
// A zero timeout falls back to the session default.
func NewEvaluator(callTimeout time.Duration) *Evaluator {
	return &Evaluator{callTimeout: callTimeout}
}

// evaluateReply is the reply shape of Runtime.evaluate with returnByValue.
type evaluateReply struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value,omitempty"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

// Evaluate runs the expression in the given context (0 means the remote
// default context) and returns the value payload.
func (e *Evaluator) Evaluate(ctx context.Context, s *Session, expression string, contextID int64) (json.RawMessage, error) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	params := map[string]interface{}{
		"expression":    expression,
		"returnByValue": true,
	}
	if contextID != 0 {
		params["contextId"] = contextID
	}

	raw, err := s.Call(ctx, "Runtime.evaluate", params)
	if err != nil {
		return nil, err
	}

	var reply evaluateReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("failed to parse evaluate reply: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return nil, &domain.RemoteError{Message: reply.ExceptionDetails.Text}
	}

	return reply.Result.Value, nil
}

// EvaluateSearch runs the expression against each known context in
// creation order and returns the first payload that marks itself as
// found, along with the context id that produced it. When no context
// accepts the expression the call fails with ErrNoContext.
func (e *Evaluator) EvaluateSearch(ctx context.Context, s *Session, expression string) (json.RawMessage, int64, error) {
	for _, c := range s.Contexts() {
		value, err := e.Evaluate(ctx, s, expression, c.ID)
		if err != nil {
			// Per-context failures just move the search along.
			continue
		}
		if payloadFound(value) {
			return value, c.ID, nil
		}
	}
	return nil, 0, domain.ErrNoContext
}

// payloadFound reports whether the expression's payload declared itself
// successfully resolved. The convention is a top-level "found" flag; the
// rest of the payload stays opaque.
func payloadFound(value json.RawMessage) bool {
	var probe struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(value, &probe); err != nil {
		return false
	}
	return probe.Found
}
