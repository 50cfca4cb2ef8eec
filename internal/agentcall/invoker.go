// Package agentcall is the only place in this codebase that talks to an
// external agent. Every agent — coder, QA, reviewer, synthesizer, retry
// advisor, replanner, issue writer, workspace setup/cleanup, merger,
// integration tester — is invoked as an external subprocess addressed by a
// "<node_id>.<function>"-style target string; there is no in-process LLM
// call anywhere in this repository. Call sites elsewhere unmarshal the
// returned json.RawMessage into their own typed request/response structs.
package agentcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrAgentFailed is wrapped into the error Call returns when the target
// agent reports a terminal failure status in its response envelope.
var ErrAgentFailed = errors.New("agentcall: agent call failed")

// ErrTransient marks an error as retryable: the subprocess itself exited
// with an error or wrote no parseable JSON to stdout (as opposed to a
// failure status reported by the agent's own output). A call that exceeds
// its per-call timeout is reported as ErrAgentFailed, not ErrTransient.
var ErrTransient = errors.New("agentcall: transient transport error")

// Invoker sends target a JSON-encoded payload and returns its response,
// already unwrapped from any execution envelope. Implementations retry
// transient transport errors internally per their configured backoff
// policy; Call only ever returns once retries (if any) are exhausted.
type Invoker interface {
	Call(ctx context.Context, target string, payload any) (json.RawMessage, error)
}

// CallInto invokes target via inv and unmarshals its response into out.
func CallInto(ctx context.Context, inv Invoker, target string, payload any, out any) error {
	raw, err := inv.Call(ctx, target, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("agentcall: decode %s response: %w", target, err)
	}
	return nil
}

// envelopeKeys mirrors the execution envelope's field set: the marker used
// to distinguish an already-unwrapped agent response from one still
// wrapped in transport metadata.
var envelopeKeys = map[string]bool{
	"execution_id": true, "run_id": true, "node_id": true, "type": true,
	"target": true, "status": true, "duration_ms": true, "timestamp": true,
	"result": true, "error_message": true, "cost": true,
}

// unwrap extracts the inner agent result from a raw response that may or
// may not be wrapped in an execution envelope. A response with none of the
// envelope's keys is returned unchanged. A wrapped response with a
// terminal status (failed/error/cancelled/timeout) becomes ErrAgentFailed.
// A wrapped response with a non-terminal status and a non-null "result"
// field returns that inner value; otherwise the envelope itself is
// returned as-is for the caller to validate.
func unwrap(raw json.RawMessage, label string) (json.RawMessage, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		// Not a JSON object (e.g. a bare array or scalar) — nothing to unwrap.
		return raw, nil
	}

	wrapped := false
	for k := range generic {
		if envelopeKeys[k] {
			wrapped = true
			break
		}
	}
	if !wrapped {
		return raw, nil
	}

	var status string
	if s, ok := generic["status"]; ok {
		_ = json.Unmarshal(s, &status)
	}
	switch strings.ToLower(status) {
	case "failed", "error", "cancelled", "timeout":
		errMsg := "unknown"
		if e, ok := generic["error_message"]; ok {
			var s string
			if json.Unmarshal(e, &s) == nil && s != "" {
				errMsg = s
			}
		}
		return nil, fmt.Errorf("%w: %s failed (status=%s): %s", ErrAgentFailed, label, status, errMsg)
	}

	if inner, ok := generic["result"]; ok && string(inner) != "null" {
		return inner, nil
	}
	return raw, nil
}
