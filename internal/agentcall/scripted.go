package agentcall

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ScriptedCall records one Call invocation against a ScriptedInvoker.
type ScriptedCall struct {
	Target  string
	Payload any
}

type scriptedResponse struct {
	raw json.RawMessage
	err error
}

// ScriptedInvoker is a test double that returns pre-queued responses per
// target, in FIFO order, without ever starting a subprocess. Every call is
// recorded in Calls for assertions on call count, target, and payload.
type ScriptedInvoker struct {
	mu        sync.Mutex
	responses map[string][]scriptedResponse
	Calls     []ScriptedCall
}

// NewScriptedInvoker returns an empty ScriptedInvoker.
func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{responses: make(map[string][]scriptedResponse)}
}

// QueueResult appends v, marshaled to JSON, as the next response for target.
func (s *ScriptedInvoker) QueueResult(target string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("agentcall: QueueResult marshal for %s: %v", target, err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[target] = append(s.responses[target], scriptedResponse{raw: raw})
}

// QueueEnvelopeFailure appends a terminal-status envelope response, letting
// tests exercise the ErrAgentFailed unwrap path end to end.
func (s *ScriptedInvoker) QueueEnvelopeFailure(target, status, errorMessage string) {
	s.QueueResult(target, map[string]any{
		"execution_id":  "test",
		"status":        status,
		"error_message": errorMessage,
	})
}

// QueueError appends err as the next response for target, returned directly
// from Call without going through envelope unwrapping.
func (s *ScriptedInvoker) QueueError(target string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[target] = append(s.responses[target], scriptedResponse{err: err})
}

// Call implements Invoker.
func (s *ScriptedInvoker) Call(_ context.Context, target string, payload any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, ScriptedCall{Target: target, Payload: payload})

	queue := s.responses[target]
	if len(queue) == 0 {
		return nil, fmt.Errorf("agentcall: no scripted response queued for target %q", target)
	}
	next := queue[0]
	s.responses[target] = queue[1:]

	if next.err != nil {
		return nil, next.err
	}
	return unwrap(next.raw, target)
}

// CallCount returns how many times target was invoked.
func (s *ScriptedInvoker) CallCount(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Calls {
		if c.Target == target {
			n++
		}
	}
	return n
}
