package agentcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// BackoffPolicy configures exponential backoff for transient transport
// errors, grounded on the same initial_delay/backoff_factor/max_delay
// shape the reference execution engine exposes as configuration.
type BackoffPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	MaxAttempts  int
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// SubprocessInvoker invokes Command once per call, passing the JSON request
// on stdin and reading the last complete JSON value written to stdout —
// this mirrors the reference session model's external-process lifecycle
// generalized from an interactive tmux session to a one-shot subprocess
// call per agent invocation.
type SubprocessInvoker struct {
	Command string
	Args    func(target string) []string
	Timeout time.Duration
	Backoff BackoffPolicy
}

// NewSubprocessInvoker returns a SubprocessInvoker that runs `command
// --print --target <target>` and reads one JSON object from its stdout.
func NewSubprocessInvoker(command string, timeout time.Duration, backoff BackoffPolicy) *SubprocessInvoker {
	return &SubprocessInvoker{
		Command: command,
		Args: func(target string) []string {
			return []string{"--print", "--target", target}
		},
		Timeout: timeout,
		Backoff: backoff,
	}
}

// Call sends payload to target and returns its unwrapped response. Transient
// transport errors are retried per Backoff; a terminal agent failure status
// is returned immediately, never retried here (callers such as the retry
// advisor or coding loop decide whether to re-invoke).
func (s *SubprocessInvoker) Call(ctx context.Context, target string, payload any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(struct {
		Target  string `json:"target"`
		Payload any    `json:"payload"`
	}{Target: target, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("agentcall: marshal request for %s: %w", target, err)
	}

	attempts := s.Backoff.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := s.callOnce(ctx, target, reqBody)
		if err == nil {
			return unwrap(raw, target)
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) || attempt == attempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Backoff.delay(attempt)):
		}
	}
	return nil, lastErr
}

func (s *SubprocessInvoker) callOnce(ctx context.Context, target string, reqBody []byte) (json.RawMessage, error) {
	callCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	args := s.Args(target)
	cmd := exec.CommandContext(callCtx, s.Command, args...)
	cmd.Stdin = bytes.NewReader(reqBody)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if callCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s timed out after %s", ErrAgentFailed, target, s.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s subprocess error: %v (stderr: %s)", ErrTransient, target, err, stderr.String())
	}

	last := lastJSONValue(stdout.Bytes())
	if last == nil {
		return nil, fmt.Errorf("%w: %s produced no parseable JSON object on stdout", ErrTransient, target)
	}
	return last, nil
}

// lastJSONValue scans output for a sequence of whitespace-separated JSON
// values and returns the last one fully decoded — "one final JSON object
// on stdout; anything else is a transport error, retried as transient."
// A CLI agent may emit progress lines before its final structured result;
// only the last complete value matters.
func lastJSONValue(output []byte) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(output))
	var last json.RawMessage
	for {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			break
		}
		last = msg
	}
	return last
}
