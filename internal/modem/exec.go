package modem

import (
	"fmt"
	"strings"
	"time"
)

// ExecResult is the outcome of one AT request/response exchange.
type ExecResult struct {
	// Raw is the full response as received, delimiters included.
	Raw string
	// Payload is Raw reduced to useful content: echo and terminator
	// lines removed, remaining lines joined by single spaces.
	Payload string
}

// ExecAT performs one AT request/response exchange on the transport:
// discard stale buffers, write cmd + CR, then poll for pending bytes every
// 50 ms until a recognized terminator arrives or the timeout elapses.
//
// A timeout with partial data returns what was collected along with an
// error; the caller decides whether the fragment is usable.
func ExecAT(t Transport, cmd string, timeout time.Duration) (ExecResult, error) {
	_ = t.ResetBuffers()

	if _, err := t.Write([]byte(cmd + CR)); err != nil {
		return ExecResult{}, fmt.Errorf("write %q: %w", cmd, err)
	}

	raw, err := collectResponse(t, timeout)
	result := ExecResult{Raw: raw, Payload: ExtractPayload(raw, cmd)}
	if err != nil {
		return result, err
	}
	if IsErrorResponse(raw) {
		return result, fmt.Errorf("command %q failed: %s", cmd, strings.TrimSpace(raw))
	}
	return result, nil
}

// collectResponse accumulates pending bytes until a terminator is present
// or the deadline passes.
func collectResponse(t Transport, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var collected []byte
	buf := make([]byte, 256)

	_ = t.SetReadTimeout(pollInterval)
	defer func() { _ = t.SetReadTimeout(listenReadTimeout) }()

	for {
		n, err := t.Read(buf)
		if n > 0 {
			collected = append(collected, buf[:n]...)
			if HasTerminator(string(collected)) {
				return string(collected), nil
			}
		}
		if err != nil {
			return string(collected), fmt.Errorf("read response: %w", err)
		}
		if time.Now().After(deadline) {
			if len(collected) > 0 {
				return string(collected), fmt.Errorf("timeout with partial response")
			}
			return "", fmt.Errorf("timeout waiting for response")
		}
		if n == 0 {
			time.Sleep(pollInterval)
		}
	}
}

// drainPending reads whatever bytes are immediately available without
// blocking past one poll interval. It is the Go rendition of the event
// handler's "read all existing" step in the listener loop.
func drainPending(t Transport, buf []byte) (int, error) {
	_ = t.SetReadTimeout(pollInterval)
	return t.Read(buf)
}
