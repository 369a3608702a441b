package modem

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modemfleet/internal/logging"
)

// Send transaction timings.
const (
	senderBaudRate    = 115200
	senderInitGap     = 300 * time.Millisecond
	senderOpenSettle  = 500 * time.Millisecond
	senderPauseSettle = 1 * time.Second
	promptTimeout     = 10 * time.Second
	sendResultTimeout = 30 * time.Second
)

// SendResult reports the outcome of one SMS send transaction.
type SendResult struct {
	Success    bool   `json:"success"`
	MessageRef string `json:"messageRef,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sender performs SMS send transactions. Ports held by a listener are
// borrowed through the arbiter; idle ports get a cached transport that
// survives between sends.
type Sender struct {
	dialer  Dialer
	arbiter PortArbiter

	mu     sync.Mutex
	cached map[string]Transport
}

// NewSender creates a sender. The arbiter may be nil when no receiver runs
// on this device.
func NewSender(dialer Dialer, arbiter PortArbiter) *Sender {
	return &Sender{
		dialer:  dialer,
		arbiter: arbiter,
		cached:  make(map[string]Transport),
	}
}

// SendSms sends one text message out the named port. A listener holding
// the port is paused for the duration and resumed on every exit path.
func (s *Sender) SendSms(portName, phoneNumber, message string) SendResult {
	switch {
	case strings.TrimSpace(portName) == "":
		return SendResult{Error: "comPort is required"}
	case strings.TrimSpace(phoneNumber) == "":
		return SendResult{Error: "targetNumber is required"}
	case strings.TrimSpace(message) == "":
		return SendResult{Error: "messageContent is required"}
	}

	paused := false
	if s.arbiter != nil {
		paused = s.arbiter.PauseListening(portName)
	}
	if paused {
		// Give the OS a moment to release the handle.
		time.Sleep(senderPauseSettle)
		defer s.arbiter.ResumeListening(portName)
	}

	t, fresh, err := s.acquireTransport(portName, paused)
	if err != nil {
		return SendResult{Error: fmt.Sprintf("open %s: %v", portName, err)}
	}
	if paused {
		// The listener will reclaim the port; never cache it.
		defer func() {
			t.Close()
		}()
	}

	result := s.transact(t, portName, phoneNumber, message, fresh)
	if result.Error != "" && !paused {
		// A failed exchange may leave the modem in an unknown state;
		// drop the cached handle so the next send starts clean.
		s.dropCached(portName)
	}
	return result
}

// acquireTransport returns an open transport for the port. Idle ports are
// served from the cache when possible; fresh reports whether the modem
// needs the init sequence.
func (s *Sender) acquireTransport(portName string, paused bool) (t Transport, fresh bool, err error) {
	if !paused {
		s.mu.Lock()
		if cached, ok := s.cached[portName]; ok {
			s.mu.Unlock()
			return cached, false, nil
		}
		s.mu.Unlock()
	}

	t, err = s.dialer.Dial(portName, senderBaudRate)
	if err != nil {
		return nil, false, err
	}
	time.Sleep(senderOpenSettle)

	if !paused {
		s.mu.Lock()
		s.cached[portName] = t
		s.mu.Unlock()
	}
	return t, true, nil
}

// dropCached closes and forgets the cached transport for a port.
func (s *Sender) dropCached(portName string) {
	s.mu.Lock()
	t, ok := s.cached[portName]
	delete(s.cached, portName)
	s.mu.Unlock()
	if ok {
		t.Close()
	}
}

// Close releases every cached transport.
func (s *Sender) Close() {
	s.mu.Lock()
	cached := s.cached
	s.cached = make(map[string]Transport)
	s.mu.Unlock()
	for _, t := range cached {
		t.Close()
	}
}

// transact runs the CMGS dialog on an open transport.
func (s *Sender) transact(t Transport, portName, phoneNumber, message string, fresh bool) SendResult {
	ucs2 := !IsGsm7Safe(message)

	if fresh {
		if err := s.initialize(t, ucs2); err != nil {
			return SendResult{Error: fmt.Sprintf("initialize modem: %v", err)}
		}
	} else if err := s.selectCharset(t, ucs2); err != nil {
		return SendResult{Error: fmt.Sprintf("select charset: %v", err)}
	}

	number := phoneNumber
	body := message
	if ucs2 {
		number = EncodeUcs2Hex(phoneNumber)
		body = EncodeUcs2Hex(message)
	}

	prompt, err := execUntilPrompt(t, fmt.Sprintf(`%s="%s"`, CmdSendSms, number))
	if err != nil {
		return SendResult{Response: prompt, Error: err.Error()}
	}

	if _, err := t.Write([]byte(body + CtrlZ)); err != nil {
		return SendResult{Error: fmt.Sprintf("write message body: %v", err)}
	}

	raw, err := collectSendResult(t)
	if err != nil {
		return SendResult{Response: raw, Error: err.Error()}
	}

	ref := parseMessageRef(raw)
	logging.Info("sms sent", "port", portName, "to", phoneNumber, "messageRef", ref)
	return SendResult{Success: true, MessageRef: ref, Response: strings.TrimSpace(raw)}
}

// initialize runs the sender init sequence with inter-command gaps. AT and
// ATE0 failures are tolerated; text mode and charset must succeed.
func (s *Sender) initialize(t Transport, ucs2 bool) error {
	if _, err := ExecAT(t, CmdAttention, initCmdTimeout); err != nil {
		logging.Debug("sender AT probe failed", logging.Err(err))
	}
	time.Sleep(senderInitGap)

	if _, err := ExecAT(t, CmdEchoOff, initCmdTimeout); err != nil {
		logging.Debug("sender echo off failed", logging.Err(err))
	}
	time.Sleep(senderInitGap)

	if _, err := ExecAT(t, CmdTextMode, initCmdTimeout); err != nil {
		return fmt.Errorf("set text mode: %w", err)
	}
	time.Sleep(senderInitGap)

	return s.selectCharset(t, ucs2)
}

func (s *Sender) selectCharset(t Transport, ucs2 bool) error {
	cmd := CmdCharsetGsm
	if ucs2 {
		cmd = CmdCharsetUcs2
	}
	if _, err := ExecAT(t, cmd, initCmdTimeout); err != nil {
		return err
	}
	time.Sleep(senderInitGap)
	return nil
}

// execUntilPrompt writes the CMGS command and waits for the `>` prompt.
// An ERROR result before the prompt aborts the transaction.
func execUntilPrompt(t Transport, cmd string) (string, error) {
	_ = t.ResetBuffers()
	if _, err := t.Write([]byte(cmd + CR)); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}

	deadline := time.Now().Add(promptTimeout)
	var collected []byte
	buf := make([]byte, 256)

	_ = t.SetReadTimeout(pollInterval)
	defer func() { _ = t.SetReadTimeout(listenReadTimeout) }()

	for {
		n, err := t.Read(buf)
		if n > 0 {
			collected = append(collected, buf[:n]...)
			got := string(collected)
			if strings.Contains(got, Prompt) {
				return got, nil
			}
			if IsErrorResponse(got) {
				return got, fmt.Errorf("modem rejected send: %s", strings.TrimSpace(got))
			}
		}
		if err != nil {
			return string(collected), fmt.Errorf("read prompt: %w", err)
		}
		if time.Now().After(deadline) {
			return string(collected), fmt.Errorf("timeout waiting for send prompt")
		}
		if n == 0 {
			time.Sleep(pollInterval)
		}
	}
}

// collectSendResult waits for the final response after the message body was
// submitted. Success needs both the +CMGS reference line and the OK
// terminator; a bare OK means the modem never confirmed the send.
func collectSendResult(t Transport) (string, error) {
	deadline := time.Now().Add(sendResultTimeout)
	var collected []byte
	buf := make([]byte, 256)

	_ = t.SetReadTimeout(pollInterval)
	defer func() { _ = t.SetReadTimeout(listenReadTimeout) }()

	for {
		n, err := t.Read(buf)
		if n > 0 {
			collected = append(collected, buf[:n]...)
			got := string(collected)
			if IsErrorResponse(got) {
				return got, fmt.Errorf("send failed: %s", strings.TrimSpace(got))
			}
			if HasTerminator(got) {
				if !strings.Contains(got, "+CMGS:") {
					return got, fmt.Errorf("send not confirmed, no +CMGS reference: %s", strings.TrimSpace(got))
				}
				return got, nil
			}
		}
		if err != nil {
			return string(collected), fmt.Errorf("read send result: %w", err)
		}
		if time.Now().After(deadline) {
			return string(collected), fmt.Errorf("timeout waiting for send result")
		}
		if n == 0 {
			time.Sleep(pollInterval)
		}
	}
}

// parseMessageRef extracts the message reference from a +CMGS: <mr> line.
func parseMessageRef(raw string) string {
	idx := strings.Index(raw, "+CMGS:")
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len("+CMGS:"):]
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}
	return digitRun(rest)
}
