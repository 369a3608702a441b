package modem

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/logging"
)

// PortConfig names a port and the baud rate it was identified at.
type PortConfig struct {
	PortName string `json:"portName"`
	BaudRate int    `json:"baudRate"`
}

// AutoHangupPolicy controls the incoming-call handler.
type AutoHangupPolicy struct {
	Enabled     bool
	HangupDelay time.Duration
	Cooldown    time.Duration
	// Whitelist entries are matched as case-insensitive substrings of
	// the caller id; a match is never hung up.
	Whitelist []string
}

// DefaultAutoHangupPolicy returns the stock policy: enabled, 200 ms delay,
// 5 s cooldown, empty whitelist.
func DefaultAutoHangupPolicy() AutoHangupPolicy {
	return AutoHangupPolicy{
		Enabled:     true,
		HangupDelay: 200 * time.Millisecond,
		Cooldown:    5 * time.Second,
	}
}

const (
	initCommandGap   = 200 * time.Millisecond
	initCmdTimeout   = 3 * time.Second
	storedSmsTimeout = 5 * time.Second
	hangupWriteGap   = 150 * time.Millisecond
)

var (
	cmtiRe      = regexp.MustCompile(`\+CMTI:\s*"[^"]*"\s*,\s*(\d+)`)
	cmtHeaderRe = regexp.MustCompile(`\+CMT:\s*"([^"]*)"[^"\r\n]*"([^"]*)"[^\r\n]*\r?\n`)
)

// Receiver runs one listener per port, parsing the URC stream into
// SmsReceived and CallHangup events and applying the auto-hangup policy.
type Receiver struct {
	deviceID string
	dialer   Dialer
	policy   AutoHangupPolicy

	onSms    func(domain.SmsReceivedDto)
	onHangup func(domain.CallHangupDto)

	mu        sync.Mutex
	listeners map[string]*portListener
	hangupWG  sync.WaitGroup
}

// portListener is one running (or paused) listener goroutine with its
// session.
type portListener struct {
	session *Session
	stop    chan struct{}
	done    chan struct{}
	paused  bool
}

// NewReceiver creates a receiver for the device's ports. Event handlers
// must be set before StartListening.
func NewReceiver(deviceID string, dialer Dialer, policy AutoHangupPolicy) *Receiver {
	return &Receiver{
		deviceID:  deviceID,
		dialer:    dialer,
		policy:    policy,
		listeners: make(map[string]*portListener),
	}
}

// OnSmsReceived installs the SMS event handler.
func (r *Receiver) OnSmsReceived(fn func(domain.SmsReceivedDto)) { r.onSms = fn }

// OnCallHangup installs the hangup event handler.
func (r *Receiver) OnCallHangup(fn func(domain.CallHangupDto)) { r.onHangup = fn }

// StartListening opens the given ports and starts a listener loop on each.
// Ports that are already listening are logged and skipped. The event
// handlers must be installed first.
func (r *Receiver) StartListening(ports ...PortConfig) error {
	if r.onSms == nil || r.onHangup == nil {
		return errors.New("receiver event handlers not set")
	}
	if r.dialer == nil {
		return ErrNoDialer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pc := range ports {
		if pl, ok := r.listeners[pc.PortName]; ok && !pl.paused {
			logging.Info("listener already running", logging.Port(r.deviceID, pc.PortName)...)
			continue
		}

		session := NewSession(pc.PortName, pc.BaudRate)
		if err := r.openAndInit(session); err != nil {
			logging.Error("failed to open port for listening",
				append(logging.Port(r.deviceID, pc.PortName), logging.Err(err))...)
			continue
		}

		pl := &portListener{
			session: session,
			stop:    make(chan struct{}),
			done:    make(chan struct{}),
		}
		r.listeners[pc.PortName] = pl
		go r.listenLoop(pl)
		logging.Info("listener started",
			append(logging.Port(r.deviceID, pc.PortName), "baud_rate", pc.BaudRate)...)
	}
	return nil
}

// openAndInit dials the port and runs the SMS init sequence. Init command
// failures are logged but non-fatal; the listener attaches regardless.
func (r *Receiver) openAndInit(s *Session) error {
	s.setState(StateOpening)
	t, err := r.dialer.Dial(s.portName, s.baudRate)
	if err != nil {
		s.setState(StateClosed)
		return err
	}
	s.setTransport(t)
	s.setState(StateIdle)

	r.initializeSmsSettings(s)
	s.setState(StateListening)
	return nil
}

// initializeSmsSettings applies the listen-mode setup: echo off, text mode,
// push new SMS inline when possible, GSM charset. Run on open and again on
// every resume.
func (r *Receiver) initializeSmsSettings(s *Session) {
	t := s.getTransport()
	for _, cmd := range []string{CmdEchoOff, CmdTextMode, CmdNewMsgPush, CmdCharsetGsm} {
		if _, err := ExecAT(t, cmd, initCmdTimeout); err != nil {
			logging.Warn("sms init command failed",
				append(logging.Port(r.deviceID, s.portName), "cmd", cmd, logging.Err(err))...)
		}
		time.Sleep(initCommandGap)
	}
}

// Stop terminates all listeners and waits until every port is released,
// including in-flight auto-hangup writes.
func (r *Receiver) Stop() {
	r.mu.Lock()
	for name, pl := range r.listeners {
		r.stopListenerLocked(pl)
		delete(r.listeners, name)
	}
	r.mu.Unlock()
	r.hangupWG.Wait()
}

// stopListenerLocked signals the loop, closes the transport to unblock the
// pending read, and waits for the goroutine to exit.
func (r *Receiver) stopListenerLocked(pl *portListener) {
	if pl.paused {
		return
	}
	s := pl.session
	s.setState(StateClosing)
	close(pl.stop)

	// Take the command mutex so no request/response or hangup write is
	// mid-flight when the handle goes away.
	s.cmdMu.Lock()
	if t := s.getTransport(); t != nil {
		_ = t.Close()
		s.setTransport(nil)
	}
	s.cmdMu.Unlock()

	<-pl.done
	s.setState(StateClosed)
}

// PauseListening releases the OS handle of a listening port so a send
// transaction can own it. Returns false when the port has no active
// listener.
func (r *Receiver) PauseListening(portName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pl, ok := r.listeners[portName]
	if !ok || pl.paused {
		return false
	}

	s := pl.session
	close(pl.stop)
	s.cmdMu.Lock()
	if t := s.getTransport(); t != nil {
		_ = t.Close()
		s.setTransport(nil)
	}
	s.cmdMu.Unlock()
	<-pl.done

	pl.paused = true
	s.setState(StatePaused)
	logging.Info("listener paused", logging.Port(r.deviceID, portName)...)
	return true
}

// ResumeListening reopens a paused port, re-runs the SMS init sequence, and
// restarts the listener loop. Returns false when the port was not paused or
// reopening failed.
func (r *Receiver) ResumeListening(portName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pl, ok := r.listeners[portName]
	if !ok || !pl.paused {
		return false
	}

	s := pl.session
	if err := r.openAndInit(s); err != nil {
		logging.Error("failed to reopen port on resume",
			append(logging.Port(r.deviceID, portName), logging.Err(err))...)
		delete(r.listeners, portName)
		return false
	}

	pl.stop = make(chan struct{})
	pl.done = make(chan struct{})
	pl.paused = false
	go r.listenLoop(pl)
	logging.Info("listener resumed", logging.Port(r.deviceID, portName)...)
	return true
}

// ListeningPorts returns the ports with an active or paused listener.
func (r *Receiver) ListeningPorts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.listeners))
	for name := range r.listeners {
		names = append(names, name)
	}
	return names
}

// Session returns the session for a port, for observers and tests.
func (r *Receiver) Session(portName string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pl, ok := r.listeners[portName]; ok {
		return pl.session
	}
	return nil
}

// listenLoop reads pending bytes into the session buffer and examines it
// after every append. Events from one port are emitted strictly in arrival
// order because this goroutine is the only URC consumer for the port.
func (r *Receiver) listenLoop(pl *portListener) {
	defer close(pl.done)
	s := pl.session
	buf := make([]byte, 4096)

	for {
		select {
		case <-pl.stop:
			return
		default:
		}

		t := s.getTransport()
		if t == nil {
			return
		}
		n, err := t.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			s.buf = append(s.buf, buf[:n]...)
			s.noteChunk(chunk, string(s.buf))
			r.processBuffer(s)
		}
		if err != nil {
			select {
			case <-pl.stop:
			default:
				logging.Warn("listener read failed",
					append(logging.Port(r.deviceID, s.portName), logging.Err(err))...)
			}
			return
		}
	}
}

// processBuffer examines the accumulated URC bytes for, in order: incoming
// call fragments, stored-SMS notifications, and inline SMS pushes.
func (r *Receiver) processBuffer(s *Session) {
	data := string(s.buf)

	// 1. Incoming-call fragment.
	if strings.Contains(data, Ring) || strings.Contains(data, UrcCallerID) {
		clipComplete := r.handleIncomingCall(s, data)
		if clipComplete {
			s.buf = s.buf[:0]
			return
		}
		if len(s.buf) > urcBufferHighWater {
			s.buf = s.buf[:0]
			return
		}
	}

	// 2. Stored-SMS notifications; one buffer may hold several.
	for {
		m := cmtiRe.FindStringSubmatchIndex(data)
		if m == nil {
			break
		}
		index, err := strconv.Atoi(data[m[2]:m[3]])
		if err == nil {
			r.handleStoredSms(s, index)
		}
		data = data[m[1]:]
		s.buf = []byte(data)
	}

	// 3. Inline SMS push.
	r.handleInlineSms(s)
}

// handleIncomingCall caches the caller id when a complete +CLIP line is
// present and launches the async auto-hangup. RING may precede +CLIP, so
// both trigger the hangup path; the caller cache bridges the gap.
func (r *Receiver) handleIncomingCall(s *Session, data string) (clipComplete bool) {
	if i := strings.LastIndex(data, UrcCallerID); i >= 0 {
		if caller, ok := firstQuoted(data[i+len(UrcCallerID):]); ok {
			s.cacheCaller(caller, time.Now())
			clipComplete = true
		}
	}

	if r.policy.Enabled {
		r.hangupWG.Add(1)
		go r.autoHangup(s)
	}
	return clipComplete
}

// autoHangup performs the bounded-latency call termination: take the port's
// command mutex, respect the cooldown, wait the configured delay for +CLIP
// to land, skip whitelisted callers, then write ATH and the AT+CHUP compat
// fallback. The writes are fire-and-forget; reading the response would race
// the listener loop.
func (r *Receiver) autoHangup(s *Session) {
	defer r.hangupWG.Done()

	s.cmdMu.Lock()
	s.setState(StateHangingUp)
	defer s.setState(StateListening)

	if s.withinCooldown(time.Now(), r.policy.Cooldown) {
		s.cmdMu.Unlock()
		return
	}

	time.Sleep(r.policy.HangupDelay)

	caller := s.cachedCaller(time.Now())
	if r.isWhitelisted(caller) {
		logging.Info("incoming call whitelisted, not hanging up",
			append(logging.Port(r.deviceID, s.portName), "caller", caller)...)
		s.cmdMu.Unlock()
		return
	}

	t := s.getTransport()
	if t == nil {
		s.cmdMu.Unlock()
		return
	}
	if _, err := t.Write([]byte(CmdHangup + CR)); err != nil {
		logging.Warn("hangup write failed",
			append(logging.Port(r.deviceID, s.portName), logging.Err(err))...)
		s.cmdMu.Unlock()
		return
	}
	time.Sleep(hangupWriteGap)
	if _, err := t.Write([]byte(CmdHangupCompat + CR)); err != nil {
		logging.Warn("hangup fallback write failed",
			append(logging.Port(r.deviceID, s.portName), logging.Err(err))...)
	}

	s.markHangup(time.Now())
	rawLine := s.hangupContext()
	s.cmdMu.Unlock()

	r.onHangup(domain.CallHangupDto{
		DeviceID:     r.deviceID,
		ComPort:      s.portName,
		CallerNumber: caller,
		HangupTime:   time.Now().UTC(),
		Reason:       domain.HangupAuto,
		RawLine:      rawLine,
	})
}

func (r *Receiver) isWhitelisted(caller string) bool {
	if caller == "" {
		return false
	}
	lower := strings.ToLower(caller)
	for _, entry := range r.policy.Whitelist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" && strings.Contains(lower, entry) {
			return true
		}
	}
	return false
}

// handleStoredSms reads, emits, and deletes the message stored at index.
// The read uses AT+CMGR with AT+CMGL fallbacks for modems that return an
// empty CMGR response.
func (r *Receiver) handleStoredSms(s *Session, index int) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	t := s.getTransport()
	if t == nil {
		return
	}

	res, err := ExecAT(t, fmt.Sprintf("%s=%d", CmdReadSms, index), storedSmsTimeout)
	raw := res.Raw
	if err != nil || strings.TrimSpace(res.Payload) == "" {
		for _, cmd := range []string{CmdListSms + `="ALL"`, CmdListSms + `="REC UNREAD"`} {
			res, err = ExecAT(t, cmd, storedSmsTimeout)
			raw = res.Raw
			if err == nil && strings.TrimSpace(res.Payload) != "" {
				break
			}
		}
	}

	sender, timestamp, content, ok := parseStoredSms(raw)
	if !ok {
		logging.Warn("unparseable stored sms response",
			append(logging.Port(r.deviceID, s.portName), "index", index)...)
		return
	}

	dto := r.buildSmsDto(s.portName, sender, timestamp, content)
	r.onSms(dto)

	if _, err := ExecAT(t, fmt.Sprintf("%s=%d", CmdDeleteSms, index), initCmdTimeout); err != nil {
		logging.Warn("failed to delete stored sms",
			append(logging.Port(r.deviceID, s.portName), "index", index, logging.Err(err))...)
	}
}

// parseStoredSms extracts sender, raw timestamp, and content from a
// +CMGR/+CMGL response. The header line carries quoted fields; the
// following non-empty, non-OK lines are the content.
func parseStoredSms(raw string) (sender, timestamp, content string, ok bool) {
	lines := responseLines(raw)
	headerIdx := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "+CMGR:") || strings.HasPrefix(line, "+CMGL:") {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return "", "", "", false
	}

	quoted := allQuoted(lines[headerIdx])
	for _, q := range quoted {
		if looksLikeNumber(q) {
			sender = q
			break
		}
	}
	for _, q := range quoted {
		if strings.Contains(q, "/") && strings.Contains(q, ":") {
			timestamp = q
		}
	}
	if sender == "" {
		return "", "", "", false
	}

	var contentLines []string
	for _, line := range lines[headerIdx+1:] {
		if line == "" || line == OK {
			continue
		}
		if strings.HasPrefix(line, "+CMGR:") || strings.HasPrefix(line, "+CMGL:") {
			break
		}
		contentLines = append(contentLines, line)
	}
	return sender, timestamp, strings.Join(contentLines, "\n"), true
}

// handleInlineSms parses a +CMT push from the buffer. An incomplete body is
// left in place to await more data, unless the buffer has outgrown its high
// watermark.
func (r *Receiver) handleInlineSms(s *Session) {
	for {
		data := string(s.buf)

		loc := cmtHeaderRe.FindStringSubmatchIndex(data)
		if loc == nil {
			return
		}
		sender := data[loc[2]:loc[3]]
		timestamp := data[loc[4]:loc[5]]

		content, consumed, complete := scanInlineContent(data, loc[1])
		if !complete {
			if len(s.buf) > cmtBufferHighWater {
				logging.Warn("inline sms buffer overflow, clearing",
					logging.Port(r.deviceID, s.portName)...)
				s.buf = s.buf[:0]
			}
			return
		}

		s.buf = []byte(data[consumed:])

		dto := r.buildSmsDto(s.portName, sender, timestamp, content)
		r.onSms(dto)
	}
}

// scanInlineContent collects content lines after a +CMT header starting at
// pos. Blank lines directly after the header are skipped; content ends at a
// blank line, an OK line, the next +CMT header, or the end of the buffer
// when the last line is newline-terminated.
func scanInlineContent(data string, pos int) (content string, consumed int, complete bool) {
	var contentLines []string
	i := pos
	seenContent := false

	for i < len(data) {
		nl := strings.IndexByte(data[i:], '\n')
		if nl < 0 {
			// Unterminated line: await more data.
			return "", 0, false
		}
		line := strings.TrimSpace(data[i : i+nl])
		next := i + nl + 1

		switch {
		case line == "":
			if seenContent {
				return strings.Join(contentLines, "\n"), next, true
			}
			// Blank line between header and content.
		case line == OK:
			if seenContent {
				return strings.Join(contentLines, "\n"), next, true
			}
			return "", 0, false
		case strings.HasPrefix(line, UrcInlineSms):
			if seenContent {
				// Leave the next push in the buffer.
				return strings.Join(contentLines, "\n"), i, true
			}
			return "", 0, false
		default:
			contentLines = append(contentLines, line)
			seenContent = true
		}
		i = next
	}

	if seenContent {
		// Buffer ended right after a newline-terminated content line.
		return strings.Join(contentLines, "\n"), i, true
	}
	return "", 0, false
}

// buildSmsDto assembles the emitted event: UCS2 decoding, timestamp
// parsing, UTC stamping.
func (r *Receiver) buildSmsDto(portName, sender, timestamp, content string) domain.SmsReceivedDto {
	received := time.Now().UTC()
	if timestamp != "" {
		if t, err := ParseSmsTimestamp(timestamp); err == nil {
			received = t
		} else {
			logging.Warn("unparseable sms timestamp",
				append(logging.Port(r.deviceID, portName), "timestamp", timestamp)...)
		}
	}
	// A UCS2-mode push hex-encodes the sender too, but a plain all-digit
	// number is also valid hex; only decode when it cannot be a number.
	if !looksLikeNumber(sender) {
		sender = DecodeUcs2IfNeeded(sender)
	}
	return domain.SmsReceivedDto{
		DeviceID:       r.deviceID,
		ComPort:        portName,
		SenderNumber:   sender,
		MessageContent: DecodeUcs2IfNeeded(content),
		ReceivedTime:   received,
		SmsTimestamp:   timestamp,
	}
}

// allQuoted returns every double-quoted substring of s, in order.
func allQuoted(s string) []string {
	var out []string
	for {
		start := strings.IndexByte(s, '"')
		if start < 0 {
			return out
		}
		end := strings.IndexByte(s[start+1:], '"')
		if end < 0 {
			return out
		}
		out = append(out, s[start+1:start+1+end])
		s = s[start+1+end+1:]
	}
}

// looksLikeNumber reports whether a quoted header field is a phone number
// rather than a status or timestamp.
func looksLikeNumber(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, "/:") {
		return false
	}
	body := strings.TrimPrefix(s, "+")
	if body == "" {
		return false
	}
	for _, r := range body {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
