package modem

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// scriptedTransport is an in-memory port. Written commands trigger scripted
// responses; unsolicited data is injected through a feed channel the way a
// live modem would push URCs.
type scriptedTransport struct {
	mu          sync.Mutex
	writes      []string
	responses   map[string]string
	pending     []byte
	closed      bool
	readTimeout time.Duration

	feed   chan []byte
	closeC chan struct{}
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		responses:   make(map[string]string),
		feed:        make(chan []byte, 64),
		closeC:      make(chan struct{}),
		readTimeout: listenReadTimeout,
	}
}

// respond scripts the response appended to the read stream when cmd (sans
// trailing CR/LF) is written.
func (t *scriptedTransport) respond(cmd, resp string) {
	t.mu.Lock()
	t.responses[cmd] = resp
	t.mu.Unlock()
}

// respondOK scripts a bare OK for each command.
func (t *scriptedTransport) respondOK(cmds ...string) {
	for _, cmd := range cmds {
		t.respond(cmd, "\r\nOK\r\n")
	}
}

// inject queues unsolicited bytes as one arriving chunk.
func (t *scriptedTransport) inject(data string) {
	t.feed <- []byte(data)
}

func (t *scriptedTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	timeout := t.readTimeout
	t.mu.Unlock()

	select {
	case data := <-t.feed:
		t.mu.Lock()
		t.pending = append(t.pending, data...)
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	case <-t.closeC:
		return 0, errors.New("port closed")
	case <-time.After(timeout):
		// Serial read timeout semantics: no data, no error.
		return 0, nil
	}
}

func (t *scriptedTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("port closed")
	}
	w := string(p)
	t.writes = append(t.writes, w)
	if resp, ok := t.responses[strings.TrimRight(w, "\r\n")]; ok {
		t.pending = append(t.pending, []byte(resp)...)
	}
	return len(p), nil
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closeC)
	return nil
}

func (t *scriptedTransport) ResetBuffers() error {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
	return nil
}

func (t *scriptedTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
	return nil
}

func (t *scriptedTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *scriptedTransport) written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	copy(out, t.writes)
	return out
}

func (t *scriptedTransport) countWrites(prefix string) int {
	n := 0
	for _, w := range t.written() {
		if strings.HasPrefix(w, prefix) {
			n++
		}
	}
	return n
}

// scriptedDialer hands out queued transports per port name, so reopen
// scenarios can observe each successive handle.
type scriptedDialer struct {
	mu     sync.Mutex
	queues map[string][]*scriptedTransport
	dials  map[string]int
	err    error
}

func newScriptedDialer() *scriptedDialer {
	return &scriptedDialer{
		queues: make(map[string][]*scriptedTransport),
		dials:  make(map[string]int),
	}
}

func (d *scriptedDialer) add(portName string, t *scriptedTransport) {
	d.mu.Lock()
	d.queues[portName] = append(d.queues[portName], t)
	d.mu.Unlock()
}

func (d *scriptedDialer) Dial(portName string, baudRate int) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[portName]++
	if d.err != nil {
		return nil, d.err
	}
	q := d.queues[portName]
	if len(q) == 0 {
		return nil, errors.New("no transport scripted for " + portName)
	}
	t := q[0]
	d.queues[portName] = q[1:]
	return t, nil
}

func (d *scriptedDialer) dialCount(portName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[portName]
}

// listenInitScript scripts OK responses for the receiver init sequence.
func listenInitScript(t *scriptedTransport) {
	t.respondOK(CmdEchoOff, CmdTextMode, CmdNewMsgPush, CmdCharsetGsm)
}

// senderInitScript scripts OK responses for the sender init sequence.
func senderInitScript(t *scriptedTransport) {
	t.respondOK(CmdAttention, CmdEchoOff, CmdTextMode, CmdCharsetGsm, CmdCharsetUcs2)
}
