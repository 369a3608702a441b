package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modemfleet/internal/config"
	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/hub"
	"github.com/modemfleet/internal/modem"
)

// failDialer stands in for machines with no reachable modems: every open
// attempt fails.
type failDialer struct{}

func (failDialer) Dial(string, int) (modem.Transport, error) {
	return nil, errors.New("port unavailable")
}

// cannedTransport answers every command with OK, hands out the CMGS prompt,
// and confirms the submitted body, enough to drive one successful send.
type cannedTransport struct {
	mu      sync.Mutex
	pending []byte
	closed  bool
}

func (t *cannedTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("port closed")
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *cannedTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("port closed")
	}
	w := string(p)
	switch {
	case strings.Contains(w, "AT+CMGS="):
		t.pending = append(t.pending, "\r\n> "...)
	case strings.HasSuffix(w, modem.CtrlZ):
		t.pending = append(t.pending, "\r\n+CMGS: 5\r\n\r\nOK\r\n"...)
	default:
		t.pending = append(t.pending, "\r\nOK\r\n"...)
	}
	return len(p), nil
}

func (t *cannedTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *cannedTransport) ResetBuffers() error {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
	return nil
}

func (t *cannedTransport) SetReadTimeout(time.Duration) error { return nil }

type cannedDialer struct{}

func (cannedDialer) Dial(string, int) (modem.Transport, error) {
	return &cannedTransport{}, nil
}

// fakeHub is a minimal server-side hub accepting agent connections.
type fakeHub struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	fh := &fakeHub{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fh.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fh.conns <- ws
	}))
	t.Cleanup(fh.srv.Close)
	return fh
}

func (fh *fakeHub) url() string {
	return "ws" + strings.TrimPrefix(fh.srv.URL, "http")
}

func (fh *fakeHub) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-fh.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("no agent connection arrived")
		return nil
	}
}

func readFrame(t *testing.T, ws *websocket.Conn, wantType string) *hub.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		_, frame, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", wantType)
		env, err := hub.Decode(frame)
		require.NoError(t, err)
		if env.Type == wantType {
			return env
		}
	}
}

func writeFrame(t *testing.T, ws *websocket.Conn, msgType string, payload any) {
	t.Helper()
	frame, err := hub.Encode(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func agentConfig(serverURL string) config.AgentConfig {
	return config.AgentConfig{
		ServerURL: serverURL,
		DeviceID:  "AGENT1",
		Scanner:   config.ScannerConfig{BaudRates: []int{115200}},
		Receiver:  config.ReceiverConfig{AutoStartOnScan: true},
		AutoHangup: config.AutoHangupConfig{
			Enabled:       true,
			HangupDelayMs: 10,
			CooldownMs:    100,
		},
	}
}

func startAgent(t *testing.T, fh *fakeHub) *Client {
	t.Helper()
	return startAgentWith(t, fh, failDialer{})
}

func startAgentWith(t *testing.T, fh *fakeHub, d modem.Dialer) *Client {
	t.Helper()
	lister := func() ([]string, error) { return []string{"COM9"}, nil }
	c := New(agentConfig(fh.url()), d, lister)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("agent did not shut down")
		}
	})
	return c
}

func TestRegisterAndScanFlow(t *testing.T) {
	fh := newFakeHub(t)
	startAgent(t, fh)

	ws := fh.accept(t)
	env := readFrame(t, ws, hub.TypeRegisterDevice)
	var ref hub.DeviceRef
	require.NoError(t, hub.DecodePayload(env, &ref))
	assert.Equal(t, "AGENT1", ref.DeviceID)

	// Empty device id addresses every agent.
	writeFrame(t, ws, hub.TypeScanComPorts, hub.DeviceRef{})

	env = readFrame(t, ws, hub.TypeScanAcknowledgment)
	var ack hub.ScanAcknowledgment
	require.NoError(t, hub.DecodePayload(env, &ack))
	assert.Equal(t, "AGENT1", ack.DeviceID)

	env = readFrame(t, ws, hub.TypeComPortScanResult)
	var result hub.ComPortScanResult
	require.NoError(t, hub.DecodePayload(env, &result))
	assert.True(t, result.Result.Success)
	require.Len(t, result.Result.Ports, 1)
	assert.Equal(t, "COM9", result.Result.Ports[0].PortName)
	assert.False(t, result.Result.Ports[0].IsAvailable)

	env = readFrame(t, ws, hub.TypeComPortScanCompleted)
	var completed hub.ComPortScanCompleted
	require.NoError(t, hub.DecodePayload(env, &completed))
	_, err := time.Parse(time.RFC3339, completed.CompletedAt)
	assert.NoError(t, err)
}

func TestSendSmsReportsFailure(t *testing.T) {
	fh := newFakeHub(t)
	startAgent(t, fh)

	ws := fh.accept(t)
	readFrame(t, ws, hub.TypeRegisterDevice)

	// A command for another device is ignored entirely.
	writeFrame(t, ws, hub.TypeSendSms, hub.SendSmsCommand{
		DeviceID: "OTHER", ComPort: "COM7", TargetNumber: "+1", MessageContent: "x", RecordID: "theirs"})
	// Device matching is case-insensitive.
	writeFrame(t, ws, hub.TypeSendSms, hub.SendSmsCommand{
		DeviceID: "agent1", ComPort: "COM7", TargetNumber: "+1", MessageContent: "x", RecordID: "mine"})

	env := readFrame(t, ws, hub.TypeSmsResult)
	var result hub.SmsSendResult
	require.NoError(t, hub.DecodePayload(env, &result))
	assert.Equal(t, "mine", result.RecordID)
	assert.Equal(t, "Failed", result.Status)
	assert.Contains(t, result.Error, "COM7")
}

func TestSendSmsReportsSuccess(t *testing.T) {
	fh := newFakeHub(t)
	startAgentWith(t, fh, cannedDialer{})

	ws := fh.accept(t)
	readFrame(t, ws, hub.TypeRegisterDevice)

	writeFrame(t, ws, hub.TypeSendSms, hub.SendSmsCommand{
		DeviceID: "AGENT1", ComPort: "COM7", TargetNumber: "+15551234567",
		MessageContent: "hello", RecordID: "ok-1"})

	env := readFrame(t, ws, hub.TypeSmsResult)
	var result hub.SmsSendResult
	require.NoError(t, hub.DecodePayload(env, &result))
	assert.Equal(t, "ok-1", result.RecordID)
	assert.Equal(t, "Success", result.Status)
	assert.Empty(t, result.Error)
}

func TestAutoStartPortsRequireSim(t *testing.T) {
	ports := []domain.PortInfo{
		{PortName: "COM3", IsSmsModem: true, BaudRate: 115200, ModemInfo: &domain.ModemInfo{HasSimCard: true}},
		{PortName: "COM4", IsSmsModem: true, BaudRate: 9600, ModemInfo: &domain.ModemInfo{HasSimCard: false}},
		{PortName: "COM5", IsSmsModem: true, BaudRate: 115200},
		{PortName: "COM6", IsSmsModem: false, BaudRate: 115200, ModemInfo: &domain.ModemInfo{HasSimCard: true}},
		{PortName: "COM7", IsSmsModem: true, ModemInfo: &domain.ModemInfo{HasSimCard: true}},
	}

	got := autoStartPorts(ports)
	require.Len(t, got, 1)
	assert.Equal(t, modem.PortConfig{PortName: "COM3", BaudRate: 115200}, got[0])
}

func TestReconnectReregisters(t *testing.T) {
	fh := newFakeHub(t)
	startAgent(t, fh)

	first := fh.accept(t)
	readFrame(t, first, hub.TypeRegisterDevice)
	first.Close()

	// Backoff starts at one second; the agent must come back and
	// register again on the fresh connection.
	second := fh.accept(t)
	env := readFrame(t, second, hub.TypeRegisterDevice)
	var ref hub.DeviceRef
	require.NoError(t, hub.DecodePayload(env, &ref))
	assert.Equal(t, "AGENT1", ref.DeviceID)
}

func TestStopReceiverCommandIsAccepted(t *testing.T) {
	fh := newFakeHub(t)
	startAgent(t, fh)

	ws := fh.accept(t)
	readFrame(t, ws, hub.TypeRegisterDevice)

	// No listeners are running; the command must not wedge the agent.
	writeFrame(t, ws, hub.TypeStopSmsReceiver, hub.DeviceRef{DeviceID: "AGENT1"})
	writeFrame(t, ws, hub.TypeSendSms, hub.SendSmsCommand{
		DeviceID: "AGENT1", ComPort: "COM1", TargetNumber: "+1", MessageContent: "x", RecordID: "after-stop"})

	env := readFrame(t, ws, hub.TypeSmsResult)
	var result hub.SmsSendResult
	require.NoError(t, hub.DecodePayload(env, &result))
	assert.Equal(t, "after-stop", result.RecordID)
}
