package hub

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modemfleet/internal/logging"
	"github.com/modemfleet/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
	maxMessageSize = 1 << 20
)

// Hub routes commands to agent connections and fans events out to client
// connections. The connected-device map is process-local.
type Hub struct {
	store storage.Storage

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	agents   map[*connection]struct{}
	byDevice map[string]*connection // normalized device id → connection
	clients  map[*connection]struct{}
}

// connection is one websocket peer with a FIFO send queue. The write pump
// is the only goroutine touching the socket for writes.
type connection struct {
	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}

	deviceID string // set after RegisterDevice; empty for clients
}

// New creates a hub persisting ingested events through store.
func New(store storage.Storage) *Hub {
	return &Hub{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		agents:   make(map[*connection]struct{}),
		byDevice: make(map[string]*connection),
		clients:  make(map[*connection]struct{}),
	}
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue appends a frame to the connection's FIFO queue. A peer that
// cannot drain its queue is closed rather than allowed to stall the hub.
func (c *connection) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		logging.Warn("hub send queue full, dropping connection", "device_id", c.deviceID)
		c.close()
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// HandleAgent upgrades an agent connection and serves it until disconnect.
func (h *Hub) HandleAgent(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("agent websocket upgrade failed", logging.Err(err))
		return
	}
	c := newConnection(ws)

	h.mu.Lock()
	h.agents[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	h.agentReadLoop(r.Context(), c)
}

// HandleClient upgrades an operator client connection. Clients only
// receive; inbound frames are drained and ignored.
func (h *Hub) HandleClient(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("client websocket upgrade failed", logging.Err(err))
		return
	}
	c := newConnection(ws)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// agentReadLoop dispatches agent frames until the connection drops, then
// removes the presence mapping and notifies clients.
func (h *Hub) agentReadLoop(ctx context.Context, c *connection) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		env, err := Decode(frame)
		if err != nil {
			logging.Warn("undecodable agent frame", "device_id", c.deviceID, logging.Err(err))
			continue
		}
		h.dispatchAgent(ctx, c, env)
	}

	h.removeAgent(c)
}

func (h *Hub) removeAgent(c *connection) {
	h.mu.Lock()
	delete(h.agents, c)
	deviceID := c.deviceID
	if deviceID != "" && h.byDevice[storage.Normalize(deviceID)] == c {
		delete(h.byDevice, storage.Normalize(deviceID))
	} else {
		deviceID = ""
	}
	h.mu.Unlock()
	c.close()

	if deviceID != "" {
		logging.Info("device disconnected", "device_id", deviceID)
		h.Broadcast(TypeDeviceDisconnected, DeviceRef{DeviceID: deviceID})
	}
}

// dispatchAgent handles one agent message. Malformed payloads are logged
// and skipped, never fatal to the connection.
func (h *Hub) dispatchAgent(ctx context.Context, c *connection, env *Envelope) {
	switch env.Type {
	case TypeRegisterDevice:
		var msg DeviceRef
		if err := DecodePayload(env, &msg); err != nil || msg.DeviceID == "" {
			logging.Warn("invalid RegisterDevice payload", logging.Err(err))
			return
		}
		h.registerDevice(c, msg.DeviceID)

	case TypeScanAcknowledgment:
		var msg ScanAcknowledgment
		if err := DecodePayload(env, &msg); err != nil {
			logging.Warn("invalid scan acknowledgment", logging.Err(err))
			return
		}
		h.Broadcast(TypeClientScanAcknowledgment, msg)

	case TypeComPortFound:
		var msg ComPortFound
		if err := DecodePayload(env, &msg); err != nil {
			logging.Warn("invalid port-found payload", logging.Err(err))
			return
		}
		h.Broadcast(TypeClientComPortFound, msg)

	case TypeComPortScanResult:
		var msg ComPortScanResult
		if err := DecodePayload(env, &msg); err != nil {
			logging.Warn("invalid scan result payload", logging.Err(err))
			return
		}
		// Keep the snapshot current so operator stamping on SMS ingest
		// uses fresh data.
		if _, err := h.store.UpsertSnapshot(ctx, msg.DeviceID, msg.Result.Ports); err != nil {
			logging.Error("failed to persist scan snapshot",
				"device_id", msg.DeviceID, logging.Err(err))
		}

	case TypeComPortScanCompleted:
		var msg ComPortScanCompleted
		if err := DecodePayload(env, &msg); err != nil {
			logging.Warn("invalid scan-completed payload", logging.Err(err))
			return
		}
		h.Broadcast(TypeClientScanCompleted, msg)

	case TypeSmsReceived:
		var msg SmsReceived
		if err := DecodePayload(env, &msg); err != nil {
			logging.Warn("invalid sms payload", logging.Err(err))
			return
		}
		h.ingestSms(ctx, msg)

	case TypeCallHangupRecord:
		var msg CallHangupRecord
		if err := DecodePayload(env, &msg); err != nil {
			logging.Warn("invalid hangup payload", logging.Err(err))
			return
		}
		h.ingestHangup(ctx, msg)

	case TypeSmsResult:
		var msg SmsSendResult
		if err := DecodePayload(env, &msg); err != nil {
			logging.Warn("invalid sms result payload", logging.Err(err))
			return
		}
		logging.Info("sms send result", "record_id", msg.RecordID, "status", msg.Status)
		h.Broadcast(TypeClientSmsSendResult, msg)

	default:
		logging.Warn("unknown agent message type", "type", env.Type, "device_id", c.deviceID)
	}
}

func (h *Hub) registerDevice(c *connection, deviceID string) {
	key := storage.Normalize(deviceID)

	h.mu.Lock()
	prev := h.byDevice[key]
	c.deviceID = deviceID
	h.byDevice[key] = c
	h.mu.Unlock()

	// A reconnect replaces the stale connection. Close it only after the
	// mapping points at the new one.
	if prev != nil && prev != c {
		prev.close()
	}

	logging.Info("device registered", "device_id", deviceID)
	h.Broadcast(TypeDeviceConnected, DeviceRef{DeviceID: deviceID})
}

// ingestSms persists the message, enriched with the operator from the
// device snapshot, then broadcasts. Persistence failures never abort the
// broadcast: clients still see the live event.
func (h *Hub) ingestSms(ctx context.Context, msg SmsReceived) {
	record := msg.Sms.ToRecord()
	record.Operator = h.operatorFor(ctx, record.DeviceID, record.ComPort)
	if err := h.store.InsertSms(ctx, record); err != nil {
		args := append(logging.Port(record.DeviceID, record.ComPort), logging.Err(err))
		logging.Error("failed to persist sms", args...)
	}
	h.Broadcast(TypeClientSmsReceived, msg)
}

// ingestHangup persists the record unless the port is unknown, then
// broadcasts.
func (h *Hub) ingestHangup(ctx context.Context, msg CallHangupRecord) {
	if msg.Hangup.ComPort != "" {
		record := msg.Hangup.ToRecord()
		if err := h.store.InsertHangup(ctx, record); err != nil {
			args := append(logging.Port(record.DeviceID, record.ComPort), logging.Err(err))
			logging.Error("failed to persist hangup", args...)
		}
	}
	h.Broadcast(TypeClientCallHangupRecord, msg)
}

func (h *Hub) operatorFor(ctx context.Context, deviceID, portName string) string {
	snap, err := h.store.GetSnapshot(ctx, deviceID)
	if err != nil {
		return ""
	}
	want := storage.Normalize(portName)
	for _, p := range snap.Ports {
		if storage.Normalize(p.PortName) == want && p.ModemInfo != nil {
			return p.ModemInfo.Operator
		}
	}
	return ""
}

// Broadcast fans one event out to every client connection, FIFO per
// connection.
func (h *Hub) Broadcast(msgType string, payload any) {
	frame, err := Encode(msgType, payload)
	if err != nil {
		logging.Error("failed to encode broadcast", "type", msgType, logging.Err(err))
		return
	}

	h.mu.RLock()
	for c := range h.clients {
		c.enqueue(frame)
	}
	h.mu.RUnlock()
}

// ConnectedDeviceIDs returns the currently registered device ids, distinct
// and sorted case-insensitively.
func (h *Hub) ConnectedDeviceIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.byDevice))
	for _, c := range h.byDevice {
		ids = append(ids, c.deviceID)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return strings.ToLower(ids[i]) < strings.ToLower(ids[j])
	})
	return ids
}

// ErrDeviceNotConnected is returned when a command targets a device with no
// live connection.
var ErrDeviceNotConnected = fmt.Errorf("device not connected")

func (h *Hub) agentFor(deviceID string) (*connection, error) {
	h.mu.RLock()
	c, ok := h.byDevice[storage.Normalize(deviceID)]
	h.mu.RUnlock()
	if !ok {
		logging.Warn("command for unconnected device", "device_id", deviceID)
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrDeviceNotConnected)
	}
	return c, nil
}

// RequestComPortScan dispatches a scan command to one agent.
func (h *Hub) RequestComPortScan(deviceID string) error {
	c, err := h.agentFor(deviceID)
	if err != nil {
		return err
	}
	frame, err := Encode(TypeScanComPorts, DeviceRef{DeviceID: deviceID})
	if err != nil {
		return err
	}
	c.enqueue(frame)
	return nil
}

// RequestStartSmsReceiver instructs an agent to start listeners on ports.
func (h *Hub) RequestStartSmsReceiver(deviceID string, ports []ReceiverPort) error {
	c, err := h.agentFor(deviceID)
	if err != nil {
		return err
	}
	frame, err := Encode(TypeStartSmsReceiver, StartSmsReceiver{DeviceID: deviceID, Ports: ports})
	if err != nil {
		return err
	}
	c.enqueue(frame)
	return nil
}

// RequestStopSmsReceiver instructs an agent to stop all listeners.
func (h *Hub) RequestStopSmsReceiver(deviceID string) error {
	c, err := h.agentFor(deviceID)
	if err != nil {
		return err
	}
	frame, err := Encode(TypeStopSmsReceiver, DeviceRef{DeviceID: deviceID})
	if err != nil {
		return err
	}
	c.enqueue(frame)
	return nil
}

// RequestSendSms dispatches a send command to one agent.
func (h *Hub) RequestSendSms(cmd SendSmsCommand) error {
	c, err := h.agentFor(cmd.DeviceID)
	if err != nil {
		return err
	}
	frame, err := Encode(TypeSendSms, cmd)
	if err != nil {
		return err
	}
	c.enqueue(frame)
	return nil
}
