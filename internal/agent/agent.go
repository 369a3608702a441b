// Package agent implements the edge process: it keeps a websocket session
// to the central server, executes scan / listen / send commands against the
// local modems, and streams the resulting events back.
package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modemfleet/internal/config"
	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/hub"
	"github.com/modemfleet/internal/logging"
	"github.com/modemfleet/internal/modem"
)

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 30 * time.Second
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Client is the agent-side hub connection plus the modem machinery it
// drives.
type Client struct {
	cfg      config.AgentConfig
	scanner  *modem.Scanner
	receiver *modem.Receiver
	sender   *modem.Sender

	mu   sync.Mutex // guards conn for concurrent event sends
	conn *websocket.Conn
}

// New wires the modem stack for one device. A nil lister enumerates the
// real serial ports.
func New(cfg config.AgentConfig, dialer modem.Dialer, lister modem.PortLister) *Client {
	policy := modem.AutoHangupPolicy{
		Enabled:     cfg.AutoHangup.Enabled,
		HangupDelay: cfg.AutoHangup.HangupDelay(),
		Cooldown:    cfg.AutoHangup.Cooldown(),
		Whitelist:   cfg.AutoHangup.Whitelist,
	}

	c := &Client{
		cfg:      cfg,
		scanner:  modem.NewScanner(cfg.DeviceID, dialer, lister, cfg.Scanner.BaudRates),
		receiver: modem.NewReceiver(cfg.DeviceID, dialer, policy),
	}
	c.sender = modem.NewSender(dialer, c.receiver)

	// Event bridges are hooked once, before any listener starts.
	c.receiver.OnSmsReceived(func(dto domain.SmsReceivedDto) {
		c.send(hub.TypeSmsReceived, hub.SmsReceived{DeviceID: cfg.DeviceID, Sms: dto})
	})
	c.receiver.OnCallHangup(func(dto domain.CallHangupDto) {
		c.send(hub.TypeCallHangupRecord, hub.CallHangupRecord{DeviceID: cfg.DeviceID, Hangup: dto})
	})
	return c
}

// Run keeps the hub session alive until the context is cancelled,
// reconnecting with exponential backoff and re-registering the device on
// every new connection.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()

	backoff := reconnectMin
	for {
		connected, err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logging.Warn("hub session ended", "device_id", c.cfg.DeviceID, logging.Err(err))
		}
		if connected {
			backoff = reconnectMin
		}

		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))
		logging.Info("reconnecting to hub",
			"device_id", c.cfg.DeviceID, logging.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// runSession dials, registers, and serves commands until the connection
// drops. Reports whether a connection was established at all.
func (c *Client) runSession(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.ServerURL, nil)
	cancel()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop when the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if !c.send(hub.TypeRegisterDevice, hub.DeviceRef{DeviceID: c.cfg.DeviceID}) {
		return true, errors.New("failed to register device")
	}
	logging.Info("registered with hub", "device_id", c.cfg.DeviceID, "server", c.cfg.ServerURL)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		env, err := hub.Decode(frame)
		if err != nil {
			logging.Warn("undecodable hub frame", logging.Err(err))
			continue
		}
		c.dispatch(ctx, env)
	}
}

// dispatch handles one server command. Commands naming another device are
// ignored; an empty target addresses every agent.
func (c *Client) dispatch(ctx context.Context, env *hub.Envelope) {
	switch env.Type {
	case hub.TypeScanComPorts:
		var ref hub.DeviceRef
		if err := hub.DecodePayload(env, &ref); err != nil || !c.isTarget(ref.DeviceID) {
			return
		}
		go c.runScan(ctx)

	case hub.TypeStartSmsReceiver:
		var cmd hub.StartSmsReceiver
		if err := hub.DecodePayload(env, &cmd); err != nil || !c.isTarget(cmd.DeviceID) {
			return
		}
		c.startReceivers(portConfigs(cmd.Ports))

	case hub.TypeStopSmsReceiver:
		var ref hub.DeviceRef
		if err := hub.DecodePayload(env, &ref); err != nil || !c.isTarget(ref.DeviceID) {
			return
		}
		logging.Info("stopping sms receivers", "device_id", c.cfg.DeviceID)
		c.receiver.Stop()

	case hub.TypeSendSms:
		var cmd hub.SendSmsCommand
		if err := hub.DecodePayload(env, &cmd); err != nil || !c.isTarget(cmd.DeviceID) {
			return
		}
		go c.runSend(cmd)

	default:
		logging.Debug("ignoring hub message", "type", env.Type)
	}
}

func (c *Client) isTarget(deviceID string) bool {
	return deviceID == "" || strings.EqualFold(deviceID, c.cfg.DeviceID)
}

// runScan executes a full port scan, streaming port discoveries as they
// happen, and optionally auto-starts listeners on the identified modems.
func (c *Client) runScan(ctx context.Context) {
	c.send(hub.TypeScanAcknowledgment, hub.ScanAcknowledgment{
		DeviceID: c.cfg.DeviceID,
		Message:  "scan started",
	})

	result := c.scanner.Scan(ctx, func(info domain.PortInfo) {
		c.send(hub.TypeComPortFound, hub.ComPortFound{DeviceID: c.cfg.DeviceID, Port: info})
	})

	c.send(hub.TypeComPortScanResult, hub.ComPortScanResult{DeviceID: c.cfg.DeviceID, Result: result})
	c.send(hub.TypeComPortScanCompleted, hub.ComPortScanCompleted{
		DeviceID:    c.cfg.DeviceID,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	})

	if result.Success && c.cfg.Receiver.AutoStartOnScan {
		c.startReceivers(autoStartPorts(result.Ports))
	}
}

// autoStartPorts selects the scanned ports eligible for an automatic
// listener: an identified SMS modem with a SIM present and a known baud
// rate. Modems without a SIM cannot receive and are skipped.
func autoStartPorts(ports []domain.PortInfo) []modem.PortConfig {
	var out []modem.PortConfig
	for _, p := range ports {
		if p.IsSmsModem && p.BaudRate > 0 && p.ModemInfo != nil && p.ModemInfo.HasSimCard {
			out = append(out, modem.PortConfig{PortName: p.PortName, BaudRate: p.BaudRate})
		}
	}
	return out
}

func (c *Client) startReceivers(ports []modem.PortConfig) {
	if len(ports) == 0 {
		return
	}
	if err := c.receiver.StartListening(ports...); err != nil {
		logging.Error("failed to start listeners", "device_id", c.cfg.DeviceID, logging.Err(err))
	}
}

// runSend executes one outbound SMS and reports the outcome.
func (c *Client) runSend(cmd hub.SendSmsCommand) {
	result := c.sender.SendSms(cmd.ComPort, cmd.TargetNumber, cmd.MessageContent)

	status := "Success"
	if !result.Success {
		status = "Failed"
	}
	c.send(hub.TypeSmsResult, hub.SmsSendResult{
		RecordID: cmd.RecordID,
		Status:   status,
		Error:    result.Error,
	})
}

// send encodes and writes one frame. Returns false when there is no live
// connection or the write fails; events raised while disconnected are
// dropped.
func (c *Client) send(msgType string, payload any) bool {
	frame, err := hub.Encode(msgType, payload)
	if err != nil {
		logging.Error("failed to encode hub message", "type", msgType, logging.Err(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		logging.Warn("dropping event, hub not connected", "type", msgType)
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logging.Warn("hub write failed", "type", msgType, logging.Err(err))
		return false
	}
	return true
}

func (c *Client) shutdown() {
	c.receiver.Stop()
	c.sender.Close()
}

func portConfigs(ports []hub.ReceiverPort) []modem.PortConfig {
	out := make([]modem.PortConfig, 0, len(ports))
	for _, p := range ports {
		out = append(out, modem.PortConfig{PortName: p.PortName, BaudRate: p.BaudRate})
	}
	return out
}
