// Package hub implements the realtime broker: agents and operator clients
// hold websocket connections to the server; commands are routed to single
// agents and events fan out to every client. Message payloads are JSON with
// lowerCamelCase fields inside a typed envelope.
package hub

import (
	"encoding/json"
	"fmt"

	"github.com/modemfleet/internal/domain"
)

// Message type names carried in the envelope.
const (
	// Agent → server.
	TypeRegisterDevice       = "RegisterDevice"
	TypeScanAcknowledgment   = "SendScanAcknowledgment"
	TypeComPortFound         = "SendComPortFound"
	TypeComPortScanResult    = "SendComPortScanResult"
	TypeComPortScanCompleted = "SendComPortScanCompleted"
	TypeSmsReceived          = "SendSmsReceived"
	TypeCallHangupRecord     = "SendCallHangupRecord"
	TypeSmsResult            = "SendSmsResult"

	// Server → agent.
	TypeScanComPorts     = "ScanComPorts"
	TypeStartSmsReceiver = "StartSmsReceiver"
	TypeStopSmsReceiver  = "StopSmsReceiver"
	TypeSendSms          = "SendSms"

	// Server → client broadcasts.
	TypeDeviceConnected          = "DeviceConnected"
	TypeDeviceDisconnected       = "DeviceDisconnected"
	TypeClientComPortFound       = "ComPortFound"
	TypeClientScanCompleted      = "ComPortScanCompleted"
	TypeClientSmsReceived        = "SmsReceived"
	TypeClientCallHangupRecord   = "CallHangupRecord"
	TypeClientSmsSendResult      = "SmsSendResult"
	TypeClientScanAcknowledgment = "ScanAcknowledgment"
)

// Envelope is the frame every hub message travels in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DeviceRef names a device; used by register, scan, presence, and stop
// messages.
type DeviceRef struct {
	DeviceID string `json:"deviceId"`
}

// ScanAcknowledgment reports scan progress in free text.
type ScanAcknowledgment struct {
	DeviceID string `json:"deviceId"`
	Message  string `json:"message"`
}

// ComPortFound carries one incrementally discovered port.
type ComPortFound struct {
	DeviceID string          `json:"deviceId"`
	Port     domain.PortInfo `json:"port"`
}

// ComPortScanResult carries the full scan outcome.
type ComPortScanResult struct {
	DeviceID string            `json:"deviceId"`
	Result   domain.ScanResult `json:"result"`
}

// ComPortScanCompleted marks the end of a scan.
type ComPortScanCompleted struct {
	DeviceID    string `json:"deviceId"`
	CompletedAt string `json:"completedAt"` // RFC 3339
}

// SmsReceived carries a received message event.
type SmsReceived struct {
	DeviceID string                `json:"deviceId"`
	Sms      domain.SmsReceivedDto `json:"sms"`
}

// CallHangupRecord carries a call-termination event.
type CallHangupRecord struct {
	DeviceID string               `json:"deviceId"`
	Hangup   domain.CallHangupDto `json:"hangup"`
}

// SmsSendResult reports the outcome of a send request.
type SmsSendResult struct {
	RecordID string `json:"recordId"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// ReceiverPort names one port the receiver should listen on.
type ReceiverPort struct {
	PortName string `json:"portName"`
	BaudRate int    `json:"baudRate"`
}

// StartSmsReceiver instructs an agent to start listeners.
type StartSmsReceiver struct {
	DeviceID string         `json:"deviceId"`
	Ports    []ReceiverPort `json:"ports"`
}

// SendSmsCommand instructs an agent to send one message.
type SendSmsCommand struct {
	DeviceID       string `json:"deviceId"`
	ComPort        string `json:"comPort"`
	TargetNumber   string `json:"targetNumber"`
	MessageContent string `json:"messageContent"`
	RecordID       string `json:"recordId"`
}

// Encode frames a payload into an envelope.
func Encode(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}
	return frame, nil
}

// Decode parses an envelope frame.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope without type")
	}
	return &env, nil
}

// DecodePayload parses the payload of an envelope into out.
func DecodePayload(env *Envelope, out any) error {
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
