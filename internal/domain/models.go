// Package domain defines the persisted entities and wire DTOs shared by the
// server and the edge agents. All timestamps are UTC. Wire JSON uses
// lowerCamelCase field names.
package domain

import (
	"time"
)

// Role determines what a user may see and do.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// MessageType distinguishes the two realtime event kinds that carry read
// receipts.
type MessageType string

const (
	MessageTypeSms    MessageType = "Sms"
	MessageTypeHangup MessageType = "Hangup"
)

// HangupReason records why a call was terminated.
type HangupReason string

const (
	HangupAuto    HangupReason = "AutoHangup"
	HangupManual  HangupReason = "Manual"
	HangupUnknown HangupReason = "Unknown"
)

// User is an operator account. Soft-deleted users are invisible to default
// queries.
type User struct {
	ID           string    `json:"id"`
	UserName     string    `json:"userName"`
	PasswordHash string    `json:"-"`
	PasswordSalt string    `json:"-"`
	Role         Role      `json:"role"`
	IsDeleted    bool      `json:"isDeleted"`
	CreateTime   time.Time `json:"createTime"`
	UpdateTime   time.Time `json:"updateTime"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// ComAllocation grants a non-admin user access to events whose
// (deviceId, comPort) pair matches. ComPorts keeps insertion order.
type ComAllocation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	DeviceID  string    `json:"deviceId"`
	ComPorts  []string  `json:"comPorts"`
	IsDeleted bool      `json:"isDeleted"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
}

// ModemInfo holds the detail answers gathered by the scanner for one SMS
// modem. SignalStrength follows AT+CSQ: 0-31, 99 meaning unknown.
type ModemInfo struct {
	HasSimCard     bool   `json:"hasSimCard"`
	ICCID          string `json:"iccid,omitempty"`
	Operator       string `json:"operator,omitempty"`
	SignalStrength int    `json:"signalStrength"`
	SignalQuality  string `json:"signalQuality,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	Model          string `json:"model,omitempty"`
	Firmware       string `json:"firmware,omitempty"`
	IMEI           string `json:"imei,omitempty"`
	SimStatus      string `json:"simStatus,omitempty"`
	NetworkStatus  string `json:"networkStatus,omitempty"`
}

// PortInfo describes one enumerated COM port of a device.
type PortInfo struct {
	DeviceID    string     `json:"deviceId"`
	PortName    string     `json:"portName"`
	IsAvailable bool       `json:"isAvailable"`
	IsSmsModem  bool       `json:"isSmsModem"`
	BaudRate    int        `json:"baudRate,omitempty"`
	ModemInfo   *ModemInfo `json:"modemInfo,omitempty"`
	Raw         string     `json:"raw,omitempty"`
}

// ScanResult is the full outcome of one COM port scan on a device.
type ScanResult struct {
	ScanTime time.Time  `json:"scanTime"`
	Success  bool       `json:"success"`
	Error    string     `json:"error,omitempty"`
	Ports    []PortInfo `json:"ports"`
}

// DeviceComSnapshot is the authoritative per-device catalog of ports.
// Exactly one non-deleted snapshot exists per device; writes are
// overwrite-semantic.
type DeviceComSnapshot struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"deviceId"`
	Ports      []PortInfo `json:"ports"`
	UpdateTime time.Time  `json:"updateTime"`
}

// SmsMessage is a received SMS persisted by the server.
type SmsMessage struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	ComPort        string    `json:"comPort"`
	SenderNumber   string    `json:"senderNumber"`
	MessageContent string    `json:"messageContent"`
	ReceivedTime   time.Time `json:"receivedTime"`
	SmsTimestamp   string    `json:"smsTimestamp,omitempty"`
	Operator       string    `json:"operator,omitempty"`
	IsDeleted      bool      `json:"isDeleted"`
	IsRead         bool      `json:"isRead"`
}

// CallHangupRecord is a persisted call-hangup event.
type CallHangupRecord struct {
	ID           string       `json:"id"`
	DeviceID     string       `json:"deviceId"`
	ComPort      string       `json:"comPort"`
	CallerNumber string       `json:"callerNumber,omitempty"`
	HangupTime   time.Time    `json:"hangupTime"`
	Reason       HangupReason `json:"reason"`
	RawLine      string       `json:"rawLine,omitempty"`
	IsDeleted    bool         `json:"isDeleted"`
	IsRead       bool         `json:"isRead"`
}

// MessageReadReceipt marks one message as seen by one user. The triple
// (UserID, MessageType, SourceID) is unique; duplicate inserts succeed
// silently.
type MessageReadReceipt struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	MessageType MessageType `json:"messageType"`
	SourceID    string      `json:"sourceId"`
	ReadTimeUtc time.Time   `json:"readTimeUtc"`
}

// Note is a free-form rich-text note owned by a user.
type Note struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	IsDeleted  bool      `json:"isDeleted"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
}

// UnreadCounts is the per-type unread tally for one user.
type UnreadCounts struct {
	Sms    int `json:"sms"`
	Hangup int `json:"hangup"`
}

// SmsReceivedDto is the event an agent emits when a message arrives.
type SmsReceivedDto struct {
	DeviceID       string    `json:"deviceId"`
	ComPort        string    `json:"comPort"`
	SenderNumber   string    `json:"senderNumber"`
	MessageContent string    `json:"messageContent"`
	ReceivedTime   time.Time `json:"receivedTime"`
	SmsTimestamp   string    `json:"smsTimestamp,omitempty"`
}

// ToRecord converts the event into the persisted message form. The server
// stamps the operator separately from the device snapshot.
func (d SmsReceivedDto) ToRecord() *SmsMessage {
	return &SmsMessage{
		DeviceID:       d.DeviceID,
		ComPort:        d.ComPort,
		SenderNumber:   d.SenderNumber,
		MessageContent: d.MessageContent,
		ReceivedTime:   d.ReceivedTime,
		SmsTimestamp:   d.SmsTimestamp,
	}
}

// CallHangupDto is the event an agent emits after terminating a call.
type CallHangupDto struct {
	DeviceID     string       `json:"deviceId"`
	ComPort      string       `json:"comPort"`
	CallerNumber string       `json:"callerNumber,omitempty"`
	HangupTime   time.Time    `json:"hangupTime"`
	Reason       HangupReason `json:"reason"`
	RawLine      string       `json:"rawLine,omitempty"`
}

// ToRecord converts the event into the persisted record form.
func (d CallHangupDto) ToRecord() *CallHangupRecord {
	return &CallHangupRecord{
		DeviceID:     d.DeviceID,
		ComPort:      d.ComPort,
		CallerNumber: d.CallerNumber,
		HangupTime:   d.HangupTime,
		Reason:       d.Reason,
		RawLine:      d.RawLine,
	}
}

// Page is the envelope for all paged list responses.
type Page[T any] struct {
	TotalCount int `json:"totalCount"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	Data       []T `json:"data"`
}

// SignalQualityLabel maps an AT+CSQ strength value to its human label.
// 0 and 99 mean no signal, 31 is the maximum reportable strength.
func SignalQualityLabel(strength int) string {
	switch {
	case strength == 0 || strength == 99:
		return "No Signal"
	case strength >= 1 && strength <= 9:
		return "Very Weak"
	case strength >= 10 && strength <= 14:
		return "Weak"
	case strength >= 15 && strength <= 19:
		return "Fair"
	case strength >= 20 && strength <= 24:
		return "Good"
	case strength >= 25 && strength <= 31:
		return "Excellent"
	default:
		return "Unknown"
	}
}
