package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/hub"
	"github.com/modemfleet/internal/storage"
)

// ConnectedDevicesHandler returns the ids of agents currently connected to
// the hub.
func (s *Server) ConnectedDevicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.ConnectedDeviceIDs())
}

// ScanComPortsHandler asks an agent to run a COM port scan. Results arrive
// over the hub as broadcasts.
func (s *Server) ScanComPortsHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if err := s.hub.RequestComPortScan(deviceID); err != nil {
		writeError(w, http.StatusNotFound, "device not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "scan requested"})
}

// GetSnapshotHandler returns the stored port catalog of a device.
func (s *Server) GetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	snap, err := s.store.GetSnapshot(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type upsertSnapshotRequest struct {
	Ports []domain.PortInfo `json:"ports"`
}

// UpsertSnapshotHandler overwrites the port catalog of a device. The path
// deviceId wins over whatever each port carries.
func (s *Server) UpsertSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	var req upsertSnapshotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.store.UpsertSnapshot(r.Context(), deviceID, req.Ports)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type startReceiverRequest struct {
	Ports []hub.ReceiverPort `json:"ports"`
}

// StartSmsReceiverHandler asks an agent to start SMS listeners.
func (s *Server) StartSmsReceiverHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	var req startReceiverRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Ports) == 0 {
		writeError(w, http.StatusBadRequest, "at least one port is required")
		return
	}
	if err := s.hub.RequestStartSmsReceiver(deviceID, req.Ports); err != nil {
		writeError(w, http.StatusNotFound, "device not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "receiver start requested"})
}

// StopSmsReceiverHandler asks an agent to stop all SMS listeners.
func (s *Server) StopSmsReceiverHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if err := s.hub.RequestStopSmsReceiver(deviceID); err != nil {
		writeError(w, http.StatusNotFound, "device not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "receiver stop requested"})
}

type sendSmsRequest struct {
	DeviceID       string `json:"deviceId"`
	ComPort        string `json:"comPort"`
	TargetNumber   string `json:"targetNumber"`
	MessageContent string `json:"messageContent"`
}

// SendSmsHandler dispatches an outbound SMS to an agent. The outcome comes
// back asynchronously as an SmsSendResult broadcast carrying the returned
// record id.
func (s *Server) SendSmsHandler(w http.ResponseWriter, r *http.Request) {
	var req sendSmsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" || req.ComPort == "" || req.TargetNumber == "" || req.MessageContent == "" {
		writeError(w, http.StatusBadRequest, "deviceId, comPort, targetNumber and messageContent are required")
		return
	}

	cmd := hub.SendSmsCommand{
		DeviceID:       req.DeviceID,
		ComPort:        req.ComPort,
		TargetNumber:   req.TargetNumber,
		MessageContent: req.MessageContent,
		RecordID:       uuid.NewString(),
	}
	if err := s.hub.RequestSendSms(cmd); err != nil {
		writeError(w, http.StatusNotFound, "device not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"recordId": cmd.RecordID})
}
