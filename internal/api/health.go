package api

import (
	"net/http"
	"time"

	"github.com/modemfleet/internal/version"
)

// HealthStatus is the full health check response.
type HealthStatus struct {
	Status           string         `json:"status"` // "ok" or "degraded"
	Time             time.Time      `json:"time"`
	Uptime           string         `json:"uptime"`
	UptimeSec        float64        `json:"uptimeSeconds"`
	Version          string         `json:"version"`
	Database         DatabaseHealth `json:"database"`
	ConnectedDevices int            `json:"connectedDevices"`
}

// DatabaseHealth reports database connectivity.
type DatabaseHealth struct {
	Connected  bool   `json:"connected"`
	ResponseMs int64  `json:"responseMs"`
	Error      string `json:"error,omitempty"`
}

// HealthHandler reports server, database, and hub status.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:           "ok",
		Time:             time.Now().UTC(),
		Version:          version.Full(),
		ConnectedDevices: len(s.hub.ConnectedDeviceIDs()),
	}
	uptime := time.Since(s.startTime)
	status.Uptime = uptime.Round(time.Second).String()
	status.UptimeSec = uptime.Seconds()

	start := time.Now()
	if err := s.db.Conn().PingContext(r.Context()); err != nil {
		status.Status = "degraded"
		status.Database = DatabaseHealth{Connected: false, Error: err.Error()}
	} else {
		status.Database = DatabaseHealth{
			Connected:  true,
			ResponseMs: time.Since(start).Milliseconds(),
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
