package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
)

// UpsertSnapshot overwrites the port catalog of a device. Exactly one
// snapshot row exists per device; the deviceId inside each port is rewritten
// to the addressed device.
func (s *SQLStorage) UpsertSnapshot(ctx context.Context, deviceID string, ports []domain.PortInfo) (*domain.DeviceComSnapshot, error) {
	for i := range ports {
		ports[i].DeviceID = deviceID
	}
	if ports == nil {
		ports = []domain.PortInfo{}
	}
	data, err := json.Marshal(ports)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot ports: %w", err)
	}
	now := time.Now().UTC()

	// Portable upsert: update first, insert when nothing matched.
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE device_com_snapshots SET ports = ?, update_time = ? WHERE device_id = ?`),
		string(data), now, deviceID)
	if err != nil {
		return nil, fmt.Errorf("update snapshot for %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		_, err = s.db.Conn().ExecContext(ctx, s.db.Rebind(
			`INSERT INTO device_com_snapshots (id, device_id, ports, update_time)
			 VALUES (?, ?, ?, ?)`),
			uuid.NewString(), deviceID, string(data), now)
		if err != nil && !isUniqueViolation(err) {
			return nil, fmt.Errorf("insert snapshot for %s: %w", deviceID, err)
		}
		// A concurrent insert won the race; the overwrite semantics
		// make retrying the update unnecessary for this writer.
	}
	return s.GetSnapshot(ctx, deviceID)
}

// GetSnapshot returns the port catalog of a device.
func (s *SQLStorage) GetSnapshot(ctx context.Context, deviceID string) (*domain.DeviceComSnapshot, error) {
	var snap domain.DeviceComSnapshot
	var data string
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, device_id, ports, update_time FROM device_com_snapshots WHERE device_id = ?`),
		deviceID).Scan(&snap.ID, &snap.DeviceID, &data, &snap.UpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot for %s: %w", deviceID, err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Ports); err != nil {
		return nil, fmt.Errorf("decode snapshot ports for %s: %w", deviceID, err)
	}
	return &snap, nil
}

// ListSnapshots returns every device snapshot.
func (s *SQLStorage) ListSnapshots(ctx context.Context) ([]domain.DeviceComSnapshot, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, device_id, ports, update_time FROM device_com_snapshots ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.DeviceComSnapshot
	for rows.Next() {
		var snap domain.DeviceComSnapshot
		var data string
		if err := rows.Scan(&snap.ID, &snap.DeviceID, &data, &snap.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &snap.Ports); err != nil {
			return nil, fmt.Errorf("decode snapshot ports for %s: %w", snap.DeviceID, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// OperatorForPort looks up the operator recorded in a device's snapshot for
// one port. Used to stamp SMS rows on ingest; returns "" when unknown.
func (s *SQLStorage) OperatorForPort(ctx context.Context, deviceID, portName string) string {
	snap, err := s.GetSnapshot(ctx, deviceID)
	if err != nil {
		return ""
	}
	want := Normalize(portName)
	for _, p := range snap.Ports {
		if Normalize(p.PortName) == want && p.ModemInfo != nil {
			return p.ModemInfo.Operator
		}
	}
	return ""
}
