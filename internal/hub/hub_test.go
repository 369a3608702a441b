package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modemfleet/internal/config"
	"github.com/modemfleet/internal/database"
	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/storage"
)

type hubHarness struct {
	hub   *Hub
	store *storage.SQLStorage
	srv   *httptest.Server
}

func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver:       "sqlite3",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", t.Name()),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	store := storage.New(db)
	h := New(store)

	mux := http.NewServeMux()
	mux.HandleFunc("/hub/agent", h.HandleAgent)
	mux.HandleFunc("/hub/client", h.HandleClient)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &hubHarness{hub: h, store: store, srv: srv}
}

func (hh *hubHarness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hh.srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEnvelope(t *testing.T, ws *websocket.Conn, msgType string, payload any) {
	t.Helper()
	frame, err := Encode(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

// readEnvelope reads frames until one of the wanted type arrives. Presence
// broadcasts interleave with event broadcasts, so tests skip what they are
// not asserting on.
func readEnvelope(t *testing.T, ws *websocket.Conn, wantType string) *Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		_, frame, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", wantType)
		env, err := Decode(frame)
		require.NoError(t, err)
		if env.Type == wantType {
			return env
		}
	}
}

func TestRegisterAndPresence(t *testing.T) {
	hh := newHubHarness(t)
	client := hh.dial(t, "/hub/client")

	agent := hh.dial(t, "/hub/agent")
	sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: "Device-1"})

	env := readEnvelope(t, client, TypeDeviceConnected)
	var ref DeviceRef
	require.NoError(t, DecodePayload(env, &ref))
	assert.Equal(t, "Device-1", ref.DeviceID)

	require.Eventually(t, func() bool {
		ids := hh.hub.ConnectedDeviceIDs()
		return len(ids) == 1 && ids[0] == "Device-1"
	}, 2*time.Second, 20*time.Millisecond)

	agent.Close()
	env = readEnvelope(t, client, TypeDeviceDisconnected)
	require.NoError(t, DecodePayload(env, &ref))
	assert.Equal(t, "Device-1", ref.DeviceID)

	require.Eventually(t, func() bool {
		return len(hh.hub.ConnectedDeviceIDs()) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConnectedDeviceIDsSorted(t *testing.T) {
	hh := newHubHarness(t)

	for _, id := range []string{"zeta", "Alpha", "beta"} {
		agent := hh.dial(t, "/hub/agent")
		sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: id})
	}

	require.Eventually(t, func() bool {
		return len(hh.hub.ConnectedDeviceIDs()) == 3
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"Alpha", "beta", "zeta"}, hh.hub.ConnectedDeviceIDs())
}

func TestSmsIngestPersistsWithOperatorThenBroadcasts(t *testing.T) {
	hh := newHubHarness(t)
	ctx := context.Background()

	_, err := hh.store.UpsertSnapshot(ctx, "D1", []domain.PortInfo{{
		PortName:   "COM3",
		IsSmsModem: true,
		ModemInfo:  &domain.ModemInfo{Operator: "Turkcell", SignalStrength: 21},
	}})
	require.NoError(t, err)

	client := hh.dial(t, "/hub/client")
	agent := hh.dial(t, "/hub/agent")
	sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})
	readEnvelope(t, client, TypeDeviceConnected)

	dto := domain.SmsReceivedDto{
		DeviceID:       "D1",
		ComPort:        "COM3",
		SenderNumber:   "+905551112233",
		MessageContent: "Merhaba",
		ReceivedTime:   time.Now().UTC(),
		SmsTimestamp:   "25/08/26,14:03:12",
	}
	sendEnvelope(t, agent, TypeSmsReceived, SmsReceived{DeviceID: "D1", Sms: dto})

	env := readEnvelope(t, client, TypeClientSmsReceived)
	var got SmsReceived
	require.NoError(t, DecodePayload(env, &got))
	assert.Equal(t, "Merhaba", got.Sms.MessageContent)

	// Persisted row carries the operator stamped from the snapshot.
	page, err := hh.store.ListSms(ctx, "admin", storage.AdminScope(), storage.EventFilter{}, storage.PageRequest{Number: 1, Size: 10})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, "Turkcell", page.Data[0].Operator)
	assert.Equal(t, "+905551112233", page.Data[0].SenderNumber)
}

func TestHangupWithoutPortBroadcastsButSkipsPersistence(t *testing.T) {
	hh := newHubHarness(t)
	ctx := context.Background()

	client := hh.dial(t, "/hub/client")
	agent := hh.dial(t, "/hub/agent")
	sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})
	readEnvelope(t, client, TypeDeviceConnected)

	dto := domain.CallHangupDto{
		DeviceID:   "D1",
		HangupTime: time.Now().UTC(),
		Reason:     domain.HangupAuto,
	}
	sendEnvelope(t, agent, TypeCallHangupRecord, CallHangupRecord{DeviceID: "D1", Hangup: dto})

	readEnvelope(t, client, TypeClientCallHangupRecord)

	page, err := hh.store.ListHangups(ctx, "admin", storage.AdminScope(), storage.EventFilter{}, storage.PageRequest{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)
}

func TestHangupWithPortIsPersisted(t *testing.T) {
	hh := newHubHarness(t)
	ctx := context.Background()

	client := hh.dial(t, "/hub/client")
	agent := hh.dial(t, "/hub/agent")
	sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})
	readEnvelope(t, client, TypeDeviceConnected)

	dto := domain.CallHangupDto{
		DeviceID:     "D1",
		ComPort:      "COM3",
		CallerNumber: "+905550001122",
		HangupTime:   time.Now().UTC(),
		Reason:       domain.HangupAuto,
	}
	sendEnvelope(t, agent, TypeCallHangupRecord, CallHangupRecord{DeviceID: "D1", Hangup: dto})
	readEnvelope(t, client, TypeClientCallHangupRecord)

	page, err := hh.store.ListHangups(ctx, "admin", storage.AdminScope(), storage.EventFilter{}, storage.PageRequest{Number: 1, Size: 10})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, "+905550001122", page.Data[0].CallerNumber)
	assert.Equal(t, domain.HangupAuto, page.Data[0].Reason)
}

func TestScanCommandRoundTrip(t *testing.T) {
	hh := newHubHarness(t)

	require.ErrorIs(t, hh.hub.RequestComPortScan("ghost"), ErrDeviceNotConnected)

	agent := hh.dial(t, "/hub/agent")
	sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})
	require.Eventually(t, func() bool {
		return len(hh.hub.ConnectedDeviceIDs()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	// Device id lookup is case-insensitive.
	require.NoError(t, hh.hub.RequestComPortScan("d1"))

	env := readEnvelope(t, agent, TypeScanComPorts)
	var ref DeviceRef
	require.NoError(t, DecodePayload(env, &ref))
	assert.Equal(t, "d1", ref.DeviceID)
}

func TestSendSmsCommandAndResult(t *testing.T) {
	hh := newHubHarness(t)

	client := hh.dial(t, "/hub/client")
	agent := hh.dial(t, "/hub/agent")
	sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})
	readEnvelope(t, client, TypeDeviceConnected)

	cmd := SendSmsCommand{
		DeviceID:       "D1",
		ComPort:        "COM7",
		TargetNumber:   "+905551112233",
		MessageContent: "test",
		RecordID:       "rec-9",
	}
	require.NoError(t, hh.hub.RequestSendSms(cmd))

	env := readEnvelope(t, agent, TypeSendSms)
	var got SendSmsCommand
	require.NoError(t, DecodePayload(env, &got))
	assert.Equal(t, cmd, got)

	sendEnvelope(t, agent, TypeSmsResult, SmsSendResult{RecordID: "rec-9", Status: "Success"})

	env = readEnvelope(t, client, TypeClientSmsSendResult)
	var result SmsSendResult
	require.NoError(t, DecodePayload(env, &result))
	assert.Equal(t, "rec-9", result.RecordID)
	assert.Equal(t, "Success", result.Status)
}

func TestScanResultUpdatesSnapshot(t *testing.T) {
	hh := newHubHarness(t)
	ctx := context.Background()

	agent := hh.dial(t, "/hub/agent")
	sendEnvelope(t, agent, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})

	result := domain.ScanResult{
		ScanTime: time.Now().UTC(),
		Success:  true,
		Ports: []domain.PortInfo{
			{PortName: "COM3", IsAvailable: true, IsSmsModem: true, BaudRate: 115200},
			{PortName: "COM4", IsAvailable: false},
		},
	}
	sendEnvelope(t, agent, TypeComPortScanResult, ComPortScanResult{DeviceID: "D1", Result: result})

	require.Eventually(t, func() bool {
		snap, err := hh.store.GetSnapshot(ctx, "D1")
		return err == nil && len(snap.Ports) == 2
	}, 2*time.Second, 20*time.Millisecond)

	snap, err := hh.store.GetSnapshot(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "COM3", snap.Ports[0].PortName)
	assert.True(t, snap.Ports[0].IsSmsModem)
	assert.Equal(t, "D1", snap.Ports[0].DeviceID)
}

func TestReconnectReplacesStaleAgent(t *testing.T) {
	hh := newHubHarness(t)

	first := hh.dial(t, "/hub/agent")
	sendEnvelope(t, first, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})
	require.Eventually(t, func() bool {
		return len(hh.hub.ConnectedDeviceIDs()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	second := hh.dial(t, "/hub/agent")
	sendEnvelope(t, second, TypeRegisterDevice, DeviceRef{DeviceID: "D1"})

	// The hub closes the stale connection once the new one registers.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// Commands land on the new connection.
	require.NoError(t, hh.hub.RequestComPortScan("D1"))
	readEnvelope(t, second, TypeScanComPorts)

	assert.Equal(t, []string{"D1"}, hh.hub.ConnectedDeviceIDs())
}
