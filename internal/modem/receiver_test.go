package modem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modemfleet/internal/domain"
)

const testPort = "COM7"

func testPolicy() AutoHangupPolicy {
	return AutoHangupPolicy{
		Enabled:     true,
		HangupDelay: 10 * time.Millisecond,
		Cooldown:    500 * time.Millisecond,
	}
}

// startTestReceiver wires a receiver to the scripted transport and returns
// channels carrying the emitted events.
func startTestReceiver(t *testing.T, d *scriptedDialer, policy AutoHangupPolicy) (*Receiver, chan domain.SmsReceivedDto, chan domain.CallHangupDto) {
	t.Helper()

	smsCh := make(chan domain.SmsReceivedDto, 16)
	hangupCh := make(chan domain.CallHangupDto, 16)

	r := NewReceiver("edge-01", d, policy)
	r.OnSmsReceived(func(dto domain.SmsReceivedDto) { smsCh <- dto })
	r.OnCallHangup(func(dto domain.CallHangupDto) { hangupCh <- dto })

	require.NoError(t, r.StartListening(PortConfig{PortName: testPort, BaudRate: 115200}))
	t.Cleanup(r.Stop)
	return r, smsCh, hangupCh
}

func waitSms(t *testing.T, ch chan domain.SmsReceivedDto) domain.SmsReceivedDto {
	t.Helper()
	select {
	case dto := <-ch:
		return dto
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sms event")
		return domain.SmsReceivedDto{}
	}
}

func waitHangup(t *testing.T, ch chan domain.CallHangupDto) domain.CallHangupDto {
	t.Helper()
	select {
	case dto := <-ch:
		return dto
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for hangup event")
		return domain.CallHangupDto{}
	}
}

func TestStartListeningRequiresHandlers(t *testing.T) {
	r := NewReceiver("edge-01", newScriptedDialer(), testPolicy())
	err := r.StartListening(PortConfig{PortName: testPort, BaudRate: 115200})
	assert.Error(t, err)
}

func TestInlineUcs2SmsEmitted(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, smsCh, _ := startTestReceiver(t, d, testPolicy())

	tr.inject("\r\n+CMT: \"+905551112233\",,\"26/01/23,14:30:45+32\"\r\n" +
		"004D0065007200680061006200610020004400FC006E00790061\r\n")

	dto := waitSms(t, smsCh)
	assert.Equal(t, "edge-01", dto.DeviceID)
	assert.Equal(t, testPort, dto.ComPort)
	assert.Equal(t, "+905551112233", dto.SenderNumber)
	assert.Equal(t, "Merhaba Dünya", dto.MessageContent)
	assert.Equal(t, time.Date(2026, 1, 23, 14, 30, 45, 0, time.UTC), dto.ReceivedTime)
	assert.Equal(t, "26/01/23,14:30:45+32", dto.SmsTimestamp)
}

func TestInlineSmsSplitAcrossChunks(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, smsCh, _ := startTestReceiver(t, d, testPolicy())

	tr.inject("\r\n+CMT: \"+15551234567\",,\"26/02/01,09:15:00+00\"\r\nHel")
	time.Sleep(100 * time.Millisecond)
	select {
	case <-smsCh:
		t.Fatal("sms emitted before content was complete")
	default:
	}
	tr.inject("lo split\r\n")

	dto := waitSms(t, smsCh)
	assert.Equal(t, "Hello split", dto.MessageContent)
}

func TestStoredSmsReadEmittedAndDeleted(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	tr.respond("AT+CMGR=7",
		"\r\n+CMGR: \"REC UNREAD\",\"+15551234567\",\"\",\"26/08/15,10:00:00+12\"\r\nHello there\r\n\r\nOK\r\n")
	tr.respondOK("AT+CMGD=7")
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, smsCh, _ := startTestReceiver(t, d, testPolicy())

	tr.inject("\r\n+CMTI: \"SM\",7\r\n")

	dto := waitSms(t, smsCh)
	assert.Equal(t, "+15551234567", dto.SenderNumber)
	assert.Equal(t, "Hello there", dto.MessageContent)
	assert.Equal(t, time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC), dto.ReceivedTime)

	assert.Eventually(t, func() bool {
		return tr.countWrites("AT+CMGD=7") == 1
	}, 2*time.Second, 20*time.Millisecond, "stored sms was not deleted")
	assert.Equal(t, 1, tr.countWrites("AT+CMGR=7"))
}

func TestStoredSmsFallsBackToList(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	tr.respond("AT+CMGR=3", "\r\nOK\r\n")
	tr.respond(`AT+CMGL="ALL"`,
		"\r\n+CMGL: 3,\"REC UNREAD\",\"+15550009999\",\"\",\"26/03/01,12:00:00+04\"\r\nfallback body\r\n\r\nOK\r\n")
	tr.respondOK("AT+CMGD=3")
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, smsCh, _ := startTestReceiver(t, d, testPolicy())

	tr.inject("\r\n+CMTI: \"SM\",3\r\n")

	dto := waitSms(t, smsCh)
	assert.Equal(t, "+15550009999", dto.SenderNumber)
	assert.Equal(t, "fallback body", dto.MessageContent)
}

func TestAutoHangupTerminatesCall(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, _, hangupCh := startTestReceiver(t, d, testPolicy())

	tr.inject("\r\nRING\r\n+CLIP: \"+15550001111\",145\r\n")

	dto := waitHangup(t, hangupCh)
	assert.Equal(t, "+15550001111", dto.CallerNumber)
	assert.Equal(t, domain.HangupAuto, dto.Reason)
	assert.Equal(t, testPort, dto.ComPort)
	assert.False(t, dto.HangupTime.IsZero())

	assert.Equal(t, 1, tr.countWrites(CmdHangup+CR))
	assert.Equal(t, 1, tr.countWrites(CmdHangupCompat+CR))
}

func TestHangupDuringUrcFlood(t *testing.T) {
	policy := testPolicy()
	policy.HangupDelay = 150 * time.Millisecond

	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, _, hangupCh := startTestReceiver(t, d, policy)

	tr.inject("\r\nRING\r\n+CLIP: \"+15550001111\",145\r\n")

	// Keep the listener appending to its buffer while the hangup delay
	// elapses, so the diagnostic snapshot is taken under churn.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		tr.inject("\r\nRING\r\n")
		time.Sleep(2 * time.Millisecond)
	}

	dto := waitHangup(t, hangupCh)
	assert.Equal(t, "+15550001111", dto.CallerNumber)
	assert.Contains(t, dto.RawLine, "RING")
	assert.Equal(t, 1, tr.countWrites(CmdHangup+CR))
}

func TestWhitelistedCallerNotHungUp(t *testing.T) {
	policy := testPolicy()
	policy.Whitelist = []string{"5550001"}

	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, _, hangupCh := startTestReceiver(t, d, policy)

	tr.inject("\r\nRING\r\n+CLIP: \"+15550001111\",145\r\n")
	time.Sleep(300 * time.Millisecond)

	select {
	case dto := <-hangupCh:
		t.Fatalf("whitelisted caller was hung up: %+v", dto)
	default:
	}
	assert.Equal(t, 0, tr.countWrites(CmdHangup+CR))
}

func TestHangupCooldownSuppressesSecondCall(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, _, hangupCh := startTestReceiver(t, d, testPolicy())

	tr.inject("\r\nRING\r\n+CLIP: \"+15550001111\",145\r\n")
	waitHangup(t, hangupCh)

	// Second ring inside the cooldown window.
	tr.inject("\r\nRING\r\n+CLIP: \"+15550002222\",145\r\n")
	time.Sleep(300 * time.Millisecond)

	select {
	case dto := <-hangupCh:
		t.Fatalf("hangup inside cooldown window: %+v", dto)
	default:
	}
	assert.Equal(t, 1, tr.countWrites(CmdHangup+CR))
}

func TestInlineSmsOrderPreserved(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	_, smsCh, _ := startTestReceiver(t, d, testPolicy())

	tr.inject("\r\n+CMT: \"+111\",,\"26/01/23,14:30:45+32\"\r\nfirst\r\n" +
		"\r\n+CMT: \"+222\",,\"26/01/23,14:30:46+32\"\r\nsecond\r\n")

	first := waitSms(t, smsCh)
	second := waitSms(t, smsCh)
	assert.Equal(t, "first", first.MessageContent)
	assert.Equal(t, "second", second.MessageContent)
}

func TestPauseAndResumeListening(t *testing.T) {
	tr1 := newScriptedTransport()
	listenInitScript(tr1)
	tr2 := newScriptedTransport()
	listenInitScript(tr2)
	d := newScriptedDialer()
	d.add(testPort, tr1)
	d.add(testPort, tr2)

	r, smsCh, _ := startTestReceiver(t, d, testPolicy())

	require.True(t, r.PauseListening(testPort))
	assert.True(t, tr1.isClosed())
	assert.Equal(t, StatePaused, r.Session(testPort).State())

	// Pausing an already-paused port is a no-op.
	assert.False(t, r.PauseListening(testPort))

	require.True(t, r.ResumeListening(testPort))
	assert.Equal(t, 2, d.dialCount(testPort))
	assert.Equal(t, 1, tr2.countWrites(CmdTextMode+CR), "init sequence not re-run on resume")

	// The resumed listener still parses URCs.
	tr2.inject("\r\n+CMT: \"+333\",,\"26/04/04,08:00:00+08\"\r\nafter resume\r\n")
	dto := waitSms(t, smsCh)
	assert.Equal(t, "after resume", dto.MessageContent)
}

func TestResumeWithoutPauseReturnsFalse(t *testing.T) {
	tr := newScriptedTransport()
	listenInitScript(tr)
	d := newScriptedDialer()
	d.add(testPort, tr)

	r, _, _ := startTestReceiver(t, d, testPolicy())
	assert.False(t, r.ResumeListening(testPort))
	assert.False(t, r.ResumeListening("COM99"))
}
