package modem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modemfleet/internal/domain"
)

func scriptModemDetails(tr *scriptedTransport) {
	tr.respondOK(CmdAttention)
	tr.respond(CmdManufacturer, "\r\nQuectel\r\n\r\nOK\r\n")
	tr.respond(CmdModel, "\r\nEC25\r\n\r\nOK\r\n")
	tr.respond(CmdFirmware, "\r\nEC25EFAR06A01M4G\r\n\r\nOK\r\n")
	tr.respond(CmdIMEI, "\r\n867322040123456\r\n\r\nOK\r\n")
	tr.respond(CmdSimStatus, "\r\n+CPIN: READY\r\n\r\nOK\r\n")
	tr.respond(CmdOperator, "\r\n+COPS: 0,0,\"Turkcell\",7\r\n\r\nOK\r\n")
	tr.respond(CmdSignal, "\r\n+CSQ: 21,0\r\n\r\nOK\r\n")
	tr.respond(CmdNetworkReg, "\r\n+CREG: 0,1\r\n\r\nOK\r\n")
	tr.respond("AT+CCID", "\r\n+CCID: 8990011234567890123\r\n\r\nOK\r\n")
	tr.respond(CmdOwnNumber, "\r\n+CNUM: \"\",\"+905551112233\",145\r\n\r\nOK\r\n")
}

func TestScanIdentifiesModem(t *testing.T) {
	tr := newScriptedTransport()
	scriptModemDetails(tr)
	d := newScriptedDialer()
	d.add("COM3", tr)

	s := NewScanner("edge-01", d, func() ([]string, error) {
		return []string{"COM3"}, nil
	}, []int{115200})

	var emitted []domain.PortInfo
	result := s.Scan(context.Background(), func(info domain.PortInfo) {
		emitted = append(emitted, info)
	})

	require.True(t, result.Success)
	require.Len(t, result.Ports, 1)

	port := result.Ports[0]
	assert.Equal(t, "edge-01", port.DeviceID)
	assert.Equal(t, "COM3", port.PortName)
	assert.True(t, port.IsAvailable)
	assert.True(t, port.IsSmsModem)
	assert.Equal(t, 115200, port.BaudRate)

	require.NotNil(t, port.ModemInfo)
	info := port.ModemInfo
	assert.Equal(t, "Quectel", info.Manufacturer)
	assert.Equal(t, "EC25", info.Model)
	assert.Equal(t, "867322040123456", info.IMEI)
	assert.True(t, info.HasSimCard)
	assert.Equal(t, "8990011234567890123", info.ICCID)
	assert.Equal(t, "Turkcell", info.Operator)
	assert.Equal(t, 21, info.SignalStrength)
	assert.Equal(t, "Good", info.SignalQuality)
	assert.Equal(t, "Registered Home", info.NetworkStatus)
	assert.Equal(t, "+905551112233", info.PhoneNumber)

	// An identified modem is reported twice: bare first, then with
	// details.
	require.Len(t, emitted, 2)
	assert.True(t, emitted[0].IsSmsModem)
	assert.Nil(t, emitted[0].ModemInfo)
	assert.NotNil(t, emitted[1].ModemInfo)
	assert.True(t, tr.isClosed())
}

func TestScanUnavailablePort(t *testing.T) {
	d := newScriptedDialer()

	s := NewScanner("edge-01", d, func() ([]string, error) {
		return []string{"COM9"}, nil
	}, []int{115200, 9600})

	var emitted []domain.PortInfo
	result := s.Scan(context.Background(), func(info domain.PortInfo) {
		emitted = append(emitted, info)
	})

	require.True(t, result.Success)
	require.Len(t, result.Ports, 1)
	assert.False(t, result.Ports[0].IsAvailable)
	assert.False(t, result.Ports[0].IsSmsModem)
	require.Len(t, emitted, 1)
	assert.Equal(t, 2, d.dialCount("COM9"))
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScanner("edge-01", newScriptedDialer(), func() ([]string, error) {
		return []string{"COM1", "COM2"}, nil
	}, []int{115200})

	result := s.Scan(ctx, nil)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestParseSignalStrength(t *testing.T) {
	assert.Equal(t, 21, parseSignalStrength("+CSQ: 21,0"))
	assert.Equal(t, 99, parseSignalStrength("+CSQ: 99,99"))
	assert.Equal(t, 99, parseSignalStrength("no signal report"))
	assert.Equal(t, 0, parseSignalStrength("+CSQ: 0,0"))
}

func TestParseNetworkStatus(t *testing.T) {
	assert.Equal(t, "Registered Home", parseNetworkStatus("+CREG: 0,1"))
	assert.Equal(t, "Registered Roaming", parseNetworkStatus("+CREG: 0,5"))
	assert.Equal(t, "Searching", parseNetworkStatus("+CREG: 0,2"))
	assert.Equal(t, "Denied", parseNetworkStatus("+CREG: 0,3"))
	assert.Equal(t, "Not registered", parseNetworkStatus("+CREG: 0,0"))
	assert.Equal(t, "", parseNetworkStatus("garbage"))
}

func TestParseOwnNumber(t *testing.T) {
	assert.Equal(t, "+905551112233", parseOwnNumber(`+CNUM: "","+905551112233",145`))
	assert.Equal(t, "", parseOwnNumber("+CNUM:"))
}

func TestSignalQualityLabels(t *testing.T) {
	tests := []struct {
		strength int
		want     string
	}{
		{0, "No Signal"}, {99, "No Signal"},
		{1, "Very Weak"}, {9, "Very Weak"},
		{10, "Weak"}, {14, "Weak"},
		{15, "Fair"}, {19, "Fair"},
		{20, "Good"}, {24, "Good"},
		{25, "Excellent"}, {31, "Excellent"},
		{50, "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.SignalQualityLabel(tt.strength), "strength %d", tt.strength)
	}
}
