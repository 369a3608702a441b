package modem

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/logging"
)

// Probe and detail budgets.
const (
	probeAttempts     = 3
	probeTimeout      = 1500 * time.Millisecond
	detailCmdTimeout  = 3 * time.Second
	detailTotalBudget = 25 * time.Second
)

// DefaultBaudRates is the probe ladder tried against every port, fastest
// and most common rate first.
var DefaultBaudRates = []int{115200, 9600, 19200, 38400, 57600}

// Scanner enumerates serial ports, identifies AT-speaking SMS modems, and
// gathers modem details.
type Scanner struct {
	deviceID  string
	dialer    Dialer
	lister    PortLister
	baudRates []int
}

// NewScanner creates a scanner for the device. A nil lister uses OS
// enumeration; empty baudRates use the default ladder.
func NewScanner(deviceID string, dialer Dialer, lister PortLister, baudRates []int) *Scanner {
	if lister == nil {
		lister = ListPorts
	}
	if len(baudRates) == 0 {
		baudRates = DefaultBaudRates
	}
	return &Scanner{deviceID: deviceID, dialer: dialer, lister: lister, baudRates: baudRates}
}

// Scan probes every enumerated port and returns the full result. Ports are
// reported incrementally through onPortFound in OS enumeration order; an
// identified modem is emitted twice, first bare (isSmsModem true, no
// details) and again once details are gathered, so clients can render
// responsively. onPortFound may be nil.
func (s *Scanner) Scan(ctx context.Context, onPortFound func(domain.PortInfo)) domain.ScanResult {
	result := domain.ScanResult{ScanTime: time.Now().UTC()}

	names, err := s.lister()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	emit := func(info domain.PortInfo) {
		if onPortFound != nil {
			onPortFound(info)
		}
	}

	for _, name := range names {
		select {
		case <-ctx.Done():
			result.Error = ctx.Err().Error()
			return result
		default:
		}

		info := s.scanPort(name, emit)
		result.Ports = append(result.Ports, info)
	}

	result.Success = true
	return result
}

// scanPort probes one port across the baud ladder, then gathers details
// when an AT device answers.
func (s *Scanner) scanPort(name string, emit func(domain.PortInfo)) domain.PortInfo {
	info := domain.PortInfo{DeviceID: s.deviceID, PortName: name}

	for _, rate := range s.baudRates {
		t, err := s.dialer.Dial(name, rate)
		if err != nil {
			continue
		}
		info.IsAvailable = true

		_ = t.ResetBuffers()
		time.Sleep(settleDelay)

		raw, answered := probe(t)
		if !answered {
			t.Close()
			continue
		}

		info.IsSmsModem = true
		info.BaudRate = rate
		info.Raw = strings.TrimSpace(raw)
		emit(info)

		info.ModemInfo = s.gatherDetails(t)
		if info.ModemInfo != nil {
			emit(info)
		}
		t.Close()
		return info
	}

	// No baud rate produced a recognized response. IsAvailable reflects
	// whether the port ever opened.
	emit(info)
	return info
}

// probe writes AT and, when nothing recognizable comes back, retries with
// an explicit CRLF terminator. Up to three attempts with a 1.5 s budget
// each.
func probe(t Transport) (raw string, answered bool) {
	for attempt := 0; attempt < probeAttempts; attempt++ {
		res, err := ExecAT(t, CmdAttention, probeTimeout)
		if err == nil || HasTerminator(res.Raw) {
			return res.Raw, true
		}

		// Some modems want an explicit CRLF; write it raw so the echo
		// settings of the device cannot hide the result.
		_ = t.ResetBuffers()
		if _, werr := t.Write([]byte(CmdAttention + CRLF)); werr != nil {
			return "", false
		}
		collected, _ := collectResponse(t, probeTimeout)
		if HasTerminator(collected) {
			return collected, true
		}
	}
	return "", false
}

// gatherDetails runs the identity and SIM queries under a shared total
// budget. A query that stalls or fails is skipped, never fatal.
func (s *Scanner) gatherDetails(t Transport) *domain.ModemInfo {
	deadline := time.Now().Add(detailTotalBudget)
	info := &domain.ModemInfo{SignalStrength: 99}

	query := func(cmd string) (string, bool) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false
		}
		timeout := detailCmdTimeout
		if remaining < timeout {
			timeout = remaining
		}
		res, err := ExecAT(t, cmd, timeout)
		if err != nil {
			logging.Debug("detail query failed", "cmd", cmd, logging.Err(err))
			return "", false
		}
		return res.Payload, true
	}

	if p, ok := query(CmdManufacturer); ok {
		info.Manufacturer = p
	}
	if p, ok := query(CmdModel); ok {
		info.Model = p
	}
	if p, ok := query(CmdFirmware); ok {
		info.Firmware = p
	}
	if p, ok := query(CmdIMEI); ok {
		info.IMEI = digitRun(p)
	}
	if p, ok := query(CmdSimStatus); ok {
		info.SimStatus = p
		info.HasSimCard = strings.Contains(p, SimReady) || strings.Contains(p, SimPin)
	}
	if p, ok := query(CmdOperator); ok {
		if op, found := firstQuoted(p); found {
			info.Operator = op
		}
	}
	if p, ok := query(CmdSignal); ok {
		info.SignalStrength = parseSignalStrength(p)
		info.SignalQuality = domain.SignalQualityLabel(info.SignalStrength)
	}
	if p, ok := query(CmdNetworkReg); ok {
		info.NetworkStatus = parseNetworkStatus(p)
	}

	// ICCID and own number only make sense with a SIM present.
	if info.HasSimCard {
		for _, cmd := range []string{"AT+CCID", "AT+ICCID", "AT^ICCID"} {
			p, ok := query(cmd)
			if !ok {
				continue
			}
			run := digitRun(p)
			if len(run) >= 18 && len(run) <= 22 {
				info.ICCID = run
				break
			}
		}
		if p, ok := query(CmdOwnNumber); ok {
			info.PhoneNumber = parseOwnNumber(p)
		}
	}

	return info
}

// parseSignalStrength extracts the first RSSI value after +CSQ:. 99 means
// unknown.
func parseSignalStrength(payload string) int {
	idx := strings.Index(payload, "+CSQ:")
	if idx < 0 {
		return 99
	}
	rest := strings.TrimSpace(payload[idx+len("+CSQ:"):])
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 0 {
		return 99
	}
	return n
}

// parseNetworkStatus maps the second +CREG? field to a registration label.
func parseNetworkStatus(payload string) string {
	idx := strings.Index(payload, "+CREG:")
	if idx < 0 {
		return ""
	}
	fields := strings.Split(payload[idx+len("+CREG:"):], ",")
	if len(fields) < 2 {
		return ""
	}
	stat := strings.TrimSpace(fields[1])
	// Drop anything after the status digit (some modems append location
	// info).
	if len(stat) > 1 {
		stat = stat[:1]
	}
	switch stat {
	case "0":
		return "Not registered"
	case "1":
		return "Registered Home"
	case "2":
		return "Searching"
	case "3":
		return "Denied"
	case "5":
		return "Registered Roaming"
	default:
		return ""
	}
}

// parseOwnNumber extracts the subscriber number from a +CNUM response: the
// first quoted string that starts with + or is all digits.
func parseOwnNumber(payload string) string {
	for _, q := range allQuoted(payload) {
		if looksLikeNumber(q) {
			return q
		}
	}
	return ""
}
