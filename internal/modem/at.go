// Package modem implements the edge driver for serial-attached GSM modems:
// port probing and identification, the SMS receiver with its unsolicited
// result code (URC) parser and auto-hangup policy, and the SMS send
// transaction. All port I/O goes through the Transport abstraction so the
// whole package is testable without hardware.
package modem

import (
	"strings"
)

// Terminal control.
const (
	CR     = "\r"
	CRLF   = "\r\n"
	Prompt = ">"
	CtrlZ  = "\x1a"
)

// Result codes.
const (
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR"
	CmsError = "+CMS ERROR"
	Ring     = "RING"
)

// URC prefixes.
const (
	UrcStoredSms = "+CMTI:"
	UrcInlineSms = "+CMT:"
	UrcCallerID  = "+CLIP:"
)

// Commands written by this package.
const (
	CmdAttention    = "AT"
	CmdEchoOff      = "ATE0"
	CmdTextMode     = "AT+CMGF=1"
	CmdNewMsgPush   = "AT+CNMI=2,2,0,0,0"
	CmdCharsetGsm   = `AT+CSCS="GSM"`
	CmdCharsetUcs2  = `AT+CSCS="UCS2"`
	CmdManufacturer = "AT+CGMI"
	CmdModel        = "AT+CGMM"
	CmdFirmware     = "AT+CGMR"
	CmdIMEI         = "AT+CGSN"
	CmdSimStatus    = "AT+CPIN?"
	CmdOperator     = "AT+COPS?"
	CmdSignal       = "AT+CSQ"
	CmdNetworkReg   = "AT+CREG?"
	CmdOwnNumber    = "AT+CNUM"
	CmdReadSms      = "AT+CMGR"
	CmdListSms      = "AT+CMGL"
	CmdDeleteSms    = "AT+CMGD"
	CmdSendSms      = "AT+CMGS"
	CmdHangup       = "ATH"
	CmdHangupCompat = "AT+CHUP"
)

// SIM states reported by AT+CPIN?.
const (
	SimReady = "READY"
	SimPin   = "SIM PIN"
)

// HasTerminator reports whether the accumulated response bytes contain a
// recognized final result. Modems differ in how they delimit result codes
// (\r, \n, or \r\n), so OK and ERROR are matched as whole lines after
// normalizing delimiters, while the +CME/+CMS forms match anywhere.
func HasTerminator(resp string) bool {
	if strings.Contains(resp, CmeError) || strings.Contains(resp, CmsError) {
		return true
	}
	for _, line := range responseLines(resp) {
		if line == OK || line == ERROR {
			return true
		}
	}
	return false
}

// IsErrorResponse reports whether the response carries a failure result.
func IsErrorResponse(resp string) bool {
	if strings.Contains(resp, CmeError) || strings.Contains(resp, CmsError) {
		return true
	}
	for _, line := range responseLines(resp) {
		if line == ERROR {
			return true
		}
	}
	return false
}

// responseLines splits a raw modem response into trimmed lines regardless of
// the delimiter style in use.
func responseLines(resp string) []string {
	normalized := strings.ReplaceAll(resp, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	raw := strings.Split(normalized, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		lines = append(lines, strings.TrimSpace(line))
	}
	return lines
}

// ExtractPayload reduces a raw response to its useful content: non-empty
// lines minus the command echo and terminator lines, joined by single
// spaces.
func ExtractPayload(resp, cmd string) string {
	var parts []string
	for _, line := range responseLines(resp) {
		if line == "" || line == OK || line == ERROR {
			continue
		}
		if cmd != "" && line == strings.TrimSpace(cmd) {
			continue
		}
		if strings.HasPrefix(line, CmeError) || strings.HasPrefix(line, CmsError) {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

// firstQuoted returns the first double-quoted substring of s, without the
// quotes, and whether one was found.
func firstQuoted(s string) (string, bool) {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return "", false
	}
	return s[start+1 : start+1+end], true
}

// digitRun returns the longest run of consecutive decimal digits in s.
func digitRun(s string) string {
	best := ""
	current := strings.Builder{}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			current.WriteRune(r)
			continue
		}
		if current.Len() > len(best) {
			best = current.String()
		}
		current.Reset()
	}
	if current.Len() > len(best) {
		best = current.String()
	}
	return best
}
