package modem

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"
)

// DecodeUcs2IfNeeded decodes hex-encoded UCS2 (UTF-16BE) SMS content to
// UTF-8. Content that does not look like a UCS2 hex payload is returned
// unchanged. Modems occasionally emit truncated payloads, so a trailing
// partial word or half-byte is trimmed before decoding.
func DecodeUcs2IfNeeded(content string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\r', '\n', '"':
			return -1
		}
		return r
	}, content)

	if len(stripped) < 4 || !isHex(stripped) {
		return content
	}

	// Trim to a whole number of UTF-16 code units (4 hex chars each).
	stripped = stripped[:len(stripped)-len(stripped)%4]
	if stripped == "" {
		return content
	}

	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return content
	}

	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return string(utf16.Decode(units))
}

// EncodeUcs2Hex encodes s as hex UCS2 (UTF-16BE) for sending under
// AT+CSCS="UCS2".
func EncodeUcs2Hex(s string) string {
	units := utf16.Encode([]rune(s))
	raw := make([]byte, 0, len(units)*2)
	for _, u := range units {
		raw = append(raw, byte(u>>8), byte(u))
	}
	return strings.ToUpper(hex.EncodeToString(raw))
}

// IsGsm7Safe reports whether s can be sent as-is under AT+CSCS="GSM"
// without risk of garbling. Printable ASCII is the conservative subset all
// modems agree on.
func IsGsm7Safe(s string) bool {
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			if r == '\n' || r == '\r' {
				continue
			}
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

// ParseSmsTimestamp parses the AT text-mode service-center timestamp
// "YY/MM/DD,HH:MM:SS±TZ" into UTC. YY maps to 2000+YY. The wall-clock
// value is taken as UTC as-is; the trailing zone quarter-hours field is
// preserved only through the raw string the caller keeps.
func ParseSmsTimestamp(ts string) (time.Time, error) {
	trimmed := strings.TrimSpace(strings.Trim(ts, `"`))

	// Cut the ±TZ suffix if present.
	base := trimmed
	if idx := strings.LastIndexAny(trimmed, "+-"); idx > 8 {
		base = trimmed[:idx]
	}

	t, err := time.ParseInLocation("06/01/02,15:04:05", base, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sms timestamp %q: %w", ts, err)
	}
	return t, nil
}
