package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/modemfleet/internal/storage"
)

// parseIntParam parses an integer query parameter. Returns 0 and false when
// the parameter is absent or invalid.
func parseIntParam(query url.Values, key string) (int, bool) {
	if val := query.Get(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n, true
		}
	}
	return 0, false
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(query url.Values, key string) bool {
	val, err := strconv.ParseBool(query.Get(key))
	return err == nil && val
}

// parseTimeParam parses an RFC 3339 timestamp query parameter.
func parseTimeParam(query url.Values, key string) time.Time {
	if val := query.Get(key); val != "" {
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// pageRequest extracts pageNumber/pageSize; storage clamps the values.
func pageRequest(r *http.Request) storage.PageRequest {
	query := r.URL.Query()
	page := storage.PageRequest{Number: 1, Size: 50}
	if n, ok := parseIntParam(query, "pageNumber"); ok {
		page.Number = n
	}
	if n, ok := parseIntParam(query, "pageSize"); ok {
		page.Size = n
	}
	return page
}

// eventFilter extracts the shared SMS/hangup listing filters. numberKey
// names the contains-match parameter, senderNumber or callerNumber.
func eventFilter(r *http.Request, numberKey string, allowDeleted bool) storage.EventFilter {
	query := r.URL.Query()
	f := storage.EventFilter{
		DeviceID:  query.Get("deviceId"),
		ComPort:   query.Get("comPort"),
		Number:    query.Get(numberKey),
		StartTime: parseTimeParam(query, "startTime"),
		EndTime:   parseTimeParam(query, "endTime"),
	}
	if allowDeleted {
		f.IncludeDeleted = parseBoolParam(query, "includeDeleted")
	}
	return f
}
