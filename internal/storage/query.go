package storage

import (
	"strings"
	"time"
)

// condSet accumulates WHERE conditions and their arguments for the paged
// event queries.
type condSet struct {
	conds []string
	args  []any
}

func (c *condSet) add(cond string, args ...any) {
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

func (c *condSet) where() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.conds, " AND ")
}

// addIn appends an IN condition over normalized values.
func (c *condSet) addIn(column string, values []string) {
	if len(values) == 0 {
		return
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = "?"
		c.args = append(c.args, v)
	}
	c.conds = append(c.conds, column+" IN ("+strings.Join(ph, ",")+")")
}

// addScope applies the visibility envelope. Callers must have handled the
// empty-scope case already.
func (c *condSet) addScope(scope Scope) {
	if scope.Admin {
		return
	}
	c.addIn("UPPER(TRIM(device_id))", scope.DeviceIDs)
	c.addIn("UPPER(TRIM(com_port))", scope.ComPorts)
}

// addEventFilter applies the query-parameter filters shared by the SMS and
// hangup listings.
func (c *condSet) addEventFilter(f EventFilter, numberColumn, timeColumn string) {
	if f.DeviceID != "" {
		c.add("UPPER(TRIM(device_id)) = ?", Normalize(f.DeviceID))
	}
	if f.ComPort != "" {
		c.add("UPPER(TRIM(com_port)) = ?", Normalize(f.ComPort))
	}
	if f.Number != "" {
		c.add(numberColumn+" LIKE ?", "%"+strings.TrimSpace(f.Number)+"%")
	}
	if !f.StartTime.IsZero() {
		c.add(timeColumn+" >= ?", f.StartTime.UTC())
	}
	if !f.EndTime.IsZero() {
		c.add(timeColumn+" <= ?", f.EndTime.UTC())
	}
}

// utc truncates to UTC for storage; zero stays zero.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
