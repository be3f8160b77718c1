package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// arrivalLayouts are the ISO-8601 forms accepted for arrival_time. Forms
// without a zone are read as UTC.
var arrivalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseArrivalTime parses an ISO-8601 timestamp.
func parseArrivalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range arrivalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("dispatch: arrival_time %q is not an ISO-8601 timestamp", s)
}
