package lnbits

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// timestampLayouts is the fixed-format table tried before falling back to the
// permissive parser. Ordered: ISO with fraction and Z marker, without
// fraction, the naive variants, then the space-separated form some funding
// sources emit.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp normalises the heterogeneous timestamp representations seen
// on ledger records into a single UTC instant. Bare numbers are treated as
// unix epoch seconds. Instants without an explicit offset are assumed UTC.
// ok is false when nothing parses; that is not an error, it just means the
// record carries no usable timestamp.
func ParseTimestamp(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	if epoch, err := strconv.ParseFloat(text, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}

	// Best-effort second stage for anything outside the fixed table.
	if ts, err := dateparse.ParseIn(text, time.UTC); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}
