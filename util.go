package sockproxy

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// splitKV splits a KEY=VALUE token into its two halves. ok is false if
// there is no '='.
func splitKV(tok string) (key, value string, ok bool) {
	i := strings.IndexByte(tok, '=')
	if i < 0 {
		return "", "", false
	}
	return tok[:i], tok[i+1:], true
}

// past returns a time safely in the past, used to force an immediate
// deadline exceeded on the next Read/Write without racing the clock.
func past() time.Time {
	return time.Now().Add(-time.Second)
}

// unwrapOp unwraps a net.OpError to the underlying error so logs read
// "connection reset by peer" instead of "read tcp 1.2.3.4:5678: ...".
func unwrapOp(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err
	}
	return err
}

// parseMs parses a decimal millisecond value for the RTIM command and
// CONN's RTIM= option, rejecting negatives since timeouts are never
// negative (spec §4.4).
func parseMs(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// formatDuration renders d as the STAT table does: MMmSS below 100 minutes,
// HHhMM at or beyond that (spec §4.5 "when >=100 minutes").
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalSec := int64(d / time.Second)
	if totalSec < 100*60 {
		return pad2(totalSec/60) + "m" + pad2(totalSec%60)
	}
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	return pad2(h) + "h" + pad2(m)
}

func pad2(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
