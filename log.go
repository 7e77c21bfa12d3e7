package sockproxy

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Logger wraps log/slog with the original daemon's %N positional
// interpolation style (spec §2 item 8, §10.1): "%1", "%2", ... in the
// format string are replaced by the corresponding trailing argument. This
// is only ever called from setup/teardown/error paths, never per relayed
// chunk, so the string-rewriting cost never lands in the hot path.
type Logger struct {
	base *slog.Logger
}

func NewLogger(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base}
}

func interpolate(format string, args ...any) string {
	if !strings.ContainsRune(format, '%') {
		return format
	}
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		start := j
		for j < len(format) && format[j] >= '0' && format[j] <= '9' {
			j++
		}
		if j == start {
			// not a %N token (e.g. a literal "%%" or "%s"); pass through.
			b.WriteByte(c)
			continue
		}
		n, err := strconv.Atoi(format[start:j])
		if err != nil || n < 1 || n > len(args) {
			b.WriteString(format[i:j])
			i = j - 1
			continue
		}
		fmt.Fprintf(&b, "%v", args[n-1])
		i = j - 1
	}
	return b.String()
}

func (l *Logger) Debugf(format string, args ...any) { l.base.Debug(interpolate(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.base.Info(interpolate(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.base.Warn(interpolate(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.base.Error(interpolate(format, args...)) }

// With returns a child logger with structured key/value context attached,
// for call sites that want both a slog attribute and a %N message (e.g.
// per-session logging keyed by session id).
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}
