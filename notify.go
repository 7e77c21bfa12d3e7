package sockproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Notifier fires the fire-and-forget HTTP GET notification described in
// spec §4.3/§6: method GET, redirects disabled, a short total timeout, and
// a discarded response body. Grounded on the teacher's raw HTTP
// request/response plumbing in http_util.go, adapted from a raw net.Conn
// exchange to a plain *http.Client call since there is no upgrade
// handshake here, just a one-shot GET.
type Notifier struct {
	base   string
	client *http.Client
	logger *Logger
}

func NewNotifier(base string, logger *Logger) *Notifier {
	return &Notifier{
		base: base,
		client: &http.Client{
			Timeout: notifyTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// buildURL constructs the data_request URL shape from spec §4.3. The
// controller's own URL parsing is case-insensitive about percent-escapes,
// but spec §8 scenario S3 documents the literal lowercase form
// ("serviceId=urn%3ax%3a..."), so escaped octets are lowercased to match it
// exactly rather than relying on RFC 3986 equivalence.
func (n *Notifier) buildURL(b NotifyBinding) string {
	return fmt.Sprintf("%s/data_request?id=action&output_format=json&DeviceNum=%d&serviceId=%s&action=%s&Pid=%s",
		n.base, b.Device, lowerEscape(b.Service), lowerEscape(b.Action), lowerEscape(b.Pid))
}

// lowerEscape is url.QueryEscape with percent-escaped hex digits lowercased.
func lowerEscape(s string) string {
	escaped := url.QueryEscape(s)
	if !strings.ContainsRune(escaped, '%') {
		return escaped
	}
	b := []byte(escaped)
	for i := 0; i < len(b); i++ {
		if b[i] == '%' && i+2 < len(b) {
			b[i+1] = lowerHexDigit(b[i+1])
			b[i+2] = lowerHexDigit(b[i+2])
			i += 2
		}
	}
	return string(b)
}

func lowerHexDigit(c byte) byte {
	if c >= 'A' && c <= 'F' {
		return c + ('a' - 'A')
	}
	return c
}

// Notify issues the GET and reports whether it was delivered. Errors are
// logged, never returned to the relay path: per spec §7, NotificationFailure
// is never fatal, but the caller still needs the outcome for metrics.
func (n *Notifier) Notify(ctx context.Context, b NotifyBinding) bool {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.buildURL(b), nil)
	if err != nil {
		n.logger.Warnf("notify: build request: %1", err)
		return false
	}
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", "sockproxyd-"+Version)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Infof("notify: %1 %2: %3", b.Service, b.Action, err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		n.logger.Warnf("notify: 401 unauthorized for dev=%1 service=%2 action=%3 (undefined on controller)", b.Device, b.Service, b.Action)
		return false
	case resp.StatusCode >= 300:
		n.logger.Infof("notify: unexpected status %1 for dev=%2", resp.StatusCode, b.Device)
		return false
	}
	return true
}
