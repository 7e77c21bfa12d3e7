package sockproxy

import (
	"net"
	"testing"
)

func TestSessionSetupLineBuffering(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	s := newSession("1", false, c1, "peer")

	s.appendSetupBuf([]byte("CAP"))
	if _, ok := s.takeLine(); ok {
		t.Fatal("expected no line before newline arrives")
	}
	s.appendSetupBuf([]byte("A\nCONN 1.2.3.4:80\nrest"))

	line, ok := s.takeLine()
	if !ok || string(line) != "CAPA" {
		t.Fatalf("got %q %v", line, ok)
	}
	line, ok = s.takeLine()
	if !ok || string(line) != "CONN 1.2.3.4:80" {
		t.Fatalf("got %q %v", line, ok)
	}
	if _, ok := s.takeLine(); ok {
		t.Fatal("expected no further complete line")
	}
	if rest := s.drainSetupBuf(); string(rest) != "rest" {
		t.Fatalf("drainSetupBuf = %q", rest)
	}
	if rest := s.drainSetupBuf(); len(rest) != 0 {
		t.Fatalf("expected empty buffer after drain, got %q", rest)
	}
}

func TestSessionEnterEchoAdoptsRemoteTimeout(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	r1, r2 := net.Pipe()
	defer r1.Close()
	defer r2.Close()

	s := newSession("1", false, c1, "peer")
	s.setRemoteTimeoutMs(9000)
	s.enterEcho(r1, "remote:1")

	_, _, peerTimeoutMs, remoteTimeoutMs, _, _, remoteAddr := s.snapshot()
	if peerTimeoutMs != 9000 {
		t.Fatalf("expected peer_timeout_ms to adopt remote_timeout_ms, got %d", peerTimeoutMs)
	}
	if remoteTimeoutMs != 9000 {
		t.Fatalf("remote_timeout_ms = %d", remoteTimeoutMs)
	}
	if remoteAddr != "remote:1" {
		t.Fatalf("remote addr = %q", remoteAddr)
	}
	if s.State() != StateEcho {
		t.Fatal("expected StateEcho")
	}
}

func TestSessionNotifyPendingCoalesces(t *testing.T) {
	c1, _ := net.Pipe()
	defer c1.Close()
	s := newSession("1", false, c1, "peer")

	if !s.markNotifyPending() {
		t.Fatal("expected first claim to succeed")
	}
	if s.markNotifyPending() {
		t.Fatal("expected second claim to fail while pending")
	}
	s.clearNotifyPending()
	if !s.markNotifyPending() {
		t.Fatal("expected claim to succeed again after clear")
	}
}

func TestSessionCloseSocketsIsIdempotent(t *testing.T) {
	c1, _ := net.Pipe()
	r1, _ := net.Pipe()
	s := newSession("1", false, c1, "peer")
	s.enterEcho(r1, "remote:1")

	s.closeSockets()
	s.closeSockets() // must not panic
}

func TestNotifyBindingBound(t *testing.T) {
	if (NotifyBinding{Device: -1}).bound() {
		t.Fatal("negative device should not be bound")
	}
	if !(NotifyBinding{Device: 0}).bound() {
		t.Fatal("device 0 should be bound")
	}
}
