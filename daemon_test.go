package sockproxy

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

// startTestDaemon spins up a Daemon on an ephemeral port against controller
// and returns it already running, plus a teardown func.
func startTestDaemon(t *testing.T, controller string) (*Daemon, func()) {
	t.Helper()
	d := NewDaemon("127.0.0.1", 0, nil, controller, NewLogger(nil), NewMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	_ = d.Addr() // blocks until the listener is bound
	return d, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("daemon did not shut down in time")
		}
	}
}

func dialCommandListener(t *testing.T, d *Daemon) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", d.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

var greetingRE = regexp.MustCompile(`^OK TOGGLEDBITS-SOCKPROXY 1 (L?[0-9a-f]+)\n$`)

func TestScenarioS1Greeting(t *testing.T) {
	d, stop := startTestDaemon(t, "http://127.0.0.1:1")
	defer stop()

	conn, r := dialCommandListener(t, d)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !greetingRE.MatchString(line) {
		t.Fatalf("greeting %q does not match expected shape", line)
	}
}

func TestScenarioS2CAPA(t *testing.T) {
	d, stop := startTestDaemon(t, "http://127.0.0.1:1")
	defer stop()

	conn, r := dialCommandListener(t, d)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := r.ReadString('\n'); err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte("CAPA\n"))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "OK CAPA BLKS RTIM NTFY CONN\n" {
		t.Fatalf("got %q", line)
	}
}

func TestScenarioS3ConnHappyPathAndNotification(t *testing.T) {
	var mu sync.Mutex
	var gotQuery url.Values
	notified := make(chan struct{}, 1)
	controller := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotQuery = r.URL.Query()
		mu.Unlock()
		select {
		case notified <- struct{}{}:
		default:
		}
	}))
	defer controller.Close()

	echo, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Close()
	go func() {
		conn, err := echo.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	d, stop := startTestDaemon(t, controller.URL)
	defer stop()

	conn, r := dialCommandListener(t, d)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	greeting, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	m := greetingRE.FindStringSubmatch(greeting)
	if m == nil {
		t.Fatalf("bad greeting %q", greeting)
	}
	id := m[1]

	connLine := "CONN " + echo.Addr().String() + " NTFY=42/urn:x:serviceId:X1/Handle\n"
	conn.Write([]byte(connLine))
	reply, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if reply != "OK CONN "+id+"\n" {
		t.Fatalf("got %q", reply)
	}

	conn.Write([]byte("hello\n"))
	echoed, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if echoed != "hello\n" {
		t.Fatalf("expected echoed bytes, got %q", echoed)
	}

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification to be fired")
	}

	mu.Lock()
	q := gotQuery
	mu.Unlock()
	if q.Get("DeviceNum") != "42" || q.Get("serviceId") != "urn:x:serviceId:X1" || q.Get("action") != "Handle" {
		t.Fatalf("unexpected notification query: %v", q)
	}
}

func TestScenarioS6StatFormat(t *testing.T) {
	d, stop := startTestDaemon(t, "http://127.0.0.1:1")
	defer stop()

	echo, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Close()
	go func() {
		for {
			conn, err := echo.Accept()
			if err != nil {
				return
			}
			go discardLoop(conn)
		}
	}()

	for i := 0; i < 2; i++ {
		conn, r := dialCommandListener(t, d)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		r.ReadString('\n') // greeting
		conn.Write([]byte("CONN " + echo.Addr().String() + "\n"))
		if _, err := r.ReadString('\n'); err != nil {
			t.Fatal(err)
		}
	}

	statConn, r := dialCommandListener(t, d)
	statConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r.ReadString('\n') // greeting
	statConn.Write([]byte("STAT\n"))

	var lines []string
	for i := 0; i < 4; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		lines = append(lines, line)
	}
	if !strings.HasPrefix(lines[0], " ID") {
		t.Fatalf("expected header line, got %q", lines[0])
	}
	var starCount int
	for _, l := range lines[1:] {
		if strings.HasPrefix(l, "*") {
			starCount++
		}
	}
	if starCount != 1 {
		t.Fatalf("expected exactly one line marking the caller, got %d in %v", starCount, lines[1:])
	}
}

func TestScenarioS7Stop(t *testing.T) {
	d := NewDaemon("127.0.0.1", 0, nil, "http://127.0.0.1:1", NewLogger(nil), NewMetrics())
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	_ = d.Addr()

	conn, r := dialCommandListener(t, d)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r.ReadString('\n') // greeting
	conn.Write([]byte("STOP\n"))
	reply, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if reply != "OK STOP\n" {
		t.Fatalf("got %q", reply)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not exit after STOP")
	}
}

func discardLoop(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
