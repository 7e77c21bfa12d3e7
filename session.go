package sockproxy

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the setup/echo state of a Session (spec §3).
type State int

const (
	// StateSetup is the command-parsing phase before a successful CONN.
	StateSetup State = iota + 1
	// StateEcho is the transparent byte-relay phase after a successful CONN.
	StateEcho
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "SETUP"
	case StateEcho:
		return "ECHO"
	default:
		return "UNKNOWN"
	}
}

// NotifyBinding identifies where and how notifications for a session are
// delivered to the controller (spec §3 "Notification binding").
type NotifyBinding struct {
	Device  int
	Service string
	Action  string
	Pid     string
}

// bound reports whether this binding should produce notifications at all.
func (b NotifyBinding) bound() bool {
	return b.Device >= 0
}

// Session is the daemon's record of one proxied connection. Fields touched
// only during SETUP and rarely thereafter (state, timeouts, block size,
// binding, remote socket) are guarded by mu; fields updated on every relayed
// chunk (counters, activity timestamps, the notification-pending flag) are
// plain atomics so the relay hot path never blocks on a lock contended by a
// concurrent STAT caller.
type Session struct {
	ID        string
	Direct    bool
	PeerAddr  string
	CreatedTs time.Time

	clientConn net.Conn

	mu              sync.Mutex
	state           State
	remoteConn      net.Conn
	remoteAddr      string
	blockSize       int
	peerTimeoutMs   int64
	remoteTimeoutMs int64
	notifyPaceS     float64
	binding         NotifyBinding
	setupBuf        []byte

	lastPeerNano    atomic.Int64
	lastRemoteNano  atomic.Int64
	lastNotifyNano  atomic.Int64
	recvFromRemote  atomic.Uint64
	sentToRemote    atomic.Uint64
	notifyPending   atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, direct bool, clientConn net.Conn, peerAddr string) *Session {
	s := &Session{
		ID:            id,
		Direct:        direct,
		PeerAddr:      peerAddr,
		CreatedTs:     time.Now(),
		clientConn:    clientConn,
		state:         StateSetup,
		blockSize:     defaultBlockSize,
		peerTimeoutMs: defaultPeerTimeoutMs,
		binding:       NotifyBinding{Device: -1},
		closed:        make(chan struct{}),
	}
	now := time.Now().UnixNano()
	s.lastPeerNano.Store(now)
	s.lastRemoteNano.Store(now)
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enterEcho transitions SETUP -> ECHO: attaches the remote socket, fixes
// the remote address for reporting, and replaces peer_timeout_ms with
// remote_timeout_ms per spec §3.
func (s *Session) enterEcho(remoteConn net.Conn, remoteAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateEcho
	s.remoteConn = remoteConn
	s.remoteAddr = remoteAddr
	s.peerTimeoutMs = s.remoteTimeoutMs
}

func (s *Session) setBlockSize(n int)         { s.mu.Lock(); s.blockSize = n; s.mu.Unlock() }
func (s *Session) setRemoteTimeoutMs(ms int64) {
	s.mu.Lock()
	s.remoteTimeoutMs = ms
	s.mu.Unlock()
}
func (s *Session) setPeerTimeoutMs(ms int64) { s.mu.Lock(); s.peerTimeoutMs = ms; s.mu.Unlock() }
func (s *Session) setNotifyPaceS(v float64)  { s.mu.Lock(); s.notifyPaceS = v; s.mu.Unlock() }
func (s *Session) setBinding(b NotifyBinding) { s.mu.Lock(); s.binding = b; s.mu.Unlock() }

func (s *Session) snapshot() (state State, blockSize int, peerTimeoutMs, remoteTimeoutMs int64, notifyPaceS float64, binding NotifyBinding, remoteAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.blockSize, s.peerTimeoutMs, s.remoteTimeoutMs, s.notifyPaceS, s.binding, s.remoteAddr
}

func (s *Session) binding_() NotifyBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

func (s *Session) remoteSocket() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteConn
}

func (s *Session) appendSetupBuf(p []byte) {
	s.mu.Lock()
	s.setupBuf = append(s.setupBuf, p...)
	s.mu.Unlock()
}

// takeLine removes and returns the first newline-terminated line (without
// the newline) from the setup buffer, if one is present.
func (s *Session) takeLine() (line []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.setupBuf {
		if b == '\n' {
			line = append(line, s.setupBuf[:i]...)
			s.setupBuf = s.setupBuf[i+1:]
			return line, true
		}
	}
	return nil, false
}

// drainSetupBuf returns and clears whatever remains in the setup buffer;
// used once CONN succeeds to flush bytes the client sent past the command
// line directly to the remote leg (spec §4.4 "permanently stops command
// parsing").
func (s *Session) drainSetupBuf() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	rest := s.setupBuf
	s.setupBuf = nil
	return rest
}

func (s *Session) touchPeer()   { s.lastPeerNano.Store(time.Now().UnixNano()) }
func (s *Session) touchRemote() { s.lastRemoteNano.Store(time.Now().UnixNano()) }

func (s *Session) idleOnRemote() time.Duration {
	return time.Since(time.Unix(0, s.lastRemoteNano.Load()))
}

func (s *Session) addRecvFromRemote(n int) { s.recvFromRemote.Add(uint64(n)) }
func (s *Session) addSentToRemote(n int)   { s.sentToRemote.Add(uint64(n)) }

func (s *Session) counters() (recv, sent uint64) {
	return s.recvFromRemote.Load(), s.sentToRemote.Load()
}

// markNotifyPending returns true if it successfully claimed the (at most
// one) pending notification slot for this session, false if one was
// already queued (spec §4.3 coalescing).
func (s *Session) markNotifyPending() bool {
	return s.notifyPending.CompareAndSwap(false, true)
}

func (s *Session) clearNotifyPending() { s.notifyPending.Store(false) }

func (s *Session) lastNotify() time.Time {
	return time.Unix(0, s.lastNotifyNano.Load())
}

func (s *Session) setLastNotify(t time.Time) {
	s.lastNotifyNano.Store(t.UnixNano())
}

// closeSockets shuts down and closes both legs exactly once. Safe to call
// from multiple goroutines (client-read and remote-read loops both race to
// tear a session down when either leg fails).
func (s *Session) closeSockets() {
	s.closeOnce.Do(func() {
		if s.clientConn != nil {
			s.clientConn.Close()
		}
		if rc := s.remoteSocket(); rc != nil {
			rc.Close()
		}
		close(s.closed)
	})
}
