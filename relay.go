package sockproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// runSession drives one session end to end: command parsing in SETUP,
// then bidirectional byte relay once CONN succeeds, until either leg fails.
// Grounded on the teacher's Relayer.Run in the old relay.go — two
// goroutines racing to finish, the first error wins via a cancel-cause
// context — adapted so the client-leg goroutine also owns command
// dispatch while the session is in SETUP, since here (unlike the rendezvous
// relay) the two legs are not symmetric: only the client leg ever speaks
// the setup protocol.
func (d *Daemon) runSession(parent context.Context, s *Session) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("session %1: panic: %2", s.ID, r)
			d.teardown(s, fmt.Errorf("panic: %v", r))
		}
	}()
	ctx, fail := context.WithCancelCause(parent)
	defer fail(nil)

	// Force both sockets to wake from a blocked Read/Write the moment the
	// session is canceled, whichever leg caused it.
	timeoutOnce := sync.OnceFunc(func() {
		s.clientConn.SetDeadline(past())
		if rc := s.remoteSocket(); rc != nil {
			rc.Close()
		}
	})
	stop := context.AfterFunc(ctx, timeoutOnce)
	defer stop()

	echoStarted := make(chan struct{})
	if s.State() == StateEcho {
		// Direct-listener sessions are already in ECHO by the time
		// runSession is invoked (spec §4.1 step 2): the remote leg is
		// ready to read from the start.
		close(echoStarted)
	}
	remoteDone := make(chan struct{})
	go func() {
		defer close(remoteDone)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Errorf("session %1: remote leg panic: %2", s.ID, r)
				fail(fmt.Errorf("%w: panic: %v", ErrRemoteIO, r))
			}
		}()
		<-echoStarted
		if rc := s.remoteSocket(); rc != nil {
			fail(d.remoteLoop(ctx, s))
		}
	}()

	clientErr := d.clientLoop(ctx, s, echoStarted)
	fail(clientErr)
	<-remoteDone

	d.teardown(s, context.Cause(ctx))
}

// clientLoop owns the client leg for the session's whole life: command
// parsing while SETUP, verbatim relay once ECHO. It returns the terminal
// error (io.EOF on a graceful QUIT or clean close).
func (d *Daemon) clientLoop(ctx context.Context, s *Session, echoStarted chan struct{}) error {
	signaled := s.State() == StateEcho
	defer func() {
		if !signaled {
			close(echoStarted)
		}
	}()

	buf := make([]byte, 65536)
	for {
		state, blockSize, peerTimeoutMs, _, _, _, _ := s.snapshot()
		if err := setReadDeadline(s.clientConn, peerTimeoutMs); err != nil {
			return err
		}

		n, err := s.clientConn.Read(buf[:clampBlock(blockSize, len(buf))])
		if n > 0 {
			s.touchPeer()
			if state == StateSetup {
				if stop, serr := d.handleSetupBytes(ctx, s, buf[:n], echoStarted, &signaled); serr != nil || stop {
					if serr != nil {
						return serr
					}
					return io.EOF
				}
			} else {
				if _, werr := s.remoteSocket().Write(buf[:n]); werr != nil {
					return werr
				}
				s.addSentToRemote(n)
				d.metrics.bytes("to_remote", n)
			}
		}
		if err != nil {
			if isTimeout(err) && ctx.Err() == nil {
				return ErrIdleTimeout
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}
	}
}

// handleSetupBytes feeds newly-read client bytes through the line buffer
// and the command interpreter. It returns stop=true when QUIT asks for the
// session to close (or a reply write failed). After a successful CONN it
// returns stop=false, so clientLoop keeps reading and relays the rest
// verbatim instead of parsing.
func (d *Daemon) handleSetupBytes(ctx context.Context, s *Session, p []byte, echoStarted chan struct{}, signaled *bool) (stop bool, err error) {
	s.appendSetupBuf(p)
	for {
		line, ok := s.takeLine()
		if !ok {
			return false, nil
		}
		res := d.execCommand(ctx, s, string(line))
		if res.reply != "" {
			if _, werr := io.WriteString(s.clientConn, res.reply); werr != nil {
				return true, werr
			}
		}
		if res.requestStop {
			d.requestStop()
		}
		if res.enterEcho {
			rest := s.drainSetupBuf()
			if len(rest) > 0 {
				if _, werr := s.remoteSocket().Write(rest); werr != nil {
					return true, werr
				}
				s.addSentToRemote(len(rest))
			}
			if !*signaled {
				*signaled = true
				close(echoStarted)
			}
			return false, nil
		}
		if res.closeAfter {
			return true, nil
		}
	}
}

// remoteLoop relays remote-leg arrivals back to the client and enqueues a
// notification for each one (spec §4.2/§4.3).
func (d *Daemon) remoteLoop(ctx context.Context, s *Session) error {
	buf := make([]byte, 65536)
	rc := s.remoteSocket()
	for {
		_, blockSize, _, remoteTimeoutMs, _, _, _ := s.snapshot()
		if err := setReadDeadline(rc, remoteTimeoutMs); err != nil {
			return err
		}

		n, err := rc.Read(buf[:clampBlock(blockSize, len(buf))])
		if n > 0 {
			if _, werr := s.clientConn.Write(buf[:n]); werr != nil {
				return werr
			}
			s.addRecvFromRemote(n)
			s.touchRemote()
			d.metrics.bytes("to_client", n)
			d.queue.Enqueue(s)
		}
		if err != nil {
			if isTimeout(err) && ctx.Err() == nil {
				return ErrIdleTimeout
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}
	}
}

// teardown tears both legs down exactly once, removes the session from the
// daemon's table, records metrics, and emits the final notification (spec
// §5 "emitted after teardown" / §7 "ClientProtocolError... tear down").
func (d *Daemon) teardown(s *Session, cause error) {
	s.closeSockets()
	d.removeSession(s.ID)

	outcome := classifyOutcome(cause)
	d.metrics.sessionClosed(outcome)
	recv, sent := s.counters()
	d.logger.Infof("session %1 closed (%2): recv=%3 sent=%4", s.ID, outcome, recv, sent)

	d.queue.EnqueueFinal(s.ID, s.binding_())
}

func classifyOutcome(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, errSessionClosed):
		return "closed"
	case errors.Is(err, ErrIdleTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func setReadDeadline(c net.Conn, timeoutMs int64) error {
	if timeoutMs <= 0 {
		return c.SetReadDeadline(time.Time{})
	}
	return c.SetReadDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond))
}

func clampBlock(blockSize, cap int) int {
	if blockSize <= 0 || blockSize > cap {
		return cap
	}
	return blockSize
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
