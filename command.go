package sockproxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// capaOptions is the word list of the CAPA reply (spec §4.4). CONN's
// option-key validation in cmdConn is a separate switch and does not read
// this list.
var capaOptions = []string{"BLKS", "RTIM", "NTFY", "CONN"}

// helpText is the multi-line HELP reply (spec §4.4), grounded on the
// teacher's plain multi-line protocol replies in client.go. It is a literal
// list maintained by hand next to execCommand's switch; it is not generated
// from the dispatch code.
var helpText = strings.Join([]string{
	"Commands:",
	"  CONN host:port [KEY=VALUE ...]   dial a remote endpoint and enter echo mode",
	"  NTFY dev sid act [pid]           set the notification binding",
	"  RTIM ms                          set remote_timeout_ms (0 disables)",
	"  BLKS nbytes                      set block_size",
	"  PACE seconds                     set notify_pace_s (0 disables)",
	"  STAT                             list live sessions",
	"  CAPA                             list supported CONN options",
	"  HELP                             this text",
	"  QUIT                             close this session",
	"  STOP                             shut the daemon down",
}, "\n")

// execResult is what running one setup-mode command produced.
type execResult struct {
	reply       string // full line(s) to write back, newline-terminated
	enterEcho   bool   // CONN succeeded: stop parsing, relay verbatim from here
	closeAfter  bool   // QUIT: close once the reply has been written
	requestStop bool   // STOP: daemon-wide shutdown after the reply
}

// execCommand dispatches one setup-mode line for s. It has no error return:
// a malformed command is reported as an ERR reply in the result, and the
// session stays in SETUP so the client may retry. The direct-listener
// implicit CONN path, which has no client to reply to, checks enterEcho to
// tell success from failure.
func (d *Daemon) execCommand(ctx context.Context, s *Session, line string) execResult {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return execResult{reply: "ERR INVALID COMMAND\n"}
	}
	cmd := tokens[0]
	args := tokens[1:]

	switch cmd {
	case "CONN":
		return d.cmdConn(ctx, s, args)
	case "NTFY":
		return d.cmdNtfy(s, args)
	case "RTIM":
		return d.cmdRtim(s, args)
	case "BLKS":
		return d.cmdBlks(s, args)
	case "PACE":
		return d.cmdPace(s, args)
	case "STAT":
		return execResult{reply: d.statReport(s)}
	case "CAPA":
		return execResult{reply: "OK CAPA " + strings.Join(capaOptions, " ") + "\n"}
	case "HELP":
		return execResult{reply: helpText + "\n"}
	case "QUIT":
		return execResult{reply: "OK QUIT\n", closeAfter: true}
	case "STOP":
		return execResult{reply: "OK STOP\n", requestStop: true}
	default:
		return execResult{reply: "ERR INVALID COMMAND\n"}
	}
}

// cmdConn implements the CONN verb, including the KEY=VALUE option grammar
// of spec §4.4. On success it dials the remote, applies every recognized
// option to the session, and reports enterEcho so the caller transitions
// the session and stops feeding it through execCommand.
func (d *Daemon) cmdConn(ctx context.Context, s *Session, args []string) execResult {
	if len(args) == 0 {
		return execResult{reply: "ERR CONN Missing host:port\n"}
	}
	host, port, err := net.SplitHostPort(args[0])
	if err != nil || host == "" || port == "" {
		return execResult{reply: "ERR CONN Invalid host:port\n"}
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return execResult{reply: "ERR CONN Invalid port\n"}
	}
	addr := net.JoinHostPort(host, port)

	// Validate every option before dialing: a bad option must not leave
	// the session half-mutated (spec §8 "leaves the session in SETUP").
	type pending struct {
		blockSize  *int
		remoteTmMs *int64
		paceS      *float64
		binding    *NotifyBinding
	}
	var p pending
	for _, tok := range args[1:] {
		key, val, ok := splitKV(tok)
		if !ok {
			return execResult{reply: fmt.Sprintf("ERR CONN Invalid option %s\n", tok)}
		}
		switch key {
		case "RTIM":
			ms, err := parseMs(val)
			if err != nil {
				return execResult{reply: fmt.Sprintf("ERR CONN Invalid option %s\n", tok)}
			}
			p.remoteTmMs = &ms
		case "BLKS":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return execResult{reply: fmt.Sprintf("ERR CONN Invalid option %s\n", tok)}
			}
			p.blockSize = &n
		case "PACE":
			sec, err := strconv.ParseFloat(val, 64)
			if err != nil || sec < 0 {
				return execResult{reply: fmt.Sprintf("ERR CONN Invalid option %s\n", tok)}
			}
			p.paceS = &sec
		case "NTFY":
			b, err := parseNtfyValue(val, s.ID)
			if err != nil {
				return execResult{reply: fmt.Sprintf("ERR CONN Invalid option %s\n", tok)}
			}
			p.binding = &b
		default:
			return execResult{reply: fmt.Sprintf("ERR CONN Invalid option %s\n", tok)}
		}
	}

	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		d.logger.Warnf("CONN %1: dial %2 failed: %3", s.ID, addr, err)
		return execResult{reply: fmt.Sprintf("ERR CONN %s\n", unwrapOp(err))}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	if p.blockSize != nil {
		s.setBlockSize(*p.blockSize)
	}
	if p.remoteTmMs != nil {
		s.setRemoteTimeoutMs(*p.remoteTmMs)
	}
	if p.paceS != nil {
		s.setNotifyPaceS(*p.paceS)
	}
	if p.binding != nil {
		s.setBinding(*p.binding)
	}
	s.enterEcho(conn, addr)

	_, _, _, _, _, binding, _ := s.snapshot()
	pid := s.ID
	if binding.bound() && binding.Pid != "" {
		pid = binding.Pid
	}
	return execResult{reply: fmt.Sprintf("OK CONN %s\n", pid), enterEcho: true}
}

// parseNtfyValue parses NTFY's "dev/sid/act[/pid]" value form, used both by
// the standalone NTFY command and CONN's NTFY= option.
func parseNtfyValue(val, defaultPid string) (NotifyBinding, error) {
	parts := strings.Split(val, "/")
	if len(parts) < 3 || len(parts) > 4 {
		return NotifyBinding{}, ErrClientProtocol
	}
	dev, err := strconv.Atoi(parts[0])
	if err != nil {
		dev = -1
	}
	b := NotifyBinding{Device: dev, Service: parts[1], Action: parts[2], Pid: defaultPid}
	if len(parts) == 4 && parts[3] != "" {
		b.Pid = parts[3]
	}
	return b, nil
}

// cmdNtfy implements the standalone NTFY verb (spec §4.4): "dev sid act
// [pid]", space-separated rather than NTFY= option's slash form. A
// non-numeric dev is accepted as -1 (no binding) per the table's "else -1".
func (d *Daemon) cmdNtfy(s *Session, args []string) execResult {
	if len(args) < 3 {
		return execResult{reply: "ERR NTFY Missing arguments\n"}
	}
	dev, err := strconv.Atoi(args[0])
	if err != nil {
		dev = -1
	}
	b := NotifyBinding{Device: dev, Service: args[1], Action: args[2], Pid: s.ID}
	if len(args) >= 4 {
		b.Pid = args[3]
	} else if old := s.binding_(); old.Pid != "" {
		b.Pid = old.Pid
	}
	s.setBinding(b)
	return execResult{reply: "OK NTFY\n"}
}

func (d *Daemon) cmdRtim(s *Session, args []string) execResult {
	if len(args) != 1 {
		return execResult{reply: "ERR RTIM Missing argument\n"}
	}
	ms, err := parseMs(args[0])
	if err != nil {
		return execResult{reply: "ERR RTIM Invalid timeout\n"}
	}
	s.setRemoteTimeoutMs(ms)
	return execResult{reply: "OK RTIM\n"}
}

func (d *Daemon) cmdBlks(s *Session, args []string) execResult {
	if len(args) != 1 {
		return execResult{reply: "ERR BLKS Missing argument\n"}
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return execResult{reply: "ERR BLKS Invalid block size\n"}
	}
	s.setBlockSize(n)
	return execResult{reply: "OK BLKS\n"}
}

// cmdPace resolves the ambiguity recorded in spec §9: the source has no
// explicit OK/ERR PACE pair on some paths. This implementation always
// replies, and rejects a malformed or negative value with ERR PACE.
func (d *Daemon) cmdPace(s *Session, args []string) execResult {
	if len(args) != 1 {
		return execResult{reply: "ERR PACE Invalid pace\n"}
	}
	sec, err := strconv.ParseFloat(args[0], 64)
	if err != nil || sec < 0 {
		return execResult{reply: "ERR PACE Invalid pace\n"}
	}
	s.setNotifyPaceS(sec)
	return execResult{reply: "OK PACE\n"}
}
