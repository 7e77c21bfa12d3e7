package sockproxy

import (
	"fmt"
	"strings"
	"time"
)

// statReport renders the STAT multi-line reply (spec §4.5). It also bumps
// the caller's own peer_timeout_ms to statPeerTimeoutMs so a human typing
// at a terminal doesn't get timed out mid-read (spec §9) — the one
// exception to STAT's "never mutates any session other than the caller's
// peer_timeout_ms" invariant (spec §8 property 6).
func (d *Daemon) statReport(caller *Session) string {
	caller.setPeerTimeoutMs(statPeerTimeoutMs)

	var b strings.Builder
	fmt.Fprintf(&b, " %-8s %-6s %-8s %-8s %-21s %-21s %10s %10s %s\n",
		"ID", "STATE", "IDLE", "UPTIME", "PEER", "REMOTE", "RECV", "XMIT", "BINDING")

	for _, s := range d.listSessions() {
		sel := " "
		if s == caller {
			sel = "*"
		}
		state, _, _, _, _, binding, remoteAddr := s.snapshot()
		recv, sent := s.counters()
		bindStr := ""
		if binding.bound() {
			bindStr = fmt.Sprintf("%d/%s/%s/%s", binding.Device, binding.Service, binding.Action, binding.Pid)
		}
		idle := time.Duration(0)
		if state == StateEcho {
			idle = s.idleOnRemote()
		}
		fmt.Fprintf(&b, "%s%-8s %-6s %-8s %-8s %-21s %-21s %10d %10d %s\n",
			sel, s.ID, state, formatDuration(idle), formatDuration(time.Since(s.CreatedTs)),
			s.PeerAddr, remoteAddr, recv, sent, bindStr)
	}
	return b.String()
}
