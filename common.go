// Package sockproxy implements a pass-through TCP proxy daemon that lets a
// single-threaded automation controller talk to remote TCP endpoints
// without itself blocking on or polling sockets. Clients dial the daemon,
// issue a small line-oriented setup command, and are then bridged
// byte-for-byte to a remote endpoint while the daemon fires HTTP
// notifications to the controller whenever remote data arrives.
package sockproxy

import (
	"errors"
	"time"
)

const (
	// Ident is the fixed greeting identifier sent to every command-listener client.
	Ident = "TOGGLEDBITS-SOCKPROXY"

	// Version is the protocol/greeting version, and is also embedded in the
	// notification User-Agent header.
	Version = "1"

	defaultBlockSize       = 2048
	defaultPeerTimeoutMs   = 30000
	statPeerTimeoutMs      = 3600000 // 1h, bounds a human STAT caller (spec §9)
	notifyTimeout          = 5 * time.Second
	defaultControllerBase  = "http://127.0.0.1:3480"
	defaultBindAddr        = "*"
	defaultPort            = 2504
)

// Sentinel errors, one per spec §7 error taxonomy entry.
var (
	ErrClientProtocol      = errors.New("client protocol error")
	ErrRemoteDial          = errors.New("remote dial error")
	ErrPeerIO              = errors.New("peer io error")
	ErrRemoteIO            = errors.New("remote io error")
	ErrIdleTimeout         = errors.New("idle timeout")
	ErrNotificationFailure = errors.New("notification failure")
	ErrFatalStartup        = errors.New("fatal startup error")

	errSessionClosed = errors.New("session closed")
)
