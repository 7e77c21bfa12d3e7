// Command sockproxyd runs the pass-through TCP proxy daemon: one command
// listener speaking the CONN/NTFY/RTIM/BLKS/PACE/STAT/CAPA/QUIT/STOP/HELP
// setup protocol, plus zero or more preconfigured direct listeners, per
// spec §6.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/toggledbits/sockproxyd"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := sockproxy.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "sockproxyd:", err)
		return 1
	}

	logOut, closeLog, err := openLogOutput(cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sockproxyd:", err)
		return 1
	}
	defer closeLog()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	base := slog.New(tint.NewHandler(logOut, &tint.Options{Level: level}))
	slog.SetDefault(base)
	logger := sockproxy.NewLogger(base)

	metrics := sockproxy.NewMetrics()
	daemon := sockproxy.NewDaemon(cfg.BindAddr, cfg.Port, cfg.Direct, cfg.ControllerBase, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx); err != nil {
		logger.Errorf("fatal: %1", err)
		if errors.Is(err, sockproxy.ErrFatalStartup) {
			return 2
		}
		return 127
	}
	return 0
}

// openLogOutput resolves the -L/log flag per spec §6: "-" or unset means
// stderr, anything else is a file path opened for append.
func openLogOutput(path string) (*os.File, func(), error) {
	if path == "" || path == "-" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
