// Package main runs a standalone LRDP echo server: every payload it
// receives is logged and sent back to its sender.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kestrel-systems/rdgram/internal/config"
	"github.com/kestrel-systems/rdgram/internal/logging"
	"github.com/kestrel-systems/rdgram/internal/lrdp"
)

func main() {
	args := parseFlags(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args); err != nil {
		log.Fatalln(err)
	}
}

type parsedArgs struct {
	bindAddr string
	logLevel string
}

func parseFlags(argv []string) parsedArgs {
	fs := flag.NewFlagSet("lrdp-echo", flag.ExitOnError)
	bindAddr := fs.String("bind", "", "LRDP bind address (overrides LRDP_BIND_ADDR)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	_ = fs.Parse(argv)

	return parsedArgs{
		bindAddr: strings.TrimSpace(*bindAddr),
		logLevel: strings.TrimSpace(*logLevel),
	}
}

// run loads configuration, binds the socket, and echoes every delivered
// payload back to its sender until ctx is cancelled.
func run(ctx context.Context, args parsedArgs) error {
	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		LRDPBindAddr: args.bindAddr,
		LogLevel:     args.logLevel,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogging(cfg.Logging.Level)
	logger.Info("lrdp-echo: binding %s", cfg.LRDP.BindAddr)

	sock, err := lrdp.Bind(cfg.LRDP.BindAddr, lrdp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("bind lrdp socket: %w", err)
	}
	defer sock.Stop()

	go func() {
		<-ctx.Done()
		logger.Info("lrdp-echo: shutting down")
		sock.Stop()
	}()

	for {
		payload, addr, err := sock.RecvFrom()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}

		logger.Info("lrdp-echo: %d bytes from %s", len(payload), addr)
		if err := sock.SendTo(addr.String(), payload); err != nil {
			logger.Warn("lrdp-echo: echo to %s failed: %v", addr, err)
		}
	}
}

// setupLogging configures the default logger's level and returns it.
func setupLogging(level string) *logging.Logger {
	l := logging.Default()
	l.SetLevelFromString(level)
	return l
}
