// Package main runs a standalone SRDP echo server: every payload it
// receives is logged and sent back to its sender, as Important by
// default or as Normal with -echo-as normal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kestrel-systems/rdgram/internal/config"
	"github.com/kestrel-systems/rdgram/internal/logging"
	"github.com/kestrel-systems/rdgram/internal/srdp"
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
	echoKind string
}

func parseFlags(argv []string) parsedArgs {
	fs := flag.NewFlagSet("srdp-echo", flag.ExitOnError)
	bindAddr := fs.String("bind", "", "SRDP bind address (overrides SRDP_BIND_ADDR)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	echoKind := fs.String("echo-as", "important", "reliability mode for echoed replies: normal or important")
	_ = fs.Parse(argv)

	return parsedArgs{
		bindAddr: strings.TrimSpace(*bindAddr),
		logLevel: strings.TrimSpace(*logLevel),
		echoKind: strings.ToLower(strings.TrimSpace(*echoKind)),
	}
}

// run loads configuration, binds the socket, and echoes every delivered
// payload back to its sender until ctx is cancelled.
func run(ctx context.Context, args parsedArgs) error {
	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		SRDPBindAddr: args.bindAddr,
		LogLevel:     args.logLevel,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kind := srdp.Important
	if args.echoKind == "normal" {
		kind = srdp.Normal
	}

	logger := setupLogging(cfg.Logging.Level)
	logger.Info("srdp-echo: binding %s", cfg.SRDP.BindAddr)

	sock, err := srdp.Bind(cfg.SRDP.BindAddr, srdp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("bind srdp socket: %w", err)
	}
	defer sock.Close()

	go func() {
		<-ctx.Done()
		logger.Info("srdp-echo: shutting down")
		sock.Close()
	}()

	for {
		payload, addr, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}

		logger.Info("srdp-echo: %d bytes from %s", len(payload), addr)

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		reply := srdp.Packet{Kind: kind, Payload: payload}
		if err := sock.SendTo(ctx, reply, udpAddr.String()); err != nil {
			logger.Warn("srdp-echo: echo to %s failed: %v", addr, err)
		}
	}
}

// setupLogging configures the default logger's level and returns it.
func setupLogging(level string) *logging.Logger {
	l := logging.Default()
	l.SetLevelFromString(level)
	return l
}
