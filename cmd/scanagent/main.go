// Command scanagent runs the scan-bridge agent: it serves the UDP
// discovery/transfer-negotiation control plane and the TCP data plane,
// optionally forwarding completed transfers to a downstream agent
// (spec.md §4.11).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/scanbridge/agent/internal/agent"
	"github.com/scanbridge/agent/internal/config"
	"github.com/scanbridge/agent/internal/xlog"
)

// Exit codes per spec.md §6: 0 for clean shutdown, non-zero for any
// fatal startup failure.
const (
	exitOK            = 0
	exitBadConfig     = 1
	exitStartupFailed = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, logLevel, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "scanagent:", err)
		return exitBadConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "scanagent:", err)
		return exitBadConfig
	}

	log := xlog.New(logLevel)

	sup, err := agent.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to construct agent")
		return exitBadConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start agent")
		return exitStartupFailed
	}
	log.WithField("identity", sup.Identity()).Info("agent started")

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := sup.Shutdown(); err != nil {
		log.WithError(err).Warn("error during shutdown")
	}

	return exitOK
}

// parseFlags builds a config.Config from command-line flags, starting
// from config.Default() for every value spec.md gives a default for.
// Loading configuration from a YAML file or environment is an external
// collaborator (spec.md §1) and out of scope here.
func parseFlags(args []string) (config.Config, logrus.Level, error) {
	cfg := config.Default()
	fs := flag.NewFlagSet("scanagent", flag.ContinueOnError)

	fs.IntVar(&cfg.Network.UDPPort, "udp-port", cfg.Network.UDPPort, "UDP control port")
	fs.IntVar(&cfg.Network.TCPPort, "tcp-port", cfg.Network.TCPPort, "TCP data port")
	fs.DurationVar(&cfg.Network.DiscoveryTimeout, "discovery-timeout", cfg.Network.DiscoveryTimeout, "discovery/ack wait timeout")
	fs.IntVar(&cfg.Network.TCPChunkSize, "tcp-chunk-size", cfg.Network.TCPChunkSize, "TCP read buffer size in bytes")
	fs.DurationVar(&cfg.Network.TCPConnectionTimeout, "tcp-idle-timeout", cfg.Network.TCPConnectionTimeout, "TCP per-read idle timeout")
	fs.DurationVar(&cfg.Network.PendingIdleWindow, "pending-idle-window", cfg.Network.PendingIdleWindow, "pending-transfer entry expiry window")

	fs.StringVar(&cfg.Scanner.DefaultSrcName, "name", "", "this agent's name, advertised in control replies (required, max 20 ASCII characters)")
	fs.StringVar(&cfg.Scanner.FilesDirectory, "files-dir", "", "directory received files are written to (required)")
	fs.IntVar(&cfg.Scanner.MaxFilesRetention, "max-files-retention", cfg.Scanner.MaxFilesRetention, "maximum number of stored artifacts to retain")
	fs.IntVar(&cfg.Scanner.MaxRetryAttempts, "max-retry-attempts", cfg.Scanner.MaxRetryAttempts, "maximum forward attempts before a job is dropped")

	fs.BoolVar(&cfg.Proxy.Enabled, "proxy-enabled", false, "forward completed transfers to a downstream agent")
	var proxyAddr string
	fs.StringVar(&proxyAddr, "proxy-agent-ip", "", "downstream agent IP address (required when -proxy-enabled)")

	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "grace period for in-flight sessions during shutdown")

	logLevelStr := fs.String("log-level", "info", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, logrus.InfoLevel, err
	}

	if proxyAddr != "" {
		ip := net.ParseIP(proxyAddr)
		if ip == nil {
			return config.Config{}, logrus.InfoLevel, fmt.Errorf("invalid -proxy-agent-ip %q", proxyAddr)
		}
		cfg.Proxy.AgentIPAddress = ip.To4()
	}

	level, err := logrus.ParseLevel(*logLevelStr)
	if err != nil {
		return config.Config{}, logrus.InfoLevel, fmt.Errorf("invalid -log-level %q: %w", *logLevelStr, err)
	}

	return cfg, level, nil
}
