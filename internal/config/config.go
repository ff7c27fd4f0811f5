// Package config defines the agent's immutable configuration value.
// Loading it from YAML/environment is an external collaborator (spec.md
// §1); this package only owns the struct, its defaults, and validation.
package config

import (
	"fmt"
	"net"
	"time"
)

// Defaults mirror spec.md §6's configuration-surface table.
const (
	DefaultUDPPort              = 706
	DefaultTCPPort              = 708
	DefaultDiscoveryTimeout     = 3 * time.Second
	DefaultTCPChunkSize         = 8192
	DefaultTCPConnectionTimeout = 10 * time.Second
	DefaultMaxFilesRetention    = 100
	DefaultMaxRetryAttempts     = 3
	DefaultPendingIdleWindow    = 30 * time.Second
	DefaultShutdownGrace        = 5 * time.Second
	// MaxAgentNameLen bounds scanner.default_src_name per the agent
	// identity invariant in spec.md §3.
	MaxAgentNameLen = 20
)

// Network holds the network.* configuration keys.
type Network struct {
	UDPPort              int
	TCPPort              int
	DiscoveryTimeout     time.Duration
	TCPChunkSize         int
	TCPConnectionTimeout time.Duration
	PendingIdleWindow    time.Duration
}

// Scanner holds the scanner.* configuration keys.
type Scanner struct {
	DefaultSrcName    string
	FilesDirectory    string
	MaxFilesRetention int
	MaxRetryAttempts  int
}

// Proxy holds the proxy.* configuration keys.
type Proxy struct {
	Enabled        bool
	AgentIPAddress net.IP
}

// Config is the full immutable configuration value, constructed once at
// startup and passed to every component (spec.md §9).
type Config struct {
	Network       Network
	Scanner       Scanner
	Proxy         Proxy
	ShutdownGrace time.Duration
}

// Default returns a Config populated with spec.md's stated defaults. It
// still requires Scanner.DefaultSrcName and Scanner.FilesDirectory to be
// filled in by the caller before Validate passes.
func Default() Config {
	return Config{
		Network: Network{
			UDPPort:              DefaultUDPPort,
			TCPPort:              DefaultTCPPort,
			DiscoveryTimeout:     DefaultDiscoveryTimeout,
			TCPChunkSize:         DefaultTCPChunkSize,
			TCPConnectionTimeout: DefaultTCPConnectionTimeout,
			PendingIdleWindow:    DefaultPendingIdleWindow,
		},
		Scanner: Scanner{
			MaxFilesRetention: DefaultMaxFilesRetention,
			MaxRetryAttempts:  DefaultMaxRetryAttempts,
		},
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// Validate checks the invariants spec.md implies about configuration
// values. It never mutates the receiver.
func (c Config) Validate() error {
	if c.Network.UDPPort <= 0 || c.Network.UDPPort > 65535 {
		return fmt.Errorf("config: invalid network.udp_port %d", c.Network.UDPPort)
	}
	if c.Network.TCPPort <= 0 || c.Network.TCPPort > 65535 {
		return fmt.Errorf("config: invalid network.tcp_port %d", c.Network.TCPPort)
	}
	if c.Network.TCPChunkSize <= 0 {
		return fmt.Errorf("config: network.tcp_chunk_size must be positive, got %d", c.Network.TCPChunkSize)
	}
	if len(c.Scanner.DefaultSrcName) == 0 {
		return fmt.Errorf("config: scanner.default_src_name is required")
	}
	if len(c.Scanner.DefaultSrcName) > MaxAgentNameLen {
		return fmt.Errorf("config: scanner.default_src_name must be <= %d ASCII characters, got %d", MaxAgentNameLen, len(c.Scanner.DefaultSrcName))
	}
	for i := 0; i < len(c.Scanner.DefaultSrcName); i++ {
		if c.Scanner.DefaultSrcName[i] > 0x7F {
			return fmt.Errorf("config: scanner.default_src_name must be ASCII")
		}
	}
	if c.Scanner.FilesDirectory == "" {
		return fmt.Errorf("config: scanner.files_directory is required")
	}
	if c.Scanner.MaxFilesRetention < 0 {
		return fmt.Errorf("config: scanner.max_files_retention must be >= 0, got %d", c.Scanner.MaxFilesRetention)
	}
	if c.Scanner.MaxRetryAttempts < 0 {
		return fmt.Errorf("config: scanner.max_retry_attempts must be >= 0, got %d", c.Scanner.MaxRetryAttempts)
	}
	if c.Proxy.Enabled && c.Proxy.AgentIPAddress == nil {
		return fmt.Errorf("config: proxy.agent_ip_address is required when proxy.enabled is true")
	}
	return nil
}
