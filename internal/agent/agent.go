// Package agent supervises the full scan-bridge agent: it resolves
// network identity, brings the transfer store and both protocol
// endpoints up in order, wires their events together, and tears
// everything down again on shutdown (spec.md §4.6).
//
// Grounded on the teacher's Responder: construct, apply options, start
// a background goroutine, and expose a single Close that stops the
// background work before releasing the transport.
package agent

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/scanbridge/agent/internal/config"
	"github.com/scanbridge/agent/internal/control"
	"github.com/scanbridge/agent/internal/data"
	"github.com/scanbridge/agent/internal/forwarder"
	"github.com/scanbridge/agent/internal/netiface"
	"github.com/scanbridge/agent/internal/pending"
	"github.com/scanbridge/agent/internal/socket"
	"github.com/scanbridge/agent/internal/store"
	"github.com/scanbridge/agent/internal/xlog"
)

// Supervisor owns the lifecycle of every agent component. Construct
// with New, Start it, and Shutdown when the process is asked to stop.
type Supervisor struct {
	cfg      config.Config
	resolver netiface.Resolver
	log      *logrus.Logger

	identity netiface.Identity
	store    *store.Store
	control  *control.Endpoint
	data     *data.Endpoint
	fwd      *forwarder.Forwarder

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New validates cfg and constructs a Supervisor. No sockets are bound
// and no goroutines are started until Start is called.
func New(cfg config.Config, log *logrus.Logger, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent: invalid config: %w", err)
	}

	s := &Supervisor{
		cfg:      cfg,
		resolver: netiface.SystemResolver{},
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start brings every component up in spec.md §4.6's mandated order:
//  1. resolve network identity
//  2. create the transfer store and enforce retention once against
//     whatever is already on disk
//  3. bind and start the TCP data endpoint
//  4. bind and start the UDP control endpoint
//  5. start the forwarder, if proxy mode is enabled
//
// Start returns once every component's background goroutine is
// running; it does not block for the agent's lifetime. Wait blocks
// until every component goroutine has returned; Shutdown stops them
// and then waits.
func (s *Supervisor) Start(ctx context.Context) error {
	identity, err := s.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("agent: resolve network identity: %w", err)
	}
	s.identity = identity

	st, err := store.New(s.cfg.Scanner.FilesDirectory)
	if err != nil {
		return fmt.Errorf("agent: create transfer store: %w", err)
	}
	if err := st.EnforceRetention(s.cfg.Scanner.MaxFilesRetention); err != nil {
		s.log.WithError(err).Warn("startup retention enforcement failed")
	}
	s.store = st

	pendingTable := pending.New(s.cfg.Network.PendingIdleWindow)

	tcpLn, err := socket.ListenTCP(fmt.Sprintf(":%d", s.cfg.Network.TCPPort))
	if err != nil {
		return fmt.Errorf("agent: bind tcp data socket: %w", err)
	}
	dataLog := s.componentLog("data")
	s.data = data.New(tcpLn, st, pendingTable, s.cfg.Network.TCPChunkSize, s.cfg.Network.TCPConnectionTimeout, dataLog)

	udpConn, err := socket.ListenUDP(fmt.Sprintf(":%d", s.cfg.Network.UDPPort))
	if err != nil {
		tcpLn.Close()
		return fmt.Errorf("agent: bind udp control socket: %w", err)
	}
	controlLog := s.componentLog("control")
	s.control = control.New(udpConn, identity.LocalIP, s.cfg.Scanner.DefaultSrcName, pendingTable, controlLog)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g := &errgroup.Group{}
	s.group = g

	g.Go(func() error {
		s.data.Run()
		return nil
	})
	g.Go(func() error {
		s.control.Run()
		return nil
	})
	g.Go(func() error {
		watchTransferEvents(s.control.TransferEvents(), controlLog)
		return nil
	})

	var forwardRelay chan data.Completed
	if s.cfg.Proxy.Enabled {
		forwardRelay = make(chan data.Completed, 64)

		fwdLog := s.componentLog("forwarder")
		fwdCfg := forwarder.Config{
			DownstreamIP:     s.cfg.Proxy.AgentIPAddress,
			UDPPort:          s.cfg.Network.UDPPort,
			TCPPort:          s.cfg.Network.TCPPort,
			DiscoveryTimeout: s.cfg.Network.DiscoveryTimeout,
			MaxRetryAttempts: s.cfg.Scanner.MaxRetryAttempts,
			LocalIP:          identity.LocalIP,
			AgentName:        s.cfg.Scanner.DefaultSrcName,
			DownstreamName:   downstreamName(s.cfg.Proxy.AgentIPAddress),
		}
		s.fwd = forwarder.New(fwdCfg, forwardRelay, fwdLog)

		g.Go(func() error {
			return s.fwd.Run(runCtx)
		})
	}

	g.Go(func() error {
		watchCompletions(s.data.Events(), st, s.cfg.Scanner.MaxFilesRetention, forwardRelay, dataLog)
		return nil
	})

	return nil
}

// Wait blocks until every component goroutine has returned, e.g.
// because Shutdown closed their sockets.
func (s *Supervisor) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Shutdown stops accepting new work and gives in-flight sessions
// ShutdownGrace to finish before forcing everything closed, in reverse
// startup order (spec.md §4.6).
func (s *Supervisor) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.control != nil {
		if err := s.control.Close(); err != nil {
			s.log.WithError(err).Warn("error closing control endpoint")
		}
	}
	if s.data != nil {
		s.data.Shutdown(s.cfg.ShutdownGrace)
	}

	return s.Wait()
}

// Identity returns the network identity resolved during Start. Only
// meaningful after a successful Start call.
func (s *Supervisor) Identity() netiface.Identity {
	return s.identity
}

func (s *Supervisor) componentLog(component string) *logrus.Entry {
	return xlog.For(s.log, component)
}

// downstreamName derives the DstName field sent on outbound transfer
// requests. The protocol has no directory service for downstream agent
// names (spec.md §1: discovery is the only naming mechanism), so the
// forwarder addresses its peer by its IP address string. The name is
// fixed at Start and is not updated from the peer's replies.
func downstreamName(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
