// Package forwarder implements proxy-mode re-transmission: each
// completed artifact is re-sent to a downstream agent using the same
// discovery/transfer-request/TCP-stream protocol this agent itself
// serves (spec.md §4.5).
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/scanbridge/agent/internal/data"
	"github.com/scanbridge/agent/internal/store"
	"github.com/scanbridge/agent/internal/wire"
)

// Errors from the forwarding state machine, per spec.md §7. All three
// are retryable up to Config.MaxRetryAttempts.
var (
	ErrAckTimeout = errors.New("forwarder: downstream did not acknowledge within discovery_timeout")
	ErrConnect    = errors.New("forwarder: failed to connect to downstream")
	ErrSend       = errors.New("forwarder: failed to stream artifact to downstream")
)

// queueCapacity bounds the in-memory forward-job queue. When full, the
// oldest unprocessed job is dropped to preserve liveness (spec.md §5).
const queueCapacity = 64

// Config holds the forwarder's dependencies on the downstream address
// and this agent's own identity, resolved once at construction.
type Config struct {
	DownstreamIP     net.IP
	UDPPort          int
	TCPPort          int
	DiscoveryTimeout time.Duration
	MaxRetryAttempts int
	RetryBackoff     time.Duration // defaults to 1s if zero

	LocalIP        net.IP
	AgentName      string
	DownstreamName string
}

// Forwarder consumes data.Completed events and re-issues the protocol
// against a configured downstream agent.
type Forwarder struct {
	cfg    Config
	events <-chan data.Completed
	jobs   chan store.Artifact
	log    *logrus.Entry
}

// New constructs a Forwarder reading completion events from events.
func New(cfg Config, events <-chan data.Completed, log *logrus.Entry) *Forwarder {
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Forwarder{
		cfg:    cfg,
		events: events,
		jobs:   make(chan store.Artifact, queueCapacity),
		log:    log,
	}
}

// Run drains data.Completed events into the job queue and processes jobs
// one at a time (preserving delivery order, per spec.md §5) until ctx is
// canceled or the events channel closes.
func (f *Forwarder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-f.events:
				if !ok {
					close(f.jobs)
					return nil
				}
				f.enqueue(ev.Artifact)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case artifact, ok := <-f.jobs:
				if !ok {
					return nil
				}
				f.processJob(ctx, artifact)
			}
		}
	})

	return g.Wait()
}

// enqueue pushes artifact onto the job queue, dropping the oldest queued
// job (log-only) when the queue is full (spec.md §5).
func (f *Forwarder) enqueue(artifact store.Artifact) {
	select {
	case f.jobs <- artifact:
		return
	default:
	}

	select {
	case dropped := <-f.jobs:
		f.log.WithField("path", dropped.Path).Warn("forward queue full, dropping oldest job")
	default:
	}

	select {
	case f.jobs <- artifact:
	default:
		f.log.WithField("path", artifact.Path).Warn("forward queue full, dropping newly completed job")
	}
}

// processJob runs the Queued → Sending → {Completed, Failed} state
// machine for one artifact, retrying with fixed back-off up to
// MaxRetryAttempts (spec.md §4.5).
func (f *Forwarder) processJob(ctx context.Context, artifact store.Artifact) {
	log := f.log.WithField("path", artifact.Path).WithField("downstream", f.cfg.DownstreamIP)

	attempts := f.cfg.MaxRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return
		}

		lastErr = f.forwardOnce(ctx, artifact)
		if lastErr == nil {
			log.Info("forward succeeded")
			return
		}

		log.WithError(lastErr).WithField("attempt", attempt).Warn("forward attempt failed")
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.cfg.RetryBackoff):
			}
		}
	}

	log.WithError(lastErr).Error("forward abandoned after max retry attempts, artifact retained")
}

// forwardOnce performs a single forward attempt: a transfer-request over
// UDP (no discovery), wait for ack, then stream the artifact over TCP
// (spec.md §4.5 steps 1-6).
func (f *Forwarder) forwardOnce(ctx context.Context, artifact store.Artifact) error {
	udpAddr := &net.UDPAddr{IP: f.cfg.DownstreamIP, Port: f.cfg.UDPPort}

	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer conn.Close()

	req := wire.Encode(wire.Message{
		RequestType: wire.RequestTransfer,
		InitiatorIP: f.cfg.LocalIP,
		SrcName:     f.cfg.AgentName,
		DstName:     f.cfg.DownstreamName,
	})
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("%w: send transfer-request: %v", ErrConnect, err)
	}

	if err := f.waitForAck(conn); err != nil {
		return err
	}

	return f.streamArtifact(ctx, artifact)
}

// waitForAck blocks until discovery_timeout for any well-formed 90-byte
// datagram with a valid signature from the downstream peer. The payload
// is not otherwise inspected (spec.md §4.5 step 3).
func (f *Forwarder) waitForAck(conn *net.UDPConn) error {
	if err := conn.SetReadDeadline(time.Now().Add(f.cfg.DiscoveryTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrAckTimeout, err)
	}

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAckTimeout, err)
		}
		// Decode checks length and signature before the request type, so
		// ErrUnknownRequestType still means a 90-byte, signed datagram.
		if _, decodeErr := wire.Decode(buf[:n]); decodeErr == nil || errors.Is(decodeErr, wire.ErrUnknownRequestType) {
			return nil
		}
		// Not a well-formed ack; keep waiting until the deadline.
	}
}

// streamArtifact opens a TCP connection to the downstream data port and
// streams the artifact's bytes, closing the write half and the
// connection when done (spec.md §4.5 steps 5-6).
func (f *Forwarder) streamArtifact(ctx context.Context, artifact store.Artifact) error {
	tcpAddr := net.JoinHostPort(f.cfg.DownstreamIP.String(), fmt.Sprintf("%d", f.cfg.TCPPort))

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp4", tcpAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer conn.Close()

	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("%w: open artifact: %v", ErrSend, err)
	}
	defer file.Close()

	if _, err := io.Copy(conn, file); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.CloseWrite(); err != nil {
			return fmt.Errorf("%w: close write half: %v", ErrSend, err)
		}
	}

	return nil
}
