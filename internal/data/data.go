// Package data implements the TCP data endpoint: it accepts inbound
// connections, streams one payload per connection into the transfer
// store, and reports completion or failure (spec.md §4.4).
package data

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scanbridge/agent/internal/pending"
	"github.com/scanbridge/agent/internal/store"
)

// Completed is raised when a session's TCP connection closed cleanly and
// its sink committed (spec.md §4.4: "On clean EOF ... emit
// TransferCompleted").
type Completed struct {
	Artifact store.Artifact
	SenderIP net.IP
	SrcName  string
}

// Endpoint is the TCP data endpoint. Construct with New, then Run.
type Endpoint struct {
	ln          net.Listener
	store       *store.Store
	pending     *pending.Table
	chunkSize   int
	connTimeout time.Duration
	completedCh chan Completed
	log         *logrus.Entry

	mu     sync.Mutex
	active map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// New wraps an already-bound TCP listener (see internal/socket.ListenTCP)
// as a data Endpoint.
func New(ln net.Listener, st *store.Store, pendingTable *pending.Table, chunkSize int, connTimeout time.Duration, log *logrus.Entry) *Endpoint {
	if chunkSize <= 0 {
		chunkSize = 8192
	}
	return &Endpoint{
		ln:          ln,
		store:       st,
		pending:     pendingTable,
		chunkSize:   chunkSize,
		connTimeout: connTimeout,
		completedCh: make(chan Completed, 64),
		log:         log,
		active:      make(map[net.Conn]struct{}),
	}
}

// Events returns the channel the supervisor reads Completed events from.
// In proxy mode the supervisor relays each event on to the forwarder.
func (e *Endpoint) Events() <-chan Completed {
	return e.completedCh
}

// Run accepts connections until the listener is closed. One goroutine
// per accepted connection, per spec.md §5.
func (e *Endpoint) Run() {
	defer close(e.completedCh)

	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				e.wg.Wait()
				return
			}
			e.log.WithError(err).Warn("tcp accept error")
			continue
		}

		e.track(conn)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.untrack(conn)
			e.handleConn(conn)
		}()
	}
}

// Shutdown closes the listener (stopping new connections) and gives
// in-flight sessions grace to finish before forcibly closing them
// (spec.md §4.4/§4.6 cancellation).
func (e *Endpoint) Shutdown(grace time.Duration) {
	e.ln.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
	}

	e.mu.Lock()
	for c := range e.active {
		c.Close()
	}
	e.mu.Unlock()

	<-done
}

func (e *Endpoint) track(c net.Conn) {
	e.mu.Lock()
	e.active[c] = struct{}{}
	e.mu.Unlock()
}

func (e *Endpoint) untrack(c net.Conn) {
	e.mu.Lock()
	delete(e.active, c)
	e.mu.Unlock()
}

// handleConn streams one connection's raw bytes into a store sink,
// matching pending transfers by source IP and synthesizing a session
// for unmatched connections (spec.md §4.4's mandated acceptance rule).
func (e *Endpoint) handleConn(conn net.Conn) {
	defer conn.Close()

	tcpAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
	var senderIP net.IP
	if tcpAddr != nil {
		senderIP = tcpAddr.IP
	}

	srcName := ""
	if entry, ok := e.pending.Take(senderIP); ok {
		srcName = entry.SrcName
	} else {
		e.log.WithField("sender", senderIP).Debug("no pending transfer for sender, synthesizing session")
	}

	log := e.log.WithField("sender", senderIP)

	sink, err := e.store.CreateSink(senderIP)
	if err != nil {
		log.WithError(err).Warn("failed to create sink")
		return
	}

	buf := make([]byte, e.chunkSize)
	for {
		if e.connTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(e.connTimeout))
		}

		n, readErr := conn.Read(buf)
		if n > 0 {
			if _, writeErr := sink.Write(buf[:n]); writeErr != nil {
				log.WithError(writeErr).Warn("sink write failed, aborting session")
				sink.Abort()
				return
			}
		}

		if readErr == nil {
			continue
		}

		if readErr == io.EOF {
			artifact, commitErr := sink.Commit()
			if commitErr != nil {
				log.WithError(commitErr).Warn("commit failed, session failed")
				return
			}
			e.emitCompleted(Completed{Artifact: artifact, SenderIP: senderIP, SrcName: srcName})
			return
		}

		log.WithError(readErr).Warn("read error or idle timeout, session failed")
		sink.Abort()
		return
	}
}

func (e *Endpoint) emitCompleted(c Completed) {
	select {
	case e.completedCh <- c:
	default:
		e.log.Warn("completed-transfer channel full, dropping event")
	}
}
