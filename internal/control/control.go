// Package control implements the UDP control endpoint: it binds the
// discovery/transfer-negotiation port, classifies each inbound datagram,
// and drives the appropriate response (spec.md §4.3).
package control

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/scanbridge/agent/internal/pending"
	"github.com/scanbridge/agent/internal/wire"
)

// recvBufferSize is generous relative to the fixed 90-byte message so
// that oversized datagrams are read (and rejected) rather than silently
// truncated by a too-small buffer.
const recvBufferSize = 1024

// TransferExpected is raised when a transfer-request datagram is
// accepted, arming the TCP data endpoint to expect a session from
// SenderIP (spec.md §4.3 step 3).
type TransferExpected struct {
	SenderIP net.IP
	SrcName  string
}

// Endpoint is the UDP control endpoint. Construct with New, then Run.
type Endpoint struct {
	conn       *net.UDPConn
	pktConn    *ipv4.PacketConn
	localIP    net.IP
	agentName  string
	pending    *pending.Table
	transferCh chan TransferExpected
	log        *logrus.Entry

	done chan struct{}
}

// New wraps an already-bound UDP connection as a control Endpoint. The
// caller owns binding (see internal/socket.ListenUDP) so that the
// supervisor can report BindError distinctly from other startup
// failures (spec.md §7).
//
// The connection is additionally wrapped in an ipv4.PacketConn so
// inbound datagrams can be attributed to the local interface they
// arrived on, the same control-message technique beacon used for
// interface-specific addressing; here it is purely diagnostic, logged
// alongside each accepted request.
func New(conn *net.UDPConn, localIP net.IP, agentName string, pendingTable *pending.Table, log *logrus.Entry) *Endpoint {
	pktConn := ipv4.NewPacketConn(conn)
	if err := pktConn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		log.WithError(err).Debug("control messages unavailable, interface index will be unknown")
	}

	return &Endpoint{
		conn:       conn,
		pktConn:    pktConn,
		localIP:    localIP,
		agentName:  agentName,
		pending:    pendingTable,
		transferCh: make(chan TransferExpected, 64),
		log:        log,
		done:       make(chan struct{}),
	}
}

// TransferEvents returns the channel the supervisor reads
// TransferExpected events from. Never closed while the endpoint runs;
// closed once the read loop exits.
func (e *Endpoint) TransferEvents() <-chan TransferExpected {
	return e.transferCh
}

// Run reads datagrams until the socket is closed. Intended to be started
// in its own goroutine by the supervisor (spec.md §5: "1 task for UDP
// read loop").
func (e *Endpoint) Run() {
	defer close(e.transferCh)
	defer close(e.done)

	buf := make([]byte, recvBufferSize)
	for {
		n, cm, addr, err := e.pktConn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.log.WithError(err).Warn("udp read error")
			continue
		}

		srcAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			e.log.WithField("addr", addr).Warn("unexpected source address type, dropping datagram")
			continue
		}

		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}

		e.handleDatagram(buf[:n], srcAddr, ifIndex)
	}
}

// Close stops accepting new datagrams. The read loop exits on the
// resulting error (spec.md §4.3 cancellation).
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

func (e *Endpoint) handleDatagram(payload []byte, srcAddr *net.UDPAddr, ifIndex int) {
	msg, err := wire.Decode(payload)
	if err != nil {
		e.log.WithError(err).WithField("src", srcAddr).Debug("dropping malformed control datagram")
		return
	}

	e.log.WithField("src", srcAddr).WithField("interface_index", ifIndex).
		WithField("request_type", msg.RequestType).Debug("accepted control datagram")

	switch msg.RequestType {
	case wire.RequestDiscovery:
		e.reply(msg.RequestType, msg.SrcName, srcAddr)

	case wire.RequestTransfer:
		e.pending.Add(msg.InitiatorIP, msg.SrcName)
		e.reply(msg.RequestType, msg.SrcName, srcAddr)

		select {
		case e.transferCh <- TransferExpected{SenderIP: msg.InitiatorIP, SrcName: msg.SrcName}:
		default:
			e.log.Warn("transfer event channel full, dropping TransferExpected event")
		}

	default:
		// wire.Decode already rejects unknown types; unreachable.
	}
}

// reply builds and sends a response wire-identical to the incoming
// message's shape, echoing requestType back so the peer can tell
// discovery-ack from transfer-ack apart (spec.md §4.3 step 2/3).
func (e *Endpoint) reply(requestType wire.RequestType, requesterName string, dest *net.UDPAddr) {
	resp := wire.Encode(wire.Message{
		RequestType: requestType,
		InitiatorIP: e.localIP,
		SrcName:     e.agentName,
		DstName:     requesterName,
	})

	if _, err := e.conn.WriteToUDP(resp, dest); err != nil {
		e.log.WithError(err).WithField("dest", dest).Warn("failed to send control response")
	}
}
