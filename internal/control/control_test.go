package control

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scanbridge/agent/internal/pending"
	"github.com/scanbridge/agent/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("component", "control_test")
}

func newLoopbackEndpoint(t *testing.T) (*Endpoint, *net.UDPAddr) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}

	ep := New(conn, net.IPv4(10, 0, 0, 5), "AgentA", pending.New(30*time.Second), testLogger())
	go ep.Run()
	t.Cleanup(func() { ep.Close() })

	return ep, conn.LocalAddr().(*net.UDPAddr)
}

func TestDiscoveryRoundTrip(t *testing.T) {
	_, addr := newLoopbackEndpoint(t)

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() client error = %v", err)
	}
	defer client.Close()

	req := wire.Encode(wire.Message{
		RequestType: wire.RequestDiscovery,
		InitiatorIP: net.IPv4(10, 0, 0, 9),
		SrcName:     "Scanner1",
	})
	if _, err := client.WriteToUDP(req, addr); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}

	resp, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.RequestType != wire.RequestDiscovery {
		t.Errorf("RequestType = %v, want discovery", resp.RequestType)
	}
	if !resp.InitiatorIP.Equal(net.IPv4(10, 0, 0, 5)) {
		t.Errorf("InitiatorIP = %v, want 10.0.0.5", resp.InitiatorIP)
	}
	if resp.SrcName != "AgentA" {
		t.Errorf("SrcName = %q, want %q", resp.SrcName, "AgentA")
	}
	if resp.DstName != "Scanner1" {
		t.Errorf("DstName = %q, want %q", resp.DstName, "Scanner1")
	}
}

func TestTransferRequest_EmitsEventAndAcks(t *testing.T) {
	ep, addr := newLoopbackEndpoint(t)

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() client error = %v", err)
	}
	defer client.Close()

	req := wire.Encode(wire.Message{
		RequestType: wire.RequestTransfer,
		InitiatorIP: net.IPv4(10, 0, 0, 9),
		SrcName:     "Scanner1",
	})
	if _, err := client.WriteToUDP(req, addr); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	select {
	case ev := <-ep.TransferEvents():
		if !ev.SenderIP.Equal(net.IPv4(10, 0, 0, 9)) {
			t.Errorf("SenderIP = %v, want 10.0.0.9", ev.SenderIP)
		}
		if ev.SrcName != "Scanner1" {
			t.Errorf("SrcName = %q, want %q", ev.SrcName, "Scanner1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TransferExpected event")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() ack error = %v", err)
	}
	resp, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode() ack error = %v", err)
	}
	if resp.RequestType != wire.RequestTransfer {
		t.Errorf("ack RequestType = %v, want transfer", resp.RequestType)
	}
}

func TestMalformedDatagram_DroppedSilently(t *testing.T) {
	_, addr := newLoopbackEndpoint(t)

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() client error = %v", err)
	}
	defer client.Close()

	if _, err := client.WriteToUDP(make([]byte, 50), addr); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 1024)
	if _, _, err := client.ReadFromUDP(buf); err == nil {
		t.Error("expected no response to a malformed 50-byte datagram")
	}

	// The endpoint must still be responsive afterwards.
	req := wire.Encode(wire.Message{RequestType: wire.RequestDiscovery, InitiatorIP: net.IPv4(10, 0, 0, 9), SrcName: "Scanner1"})
	client.WriteToUDP(req, addr)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadFromUDP(buf); err != nil {
		t.Errorf("endpoint unresponsive after malformed datagram: %v", err)
	}
}
