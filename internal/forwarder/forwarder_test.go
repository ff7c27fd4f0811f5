package forwarder

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scanbridge/agent/internal/data"
	"github.com/scanbridge/agent/internal/store"
	"github.com/scanbridge/agent/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("component", "forwarder_test")
}

// downstreamStub behaves like a minimal peer agent: it acks any
// transfer-request over UDP and accepts one TCP connection, recording
// whatever bytes it receives.
type downstreamStub struct {
	udp *net.UDPConn
	tcp net.Listener

	received chan []byte
}

func newDownstreamStub(t *testing.T) *downstreamStub {
	t.Helper()

	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}

	tcp, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	d := &downstreamStub{udp: udp, tcp: tcp, received: make(chan []byte, 1)}

	go d.serveUDP()
	go d.serveTCP()

	t.Cleanup(func() {
		udp.Close()
		tcp.Close()
	})

	return d
}

func (d *downstreamStub) serveUDP() {
	buf := make([]byte, 1024)
	for {
		n, addr, err := d.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		ack := wire.Encode(wire.Message{
			RequestType: msg.RequestType,
			InitiatorIP: net.IPv4(10, 0, 0, 50),
			SrcName:     "Downstream",
			DstName:     msg.SrcName,
		})
		d.udp.WriteToUDP(ack, addr)
	}
}

func (d *downstreamStub) serveTCP() {
	conn, err := d.tcp.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	buf := make([]byte, 4096)
	var all []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			all = append(all, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	d.received <- all
}

func newTestArtifact(t *testing.T, contents string) store.Artifact {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return store.Artifact{Path: path, SenderIP: net.IPv4(192, 168, 1, 2), Size: int64(len(contents))}
}

func udpPort(t *testing.T, addr net.Addr) int {
	t.Helper()
	return addr.(*net.UDPAddr).Port
}

func tcpPort(t *testing.T, addr net.Addr) int {
	t.Helper()
	return addr.(*net.TCPAddr).Port
}

func TestForward_HappyPath(t *testing.T) {
	stub := newDownstreamStub(t)

	cfg := Config{
		DownstreamIP:     net.IPv4(127, 0, 0, 1),
		UDPPort:          udpPort(t, stub.udp.LocalAddr()),
		TCPPort:          tcpPort(t, stub.tcp.Addr()),
		DiscoveryTimeout: 2 * time.Second,
		MaxRetryAttempts: 1,
		LocalIP:          net.IPv4(10, 0, 0, 5),
		AgentName:        "AgentA",
		DownstreamName:   "Downstream",
	}

	events := make(chan data.Completed, 1)
	fwd := New(cfg, events, testLogger())

	artifact := newTestArtifact(t, "PAGE-CONTENTS")
	events <- data.Completed{Artifact: artifact, SenderIP: artifact.SenderIP}
	close(events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fwd.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	select {
	case got := <-stub.received:
		if string(got) != "PAGE-CONTENTS" {
			t.Errorf("received = %q, want %q", got, "PAGE-CONTENTS")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for downstream to receive artifact bytes")
	}
}

func TestForward_AckTimeoutRetriesThenGivesUp(t *testing.T) {
	// A UDP socket that never acks, and no TCP listener at all.
	deadUDP, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer deadUDP.Close()

	cfg := Config{
		DownstreamIP:     net.IPv4(127, 0, 0, 1),
		UDPPort:          udpPort(t, deadUDP.LocalAddr()),
		TCPPort:          1, // unused, never reached
		DiscoveryTimeout: 100 * time.Millisecond,
		MaxRetryAttempts: 2,
		RetryBackoff:     10 * time.Millisecond,
		LocalIP:          net.IPv4(10, 0, 0, 5),
		AgentName:        "AgentA",
		DownstreamName:   "Downstream",
	}

	events := make(chan data.Completed, 1)
	fwd := New(cfg, events, testLogger())

	artifact := newTestArtifact(t, "X")
	events <- data.Completed{Artifact: artifact, SenderIP: artifact.SenderIP}
	close(events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fwd.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Completion here (without hanging) demonstrates the retry loop
	// gives up after MaxRetryAttempts rather than retrying forever.
}

func TestEnqueue_DropsOldestWhenFull(t *testing.T) {
	cfg := Config{DiscoveryTimeout: time.Millisecond, MaxRetryAttempts: 1}
	events := make(chan data.Completed)
	fwd := New(cfg, events, testLogger())

	for i := 0; i < queueCapacity+5; i++ {
		fwd.enqueue(store.Artifact{Path: filepath.Join("artifact", string(rune('a'+i%26)))})
	}

	if len(fwd.jobs) != queueCapacity {
		t.Errorf("len(jobs) = %d, want %d", len(fwd.jobs), queueCapacity)
	}

	// The five oldest jobs (i=0..4) were dropped, so the head is i=5.
	if head := <-fwd.jobs; head.Path != filepath.Join("artifact", "f") {
		t.Errorf("head job Path = %q, want %q", head.Path, filepath.Join("artifact", "f"))
	}
}
