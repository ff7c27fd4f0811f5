package config

import (
	"net"
	"strings"
	"testing"
)

func valid() Config {
	c := Default()
	c.Scanner.DefaultSrcName = "AgentA"
	c.Scanner.FilesDirectory = "/tmp/scanagent"
	return c
}

func TestValidate_Valid(t *testing.T) {
	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_NameTooLong(t *testing.T) {
	c := valid()
	c.Scanner.DefaultSrcName = strings.Repeat("X", 21)

	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for oversized agent name")
	}
}

func TestValidate_MissingFilesDirectory(t *testing.T) {
	c := valid()
	c.Scanner.FilesDirectory = ""

	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for missing files_directory")
	}
}

func TestValidate_ProxyRequiresAddress(t *testing.T) {
	c := valid()
	c.Proxy.Enabled = true

	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error when proxy enabled without agent_ip_address")
	}

	c.Proxy.AgentIPAddress = net.IPv4(10, 0, 0, 200)
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil once agent_ip_address set", err)
	}
}

func TestValidate_BadPorts(t *testing.T) {
	c := valid()
	c.Network.UDPPort = 0
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for port 0")
	}

	c = valid()
	c.Network.TCPPort = 70000
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for out-of-range port")
	}
}
