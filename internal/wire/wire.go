// Package wire encodes and decodes the fixed 90-byte scanner control
// message. It performs no I/O and holds no state.
//
// Wire layout (all integers big-endian):
//
//	offset  size  field
//	0       3     signature    constant 0x55 0x00 0x00
//	3       3     request_type 0x5A0000 discovery / 0x5A5400 transfer
//	6       6     reserved1
//	12      4     initiator_ip
//	16      4     reserved2
//	20      20    src_name     ASCII, NUL-padded
//	40      40    dst_name     ASCII, NUL-padded
//	80      10    reserved3
package wire

import (
	"errors"
	"net"
)

// Size is the fixed length of a control message on the wire.
const Size = 90

const (
	offSignature    = 0
	offRequestType  = 3
	offReserved1    = 6
	offInitiatorIP  = 12
	offReserved2    = 16
	offSrcName      = 20
	offDstName      = 40
	offReserved3    = 80
	lenSignature    = 3
	lenRequestType  = 3
	lenReserved1    = 6
	lenInitiatorIP  = 4
	lenReserved2    = 4
	lenSrcName      = 20
	lenDstName      = 40
	lenReserved3    = 10
)

// signature is the constant magic prefix every valid message starts with.
var signature = [lenSignature]byte{0x55, 0x00, 0x00}

// RequestType identifies the purpose of a control message.
type RequestType [lenRequestType]byte

// The two request types this protocol recognizes. Any other value is
// rejected by Decode with ErrUnknownRequestType.
var (
	RequestDiscovery = RequestType{0x5A, 0x00, 0x00}
	RequestTransfer  = RequestType{0x5A, 0x54, 0x00}
)

// String renders the request type for logging.
func (r RequestType) String() string {
	switch r {
	case RequestDiscovery:
		return "discovery"
	case RequestTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Decode errors, per spec.
var (
	ErrWrongLength        = errors.New("wire: message is not 90 bytes")
	ErrBadSignature       = errors.New("wire: bad signature")
	ErrUnknownRequestType = errors.New("wire: unknown request type")
	ErrBadIPv4            = errors.New("wire: initiator_ip is not a valid IPv4 address")
)

// Message is the Go realization of the control message fields relevant
// to this agent. Reserved fields are never exposed: they are zeroed on
// Encode and ignored on Decode, per spec.
type Message struct {
	RequestType RequestType
	InitiatorIP net.IP // always 4-byte (IPv4) form
	SrcName     string
	DstName     string
}

// Encode serializes msg into a 90-byte wire message. Name fields longer
// than their field width are truncated, never rejected. Bytes remaining
// after truncation that are not printable ASCII (0x20-0x7E) are replaced
// with '?'.
func Encode(msg Message) []byte {
	buf := make([]byte, Size)

	copy(buf[offSignature:offSignature+lenSignature], signature[:])
	copy(buf[offRequestType:offRequestType+lenRequestType], msg.RequestType[:])
	// reserved1, reserved2, reserved3 stay zero-filled.

	ip4 := msg.InitiatorIP.To4()
	if ip4 != nil {
		copy(buf[offInitiatorIP:offInitiatorIP+lenInitiatorIP], ip4)
	}

	putName(buf[offSrcName:offSrcName+lenSrcName], msg.SrcName)
	putName(buf[offDstName:offDstName+lenDstName], msg.DstName)

	return buf
}

// putName truncates s to len(field), NUL-pads the remainder, and
// replaces any byte outside printable ASCII (non-ASCII and control
// bytes) with '?'.
func putName(field []byte, s string) {
	n := copy(field, s)
	for i := 0; i < n; i++ {
		if field[i] > 0x7E || field[i] < 0x20 {
			field[i] = '?'
		}
	}
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
}

// Decode parses a 90-byte wire message. It returns the first applicable
// error among ErrWrongLength, ErrBadSignature, ErrUnknownRequestType,
// ErrBadIPv4.
func Decode(b []byte) (Message, error) {
	if len(b) != Size {
		return Message{}, ErrWrongLength
	}
	if !bytesEqual(b[offSignature:offSignature+lenSignature], signature[:]) {
		return Message{}, ErrBadSignature
	}

	var rt RequestType
	copy(rt[:], b[offRequestType:offRequestType+lenRequestType])
	if rt != RequestDiscovery && rt != RequestTransfer {
		return Message{}, ErrUnknownRequestType
	}

	ipBytes := b[offInitiatorIP : offInitiatorIP+lenInitiatorIP]
	ip := net.IPv4(ipBytes[0], ipBytes[1], ipBytes[2], ipBytes[3])
	if ip.To4() == nil {
		return Message{}, ErrBadIPv4
	}

	return Message{
		RequestType: rt,
		InitiatorIP: ip.To4(),
		SrcName:     trimName(b[offSrcName : offSrcName+lenSrcName]),
		DstName:     trimName(b[offDstName : offDstName+lenDstName]),
	}, nil
}

// trimName strips trailing NUL padding from a fixed-width name field.
func trimName(field []byte) string {
	i := 0
	for i < len(field) && field[i] != 0 {
		i++
	}
	return string(field[:i])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
