package krpc

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AddressType classifies an endpoint address.
type AddressType uint8

const (
	// AddressTypeIPv4 is a dotted-quad IPv4 address.
	AddressTypeIPv4 AddressType = iota
	// AddressTypeDomain is a DNS name, resolved at send time.
	AddressTypeDomain
)

// CompactEndpointLength is the wire size of compact peer info:
// 4 bytes IPv4 followed by a 2-byte big-endian port.
const CompactEndpointLength = 6

// Endpoint is a network location (addr, port) as the DHT sees it.
// Bootstrap entries are domain endpoints; everything learned from the
// wire is IPv4.
type Endpoint struct {
	Addr string
	Port uint16
	Type AddressType
}

// NewEndpoint validates addr and classifies it as IPv4 or domain.
// Construction fails for anything that is neither a parseable
// dotted-quad nor a syntactically valid DNS name.
func NewEndpoint(addr string, port uint16) (Endpoint, error) {
	t, err := classifyAddr(addr)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Addr: addr, Port: port, Type: t}, nil
}

func classifyAddr(addr string) (AddressType, error) {
	if addr == "" {
		return 0, fmt.Errorf("krpc: empty address")
	}
	if ip := net.ParseIP(addr); ip != nil {
		if ip.To4() == nil {
			return 0, fmt.Errorf("krpc: address %q is not IPv4", addr)
		}
		return AddressTypeIPv4, nil
	}
	// A numeric-only string that failed to parse is a broken IP, not a
	// domain.
	if strings.Trim(addr, "0123456789.") == "" {
		return 0, fmt.Errorf("krpc: invalid IPv4 address %q", addr)
	}
	if !isValidDomain(addr) {
		return 0, fmt.Errorf("krpc: invalid domain name %q", addr)
	}
	return AddressTypeDomain, nil
}

func isValidDomain(name string) bool {
	if len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z':
			case c >= 'A' && c <= 'Z':
			case c >= '0' && c <= '9':
			case c == '-':
			default:
				return false
			}
		}
	}
	return true
}

// Equal reports structural equality: same address and port.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Addr == other.Addr && e.Port == other.Port
}

// String renders the endpoint in host:port form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Addr, strconv.Itoa(int(e.Port)))
}

// MarshalCompact encodes the endpoint as 6-byte compact peer info.
// Domain endpoints have no compact form.
func (e Endpoint) MarshalCompact() ([]byte, error) {
	if e.Type != AddressTypeIPv4 {
		return nil, fmt.Errorf("krpc: no compact encoding for domain endpoint %q", e.Addr)
	}
	ip := net.ParseIP(e.Addr).To4()
	if ip == nil {
		return nil, fmt.Errorf("krpc: invalid IPv4 address %q", e.Addr)
	}
	out := make([]byte, CompactEndpointLength)
	copy(out[:4], ip)
	binary.BigEndian.PutUint16(out[4:], e.Port)
	return out, nil
}

// ParseCompactEndpoint decodes 6-byte compact peer info.
func ParseCompactEndpoint(data []byte) (Endpoint, error) {
	if len(data) != CompactEndpointLength {
		return Endpoint{}, fmt.Errorf("krpc: compact peer info must be %d bytes, got %d", CompactEndpointLength, len(data))
	}
	addr := net.IPv4(data[0], data[1], data[2], data[3]).String()
	port := binary.BigEndian.Uint16(data[4:])
	return Endpoint{Addr: addr, Port: port, Type: AddressTypeIPv4}, nil
}
