package proto

import (
	"encoding/json"
	"fmt"
	"net"
)

// IP represents an IPv6 address.  The base type is a string rather than a []byte, so addresses can be
// used as map keys (for example in the neighbor table).
type IP string

func isZeros(p []byte) bool {
	for i := 0; i < len(p); i++ {
		if p[i] != 0 {
			return false
		}
	}
	return true
}

// ParseIP parses a human-readable IPv6 address.  IPv4 addresses are rejected by returning "".
func ParseIP(s string) IP {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() != nil {
		return ""
	}
	return IP(ip.To16())
}

// LinkLocalIP returns the fe80::/64 address whose interface identifier is derived from a link address.
func LinkLocalIP(a LinkAddr) IP {
	iid, ok := a.IID()
	if !ok {
		return ""
	}
	b := make([]byte, net.IPv6len)
	b[0] = 0xfe
	b[1] = 0x80
	copy(b[8:], iid[:])
	return IP(b)
}

// String returns the human-readable string representation of this address.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) String() string {
	return net.IP(a).String()
}

// DebugString returns a representation to show in debuggers.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) DebugString() string {
	return fmt.Sprintf("IP %x", string(a))
}

// Equal returns true if the two IPs are equivalent.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) Equal(b IP) bool {
	return net.IP(a).Equal(net.IP(b))
}

// IsMulticast returns true if the address is in ff00::/8.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) IsMulticast() bool {
	return len(a) == net.IPv6len && a[0] == 0xff
}

// IsLinkLocal returns true if the address is in fe80::/64, the prefix which link-layer
// header compression can elide.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) IsLinkLocal() bool {
	return len(a) == net.IPv6len && a[0] == 0xfe && a[1] == 0x80 && isZeros([]byte(a[2:8]))
}

// IID returns the low 64 bits (interface identifier) of the address.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) IID() []byte {
	if len(a) != net.IPv6len {
		return nil
	}
	return []byte(a[8:])
}

// MarshalJSON marshals an IP address to JSON.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON unmarshals an IP address from JSON.
//
//goland:noinspection GoMixedReceiverTypes
func (a *IP) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}
	ip := ParseIP(s)
	if ip == "" {
		return fmt.Errorf("invalid IPv6 address")
	}
	*a = ip
	return nil
}

// MarshalYAML marshals an IP address to YAML.
//
//goland:noinspection GoMixedReceiverTypes
func (a IP) MarshalYAML() (interface{}, error) {
	if a == "" {
		return nil, nil
	}
	return a.String(), nil
}

// UnmarshalYAML unmarshals an IP address from YAML.
//
//goland:noinspection GoMixedReceiverTypes
func (a *IP) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	err := unmarshal(&s)
	if err != nil {
		return err
	}
	ip := ParseIP(s)
	if ip == "" {
		return fmt.Errorf("unmarshal YAML error: invalid IPv6 address")
	}
	*a = ip
	return nil
}
