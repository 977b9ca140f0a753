package proto

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LinkAddr is an IEEE 802.15.4 link address: either a 2-byte short address or an 8-byte extended
// address, stored most significant byte first.  The empty LinkAddr means "broadcast", as does an
// all-zero address of either length.
type LinkAddr string

const (
	ShortAddrLen    = 2
	ExtendedAddrLen = 8
)

// BroadcastAddr is the LinkAddr callers pass to request a broadcast transmission.
const BroadcastAddr LinkAddr = ""

var ErrInvalidLinkAddr = fmt.Errorf("invalid link address")

// ShortAddr returns the LinkAddr for a 16-bit short address.
func ShortAddr(v uint16) LinkAddr {
	b := make([]byte, ShortAddrLen)
	binary.BigEndian.PutUint16(b, v)
	return LinkAddr(b)
}

// ExtendedAddr returns the LinkAddr for a 64-bit extended address.
func ExtendedAddr(v uint64) LinkAddr {
	b := make([]byte, ExtendedAddrLen)
	binary.BigEndian.PutUint64(b, v)
	return LinkAddr(b)
}

// ParseLinkAddr parses a link address written as colon-separated hex bytes ("00:2a" or
// "02:00:00:00:00:00:00:2a") or as a 0x-prefixed 16-bit short address ("0x002a").
func ParseLinkAddr(s string) (LinkAddr, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 16)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidLinkAddr, s)
		}
		return ShortAddr(uint16(v)), nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidLinkAddr, s)
	}
	a := LinkAddr(b)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidLinkAddr, s)
	}
	return a, nil
}

// Valid returns true if the address has a legal 802.15.4 length.
func (a LinkAddr) Valid() bool {
	return len(a) == ShortAddrLen || len(a) == ExtendedAddrLen
}

// IsShort returns true for a 2-byte address.
func (a LinkAddr) IsShort() bool {
	return len(a) == ShortAddrLen
}

// IsExtended returns true for an 8-byte address.
func (a LinkAddr) IsExtended() bool {
	return len(a) == ExtendedAddrLen
}

// IsBroadcast returns true if the address is empty or all zeros.
func (a LinkAddr) IsBroadcast() bool {
	return isZeros([]byte(a))
}

// Short returns the numeric value of a short address, or 0 if this is not a short address.
func (a LinkAddr) Short() uint16 {
	if !a.IsShort() {
		return 0
	}
	return binary.BigEndian.Uint16([]byte(a))
}

// Uint64 returns the numeric value of the address.
func (a LinkAddr) Uint64() uint64 {
	var v uint64
	for i := 0; i < len(a); i++ {
		v = v<<8 | uint64(a[i])
	}
	return v
}

// IID returns the IPv6 interface identifier derived from this link address.  An extended address
// becomes a modified EUI-64 (universal/local bit inverted); a short address becomes
// 0000:00ff:fe00:XXXX.  Broadcast and malformed addresses have no IID.
func (a LinkAddr) IID() ([8]byte, bool) {
	var iid [8]byte
	switch {
	case a.IsBroadcast():
		return iid, false
	case a.IsExtended():
		copy(iid[:], a)
		iid[0] ^= 0x02
	case a.IsShort():
		iid[3] = 0xff
		iid[4] = 0xfe
		iid[6] = a[0]
		iid[7] = a[1]
	default:
		return iid, false
	}
	return iid, true
}

// LinkAddrFromIID reverses IID: it recovers the link address an interface identifier was derived from.
func LinkAddrFromIID(iid []byte) (LinkAddr, bool) {
	if len(iid) != 8 {
		return "", false
	}
	if isZeros(iid[0:3]) && iid[3] == 0xff && iid[4] == 0xfe && iid[5] == 0 {
		return LinkAddr(iid[6:8]), true
	}
	b := make([]byte, ExtendedAddrLen)
	copy(b, iid)
	b[0] ^= 0x02
	return LinkAddr(b), true
}

// String returns the colon-separated hex representation, or "broadcast".
func (a LinkAddr) String() string {
	if len(a) == 0 {
		return "broadcast"
	}
	parts := make([]string, len(a))
	for i := 0; i < len(a); i++ {
		parts[i] = fmt.Sprintf("%02x", a[i])
	}
	return strings.Join(parts, ":")
}

// DebugString returns a representation to show in debuggers.
func (a LinkAddr) DebugString() string {
	return fmt.Sprintf("LinkAddr %x", string(a))
}

// MarshalJSON marshals a link address to JSON.
func (a LinkAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON unmarshals a link address from JSON.
func (a *LinkAddr) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}
	la, err := ParseLinkAddr(s)
	if err != nil {
		return err
	}
	*a = la
	return nil
}

// MarshalYAML marshals a link address to YAML.
func (a LinkAddr) MarshalYAML() (interface{}, error) {
	if a == "" {
		return nil, nil
	}
	return a.String(), nil
}

// UnmarshalYAML unmarshals a link address from YAML.
func (a *LinkAddr) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	err := unmarshal(&s)
	if err != nil {
		return err
	}
	la, err := ParseLinkAddr(s)
	if err != nil {
		return fmt.Errorf("unmarshal YAML error: %w", err)
	}
	*a = la
	return nil
}
