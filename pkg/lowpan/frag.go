package lowpan

import (
	"encoding/binary"
	"fmt"
)

// Dispatch values
const (
	DispatchIPv6  byte = 0x41
	DispatchHC1   byte = 0x42
	DispatchFrag1 byte = 0xc0
	DispatchFragN byte = 0xe0

	fragDispatchMask byte = 0xf8
)

// Fragmentation header sizes and limits
const (
	Frag1HeaderLen = 4
	FragNHeaderLen = 5
	// MaxDatagramSize is the largest datagram size the 11-bit size field can express
	MaxDatagramSize = 0x7ff
	fragSizeMask    = 0x07ff
)

// FragType identifies the kind of fragmentation header at the start of a frame
type FragType uint8

const (
	FragNone FragType = iota
	Frag1
	FragN
)

func (ft FragType) String() string {
	switch ft {
	case FragNone:
		return "none"
	case Frag1:
		return "FRAG1"
	case FragN:
		return "FRAGN"
	}
	return fmt.Sprintf("FragType(%d)", uint8(ft))
}

// FragHeader is the logical content of a FRAG1 or FRAGN header
type FragHeader struct {
	Type FragType
	// Size is the size of the whole uncompressed datagram
	Size uint16
	// Tag groups all fragments of one datagram
	Tag uint16
	// Offset is the position of this fragment's payload in the uncompressed datagram, in units of 8 bytes.
	// It is always zero for FRAG1.
	Offset uint8
}

var ErrShortFragHeader = fmt.Errorf("frame too short for fragmentation header")

// Len returns the encoded length of the header
func (fh FragHeader) Len() int {
	switch fh.Type {
	case Frag1:
		return Frag1HeaderLen
	case FragN:
		return FragNHeaderLen
	}
	return 0
}

// ByteOffset returns the offset of the fragment in bytes
func (fh FragHeader) ByteOffset() int {
	return int(fh.Offset) * 8
}

// Encode writes the header to the start of b and returns its length
func (fh FragHeader) Encode(b []byte) (int, error) {
	n := fh.Len()
	if n == 0 {
		return 0, fmt.Errorf("cannot encode fragment type %s", fh.Type)
	}
	if len(b) < n {
		return 0, ErrShortFragHeader
	}
	dispatch := DispatchFrag1
	if fh.Type == FragN {
		dispatch = DispatchFragN
	}
	binary.BigEndian.PutUint16(b, uint16(dispatch)<<8|fh.Size&fragSizeMask)
	binary.BigEndian.PutUint16(b[2:], fh.Tag)
	if fh.Type == FragN {
		b[4] = fh.Offset
	}
	return n, nil
}

// FragTypeOf classifies a frame by its first byte
func FragTypeOf(b byte) FragType {
	switch b & fragDispatchMask {
	case DispatchFrag1:
		return Frag1
	case DispatchFragN:
		return FragN
	}
	return FragNone
}

// ParseFragHeader decodes the fragmentation header at the start of b.  A frame without one yields a header
// of type FragNone and no error.
func ParseFragHeader(b []byte) (FragHeader, error) {
	if len(b) == 0 {
		return FragHeader{}, ErrShortFragHeader
	}
	fh := FragHeader{Type: FragTypeOf(b[0])}
	if fh.Type == FragNone {
		return fh, nil
	}
	if len(b) < fh.Len() {
		return FragHeader{}, ErrShortFragHeader
	}
	fh.Size = binary.BigEndian.Uint16(b) & fragSizeMask
	fh.Tag = binary.BigEndian.Uint16(b[2:])
	if fh.Type == FragN {
		fh.Offset = b[4]
	}
	return fh, nil
}
