package mac

import (
	"encoding/binary"
	"fmt"

	"github.com/ghjm/lowpan/pkg/proto"
)

// Frame types
const (
	FrameTypeBeacon  uint8 = 0
	FrameTypeData    uint8 = 1
	FrameTypeAck     uint8 = 2
	FrameTypeCommand uint8 = 3
)

// Frame control field bits
const (
	fcFrameTypeMask   uint16 = 0x0007
	fcSecurity        uint16 = 1 << 3
	fcFramePending    uint16 = 1 << 4
	fcAckRequest      uint16 = 1 << 5
	fcPANIDCompress   uint16 = 1 << 6
	fcDestModeShift          = 10
	fcVersionShift           = 12
	fcSrcModeShift           = 14
	fcAddrModeMask    uint16 = 0x3
	fcVersionMask     uint16 = 0x3
	frameControlLen          = 2
	sequenceNumberLen        = 1
	panIDLen                 = 2
)

// FCSLen is the length of the frame check sequence trailing every frame
const FCSLen = 2

var (
	ErrShortFrame     = fmt.Errorf("frame too short")
	ErrBadFCS         = fmt.Errorf("frame check sequence mismatch")
	ErrAddrMismatch   = fmt.Errorf("address does not match addressing mode")
	ErrReservedMode   = fmt.Errorf("reserved addressing mode")
	ErrSecuredFrame   = fmt.Errorf("secured frames are not supported")
	ErrBufferTooSmall = fmt.Errorf("buffer too small for MAC header")
)

// Header is a decoded IEEE 802.15.4 MAC header (MHR)
type Header struct {
	FrameType        uint8
	FramePending     bool
	AckRequest       bool
	PANIDCompression bool
	Version          uint8
	Seq              uint8
	DestMode         AddrMode
	DestPANID        uint16
	Dest             proto.LinkAddr
	SrcMode          AddrMode
	SrcPANID         uint16
	Src              proto.LinkAddr
}

func (h *Header) srcPANPresent() bool {
	return h.SrcMode != AddrModeNone && !(h.PANIDCompression && h.DestMode != AddrModeNone)
}

// Len returns the encoded length of the header
func (h *Header) Len() int {
	n := frameControlLen + sequenceNumberLen
	if h.DestMode != AddrModeNone {
		n += panIDLen + h.DestMode.AddrLen()
	}
	if h.srcPANPresent() {
		n += panIDLen
	}
	n += h.SrcMode.AddrLen()
	return n
}

// putAddr writes a link address in over-the-air (least significant byte first) order
func putAddr(b []byte, a proto.LinkAddr) {
	for i := 0; i < len(a); i++ {
		b[i] = a[len(a)-1-i]
	}
}

func getAddr(b []byte) proto.LinkAddr {
	a := make([]byte, len(b))
	for i := range b {
		a[i] = b[len(b)-1-i]
	}
	return proto.LinkAddr(a)
}

// Encode writes the header to the start of b, returning the number of bytes written
func (h *Header) Encode(b []byte) (int, error) {
	if h.DestMode == 1 || h.SrcMode == 1 || h.DestMode > AddrModeExtended || h.SrcMode > AddrModeExtended {
		return 0, ErrReservedMode
	}
	if len(h.Dest) != h.DestMode.AddrLen() || len(h.Src) != h.SrcMode.AddrLen() {
		return 0, ErrAddrMismatch
	}
	n := h.Len()
	if len(b) < n {
		return 0, ErrBufferTooSmall
	}
	fc := uint16(h.FrameType) & fcFrameTypeMask
	if h.FramePending {
		fc |= fcFramePending
	}
	if h.AckRequest {
		fc |= fcAckRequest
	}
	if h.PANIDCompression {
		fc |= fcPANIDCompress
	}
	fc |= uint16(h.DestMode) << fcDestModeShift
	fc |= (uint16(h.Version) & fcVersionMask) << fcVersionShift
	fc |= uint16(h.SrcMode) << fcSrcModeShift
	binary.LittleEndian.PutUint16(b, fc)
	b[2] = h.Seq
	i := frameControlLen + sequenceNumberLen
	if h.DestMode != AddrModeNone {
		binary.LittleEndian.PutUint16(b[i:], h.DestPANID)
		i += panIDLen
		putAddr(b[i:], h.Dest)
		i += len(h.Dest)
	}
	if h.srcPANPresent() {
		binary.LittleEndian.PutUint16(b[i:], h.SrcPANID)
		i += panIDLen
	}
	putAddr(b[i:], h.Src)
	i += len(h.Src)
	return i, nil
}

// DecodeHeader parses the MAC header at the start of b, returning the header and its length
func DecodeHeader(b []byte) (*Header, int, error) {
	if len(b) < frameControlLen+sequenceNumberLen {
		return nil, 0, ErrShortFrame
	}
	fc := binary.LittleEndian.Uint16(b)
	if fc&fcSecurity != 0 {
		return nil, 0, ErrSecuredFrame
	}
	h := &Header{
		FrameType:        uint8(fc & fcFrameTypeMask),
		FramePending:     fc&fcFramePending != 0,
		AckRequest:       fc&fcAckRequest != 0,
		PANIDCompression: fc&fcPANIDCompress != 0,
		Version:          uint8((fc >> fcVersionShift) & fcVersionMask),
		Seq:              b[2],
		DestMode:         AddrMode((fc >> fcDestModeShift) & fcAddrModeMask),
		SrcMode:          AddrMode((fc >> fcSrcModeShift) & fcAddrModeMask),
	}
	if h.DestMode == 1 || h.SrcMode == 1 {
		return nil, 0, ErrReservedMode
	}
	n := h.Len()
	if len(b) < n {
		return nil, 0, ErrShortFrame
	}
	i := frameControlLen + sequenceNumberLen
	if h.DestMode != AddrModeNone {
		h.DestPANID = binary.LittleEndian.Uint16(b[i:])
		i += panIDLen
		h.Dest = getAddr(b[i : i+h.DestMode.AddrLen()])
		i += h.DestMode.AddrLen()
	}
	if h.srcPANPresent() {
		h.SrcPANID = binary.LittleEndian.Uint16(b[i:])
		i += panIDLen
	} else {
		h.SrcPANID = h.DestPANID
	}
	h.Src = getAddr(b[i : i+h.SrcMode.AddrLen()])
	i += h.SrcMode.AddrLen()
	return h, i, nil
}

// FCS computes the 16-bit ITU-T CRC used as the 802.15.4 frame check sequence
func FCS(b []byte) uint16 {
	var crc uint16
	for _, c := range b {
		crc ^= uint16(c)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// DecodeFrame verifies the FCS of a complete frame and splits it into header and payload
func DecodeFrame(frame []byte) (*Header, []byte, error) {
	if len(frame) < frameControlLen+sequenceNumberLen+FCSLen {
		return nil, nil, ErrShortFrame
	}
	body := frame[:len(frame)-FCSLen]
	if FCS(body) != binary.LittleEndian.Uint16(frame[len(body):]) {
		return nil, nil, ErrBadFCS
	}
	h, n, err := DecodeHeader(body)
	if err != nil {
		return nil, nil, err
	}
	return h, body[n:], nil
}
