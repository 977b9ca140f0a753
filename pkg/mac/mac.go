package mac

import (
	"fmt"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/proto"
)

// AddrMode is an IEEE 802.15.4 addressing mode, using the frame control field encoding
type AddrMode uint8

const (
	AddrModeNone     AddrMode = 0
	AddrModeShort    AddrMode = 2
	AddrModeExtended AddrMode = 3
)

// BroadcastPANID is the PAN ID accepted by every device
const BroadcastPANID uint16 = 0xffff

// BroadcastShortAddr is the on-air destination of a broadcast frame
const BroadcastShortAddr uint16 = 0xffff

// MaxPHYPacketSize is aMaxPHYPacketSize, the largest PSDU the 2.4 GHz PHY can carry
const MaxPHYPacketSize = 127

func (m AddrMode) String() string {
	switch m {
	case AddrModeNone:
		return "none"
	case AddrModeShort:
		return "short"
	case AddrModeExtended:
		return "extended"
	}
	return fmt.Sprintf("AddrMode(%d)", uint8(m))
}

// AddrLen returns the number of address bytes carried for the mode
func (m AddrMode) AddrLen() int {
	switch m {
	case AddrModeShort:
		return proto.ShortAddrLen
	case AddrModeExtended:
		return proto.ExtendedAddrLen
	}
	return 0
}

// ModeOf returns the addressing mode matching the length of a link address
func ModeOf(a proto.LinkAddr) AddrMode {
	switch {
	case a.IsExtended():
		return AddrModeExtended
	case a.IsShort():
		return AddrModeShort
	}
	return AddrModeNone
}

// FrameMeta is the submission contract between the adaptation layer and the MAC.  One FrameMeta is built
// per logical packet and shared, unmodified, by all of its fragments.
type FrameMeta struct {
	SrcMode   AddrMode
	DestMode  AddrMode
	DestAddr  proto.LinkAddr
	DestPANID uint16
	// Broadcast is set when the adaptation layer asked for a broadcast.  DestAddr is then the zero short address.
	Broadcast bool
	// Handle is the MSDU handle, identical for every fragment of a packet
	Handle      uint8
	AckRequest  bool
	MaxAttempts uint8
}

// Driver is the MAC-layer interface used by the adaptation layer
type Driver interface {
	// HeaderLength returns the number of bytes of link overhead a frame built from meta will carry.
	HeaderLength(meta *FrameMeta) (int, error)
	// SubmitFrame queues one frame for transmission.  Ownership of buf passes to the driver whether or
	// not an error is returned.
	SubmitFrame(meta *FrameMeta, buf *buffers.Buffer) error
	// PANID returns the PAN the device is associated with.
	PANID() (uint16, error)
}

// Medium is a shared radio channel carrying complete 802.15.4 frames (MHR, payload and FCS)
type Medium interface {
	// Transmit places a frame on the medium.  The medium does not retain frame after returning.
	Transmit(frame []byte) error
	// SubscribeFrames returns a channel which will receive every frame seen on the medium.
	SubscribeFrames() <-chan []byte
	// UnsubscribeFrames unsubscribes a channel previously subscribed with SubscribeFrames.
	UnsubscribeFrames(ch <-chan []byte)
}
