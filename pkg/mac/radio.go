package mac

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/proto"
	log "github.com/sirupsen/logrus"
)

// RadioConfig holds the link identity of a Radio
type RadioConfig struct {
	// PANID is the PAN the radio is associated with.  BroadcastPANID means not associated.
	PANID     uint16
	ShortAddr proto.LinkAddr
	ExtAddr   proto.LinkAddr
	// Capture, if not nil, receives a copy of every transmitted frame
	Capture *Capture
}

// Radio is a software 802.15.4 MAC.  It implements Driver by building complete frames and placing them on
// a Medium, and filters frames received from the Medium.
type Radio struct {
	cfg    RadioConfig
	medium Medium
	lock   sync.Mutex
	seq    uint8
}

var (
	ErrNotAssociated = fmt.Errorf("radio is not associated with a PAN")
	ErrNoSourceAddr  = fmt.Errorf("radio has no address for the requested source mode")
	ErrFrameTooLong  = fmt.Errorf("frame exceeds maximum PHY packet size")
)

// NewRadio creates a Radio on a medium
func NewRadio(cfg RadioConfig, m Medium) (*Radio, error) {
	if cfg.ShortAddr == "" && cfg.ExtAddr == "" {
		return nil, fmt.Errorf("radio needs a short or extended address")
	}
	if cfg.ShortAddr != "" && !cfg.ShortAddr.IsShort() {
		return nil, fmt.Errorf("%w: short address %s", proto.ErrInvalidLinkAddr, cfg.ShortAddr)
	}
	if cfg.ExtAddr != "" && !cfg.ExtAddr.IsExtended() {
		return nil, fmt.Errorf("%w: extended address %s", proto.ErrInvalidLinkAddr, cfg.ExtAddr)
	}
	return &Radio{
		cfg:    cfg,
		medium: m,
	}, nil
}

// Addr returns the radio's own address in the given mode
func (r *Radio) Addr(mode AddrMode) proto.LinkAddr {
	switch mode {
	case AddrModeShort:
		return r.cfg.ShortAddr
	case AddrModeExtended:
		return r.cfg.ExtAddr
	}
	return ""
}

func (r *Radio) header(meta *FrameMeta) (*Header, error) {
	src := r.Addr(meta.SrcMode)
	if src == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSourceAddr, meta.SrcMode)
	}
	h := &Header{
		FrameType:        FrameTypeData,
		AckRequest:       meta.AckRequest && !meta.Broadcast,
		PANIDCompression: true,
		Version:          1,
		DestMode:         meta.DestMode,
		DestPANID:        meta.DestPANID,
		Dest:             meta.DestAddr,
		SrcMode:          meta.SrcMode,
		Src:              src,
	}
	if meta.Broadcast {
		h.DestMode = AddrModeShort
		h.Dest = proto.ShortAddr(BroadcastShortAddr)
	}
	if len(h.Dest) != h.DestMode.AddrLen() {
		return nil, fmt.Errorf("%w: destination %s in %s mode", ErrAddrMismatch, h.Dest, h.DestMode)
	}
	return h, nil
}

// HeaderLength returns the MAC header plus FCS length of a frame described by meta
func (r *Radio) HeaderLength(meta *FrameMeta) (int, error) {
	h, err := r.header(meta)
	if err != nil {
		return 0, err
	}
	return h.Len() + FCSLen, nil
}

// PANID returns the PAN the radio is associated with
func (r *Radio) PANID() (uint16, error) {
	if r.cfg.PANID == BroadcastPANID {
		return BroadcastPANID, ErrNotAssociated
	}
	return r.cfg.PANID, nil
}

// SubmitFrame builds a complete frame around buf and transmits it.  buf is always released.
func (r *Radio) SubmitFrame(meta *FrameMeta, buf *buffers.Buffer) error {
	defer buf.Release()
	h, err := r.header(meta)
	if err != nil {
		return err
	}
	frameLen := h.Len() + buf.Len + FCSLen
	if frameLen > MaxPHYPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLong, frameLen)
	}
	frame := make([]byte, frameLen)
	r.lock.Lock()
	h.Seq = r.seq
	r.seq++
	r.lock.Unlock()
	n, err := h.Encode(frame)
	if err != nil {
		return err
	}
	n += copy(frame[n:], buf.Bytes())
	binary.LittleEndian.PutUint16(frame[n:], FCS(frame[:n]))
	if r.cfg.Capture != nil {
		cerr := r.cfg.Capture.WriteFrame(frame)
		if cerr != nil {
			log.Warnf("frame capture error: %s", cerr)
		}
	}
	log.Debugf("tx seq %d handle %d to %s: %d bytes", h.Seq, meta.Handle, h.Dest, frameLen)
	return r.medium.Transmit(frame)
}

// Accept decodes a frame received from the medium and decides whether this radio should process it.  It
// returns the header and MAC payload of accepted frames.
func (r *Radio) Accept(frame []byte) (*Header, []byte, bool) {
	h, payload, err := DecodeFrame(frame)
	if err != nil {
		log.Debugf("discarding undecodable frame: %s", err)
		return nil, nil, false
	}
	if h.FrameType != FrameTypeData {
		return nil, nil, false
	}
	if h.DestMode == AddrModeNone {
		return nil, nil, false
	}
	if h.DestPANID != r.cfg.PANID && h.DestPANID != BroadcastPANID {
		return nil, nil, false
	}
	if h.Src != "" && (h.Src == r.cfg.ShortAddr || h.Src == r.cfg.ExtAddr) {
		// our own transmission, echoed back by the medium
		return nil, nil, false
	}
	switch {
	case h.DestMode == AddrModeShort && h.Dest.Short() == BroadcastShortAddr:
	case h.Dest == r.cfg.ShortAddr || h.Dest == r.cfg.ExtAddr:
	default:
		return nil, nil, false
	}
	return h, payload, true
}
