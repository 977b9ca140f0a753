package lowpan

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/proto"
	log "github.com/sirupsen/logrus"
)

// Request is one outbound packet.  Header holds the IPv6 header followed by the transport header.  The
// slices are only read, and only for the duration of the call they are passed to.
type Request struct {
	Header  []byte
	Payload []byte
	// Dest is the link-layer next hop.  BroadcastAddr or an all-zero address requests a broadcast.
	Dest proto.LinkAddr
}

var (
	ErrHeaderLength   = fmt.Errorf("unable to determine MAC header length")
	ErrTooLarge       = fmt.Errorf("packet too large")
	ErrFrameTooSmall  = fmt.Errorf("frame too small for fragmentation")
	ErrBadDestination = fmt.Errorf("invalid destination link address")
)

// Packet paths, for metrics
const (
	pathSingle     = "single"
	pathFragmented = "fragmented"
)

// QueueFrames compresses, fragments if necessary, and submits one packet to the MAC.  The network lock must
// be held by the caller.  If an error is returned before submission begins, no frame has been sent.  Errors
// during submission are reported as a *SubmitError after every frame has been attempted.
func (d *Device) QueueFrames(ctx context.Context, req Request) error {
	err := d.queueFrames(ctx, req)
	if err != nil {
		if _, ok := err.(*SubmitError); !ok {
			d.metrics.drop(dropReason(err))
		}
	}
	return err
}

func (d *Device) queueFrames(ctx context.Context, req Request) error {
	if req.Dest != proto.BroadcastAddr && !req.Dest.Valid() {
		return fmt.Errorf("%w: %s", ErrBadDestination, req.Dest)
	}
	pm := d.packetMeta(req.Dest)
	meta := d.buildFrameMeta(&pm)
	macLen, err := d.driver.HeaderLength(&meta)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHeaderLength, err)
	}
	capacity := d.cfg.MaxFrameSize - macLen
	if capacity <= 0 {
		return fmt.Errorf("%w: MAC header of %d bytes fills the frame", ErrFrameTooSmall, macLen)
	}

	head, err := d.pool.Get(ctx)
	if err != nil {
		return err
	}
	chain := buffers.Chain{head}
	comp := d.compressorFor(len(req.Header) + len(req.Payload))
	lengths, err := comp.Compress(req.Header, pm.Src, pm.Dest, head.Data()[:capacity])
	if err != nil {
		chain.Release()
		if errors.Is(err, ErrNoRoom) {
			return fmt.Errorf("%w: %w", ErrFrameTooSmall, err)
		}
		return err
	}

	// Anything in the header region the compressor did not consume travels as payload.
	payload := req.Payload
	if len(req.Header) > lengths.Uncompressed {
		payload = make([]byte, 0, len(req.Header)-lengths.Uncompressed+len(req.Payload))
		payload = append(payload, req.Header[lengths.Uncompressed:]...)
		payload = append(payload, req.Payload...)
	}

	path := pathSingle
	if len(payload) <= capacity-lengths.Compressed {
		n := copy(head.Data()[lengths.Compressed:], payload)
		head.Len = lengths.Compressed + n
		head.PacketLen = head.Len
	} else {
		if !d.cfg.Fragmentation {
			chain.Release()
			return fmt.Errorf("%w: %d bytes and fragmentation is disabled", ErrTooLarge, lengths.Compressed+len(payload))
		}
		chain, err = d.fragment(ctx, chain, lengths, payload, capacity)
		if err != nil {
			return err
		}
		path = pathFragmented
	}

	d.metrics.packet(path)
	log.Debugf("queueing %s packet to %s: %d frames, %d bytes, tag %d, handle %d",
		path, pm.Dest, len(chain), chain.Head().PacketLen, d.tag, meta.Handle)
	err = d.submitChain(&meta, chain)
	d.tag++
	return err
}

// fragment turns the compressed header in the head of chain into a FRAG1 frame and appends FRAGN frames
// until payload is exhausted.  Fragment offsets count bytes of the uncompressed datagram.  On error every
// buffer in the chain has been released.
func (d *Device) fragment(ctx context.Context, chain buffers.Chain, lengths Lengths, payload []byte,
	capacity int) (buffers.Chain, error) {
	size := lengths.Uncompressed + len(payload)
	if size > MaxDatagramSize {
		chain.Release()
		return nil, fmt.Errorf("%w: datagram of %d bytes exceeds %d", ErrTooLarge, size, MaxDatagramSize)
	}
	head := chain.Head()
	data := head.Data()
	hdrEnd := Frag1HeaderLen + lengths.Compressed
	firstExtent := (lengths.Uncompressed + capacity - hdrEnd) &^ 7
	first := firstExtent - lengths.Uncompressed
	nOverhead := FragNHeaderLen
	if d.cfg.Layout == LayoutReplicated {
		nOverhead += lengths.Compressed
	}
	room := capacity - nOverhead
	if hdrEnd > capacity || first < 0 || room < 8 {
		chain.Release()
		return nil, fmt.Errorf("%w: %d usable bytes, %d byte compressed header", ErrFrameTooSmall, capacity,
			lengths.Compressed)
	}

	fh := FragHeader{
		Type: Frag1,
		Size: uint16(size),
		Tag:  d.tag,
	}
	copy(data[Frag1HeaderLen:], data[:lengths.Compressed])
	_, err := fh.Encode(data)
	if err != nil {
		chain.Release()
		return nil, err
	}
	sent := copy(data[hdrEnd:capacity], payload[:first])
	head.Len = hdrEnd + sent
	head.PacketLen = head.Len

	fh.Type = FragN
	for sent < len(payload) {
		buf, err := d.pool.Get(ctx)
		if err != nil {
			chain.Release()
			return nil, err
		}
		chain = append(chain, buf)
		bd := buf.Data()
		fh.Offset = uint8((lengths.Uncompressed + sent) >> 3)
		n, err := fh.Encode(bd)
		if err != nil {
			chain.Release()
			return nil, err
		}
		if d.cfg.Layout == LayoutReplicated {
			n += copy(bd[n:], data[Frag1HeaderLen:hdrEnd])
		}
		chunk := len(payload) - sent
		if chunk > room {
			chunk = room &^ 7
		}
		n += copy(bd[n:], payload[sent:sent+chunk])
		sent += chunk
		buf.Len = n
		head.PacketLen += n
	}
	return chain, nil
}
