package lowpan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/ghjm/lowpan/pkg/x/modifiers"
	"github.com/ghjm/lowpan/pkg/x/syncro"
	"github.com/ghjm/lowpan/pkg/x/timerunner"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// DefaultReassemblyTimeout is how long an incomplete datagram is kept, as recommended by RFC 4944
const DefaultReassemblyTimeout = 60 * time.Second

// Reassembly drop reasons
const (
	reasmBadFrame   = "bad_frame"
	reasmBadHeader  = "bad_header"
	reasmOverlap    = "overlap"
	reasmOutOfRange = "out_of_range"
	reasmTimeout    = "timeout"
)

var (
	ErrFragmentOverlap = fmt.Errorf("fragment overlaps data already received")
	ErrFragmentBounds  = fmt.Errorf("fragment exceeds datagram size")
	ErrBadDatagramSize = fmt.Errorf("datagram size smaller than its header")
)

type reassemblyKey struct {
	src  proto.LinkAddr
	dst  proto.LinkAddr
	tag  uint16
	size uint16
}

type span struct {
	start int
	end   int
}

type partial struct {
	lock     sync.Mutex
	data     []byte
	spans    []span
	received int
	started  time.Time
	done     bool
}

// Reassembler rebuilds IPv6 packets from received frame payloads.  It is safe for concurrent use and does
// not use the device network lock.
type Reassembler struct {
	layout  FragmentLayout
	timeout time.Duration
	metrics *Metrics
	pending syncro.Map[reassemblyKey, *partial]
	now     func() time.Time
}

// ReassemblerMetrics modifies NewReassembler to count activity in m
func ReassemblerMetrics(m *Metrics) func(*Reassembler) {
	return func(r *Reassembler) {
		r.metrics = m
	}
}

// NewReassembler creates a reassembler for frames sent using layout.  Incomplete datagrams older than
// timeout are discarded by Expire.
func NewReassembler(layout FragmentLayout, timeout time.Duration, mods ...func(*Reassembler)) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	r := &Reassembler{
		layout:  layout,
		timeout: timeout,
		now:     time.Now,
	}
	modifiers.ProcessMods(r, mods)
	return r
}

// Run expires incomplete datagrams until ctx is cancelled
func (r *Reassembler) Run(ctx context.Context) {
	period := r.timeout / 4
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	tr := timerunner.New(ctx, func() {
		r.Expire()
	}, timerunner.Periodic(period))
	<-tr.Done()
}

// Pending returns the number of incomplete datagrams
func (r *Reassembler) Pending() int {
	return r.pending.Len()
}

// Expire discards incomplete datagrams which have been waiting longer than the timeout, and returns how
// many were discarded.
func (r *Reassembler) Expire() int {
	cutoff := r.now().Add(-r.timeout)
	var candidates []reassemblyKey
	var partials []*partial
	r.pending.WorkWithReadOnly(func(m map[reassemblyKey]*partial) {
		for k, p := range m {
			candidates = append(candidates, k)
			partials = append(partials, p)
		}
	})
	n := 0
	for i, k := range candidates {
		p := partials[i]
		p.lock.Lock()
		expired := !p.done && p.started.Before(cutoff)
		if expired {
			p.done = true
			log.Debugf("reassembly of datagram %d from %s timed out with %d of %d bytes", k.tag, k.src,
				p.received, k.size)
		}
		p.lock.Unlock()
		if expired {
			r.remove(k, p)
			r.metrics.reassemblyDrop(reasmTimeout)
			n++
		}
	}
	return n
}

// remove deletes key from the pending map if it still refers to p.  Must not be called with p.lock held.
func (r *Reassembler) remove(key reassemblyKey, p *partial) {
	r.pending.WorkWith(func(m *map[reassemblyKey]*partial) {
		if (*m)[key] == p {
			delete(*m, key)
		}
	})
}

// Receive processes the payload of one received frame, sent from src to dst.  If the frame completes a
// datagram, the whole IPv6 packet is returned.  A nil packet with a nil error means more fragments are needed.
func (r *Reassembler) Receive(src, dst proto.LinkAddr, frame []byte) ([]byte, error) {
	fh, err := ParseFragHeader(frame)
	if err != nil {
		r.metrics.reassemblyDrop(reasmBadFrame)
		return nil, err
	}
	switch fh.Type {
	case FragNone:
		return r.receiveWhole(src, dst, frame)
	case Frag1:
		return r.receiveFrag1(src, dst, fh, frame[Frag1HeaderLen:])
	default:
		return r.receiveFragN(src, dst, fh, frame[FragNHeaderLen:])
	}
}

func (r *Reassembler) receiveWhole(src, dst proto.LinkAddr, frame []byte) ([]byte, error) {
	packet := make([]byte, MaxHeaderLen+len(frame))
	l, err := decompress(frame, src, dst, packet)
	if err != nil {
		r.metrics.reassemblyDrop(reasmBadHeader)
		return nil, err
	}
	n := copy(packet[l.Uncompressed:], frame[l.Compressed:])
	packet = packet[:l.Uncompressed+n]
	header.IPv6(packet).SetPayloadLength(uint16(len(packet) - header.IPv6MinimumSize))
	r.metrics.delivered()
	return packet, nil
}

func (r *Reassembler) receiveFrag1(src, dst proto.LinkAddr, fh FragHeader, rest []byte) ([]byte, error) {
	hdr := make([]byte, MaxHeaderLen)
	l, err := decompress(rest, src, dst, hdr)
	if err != nil {
		r.metrics.reassemblyDrop(reasmBadHeader)
		return nil, err
	}
	data := make([]byte, 0, l.Uncompressed+len(rest)-l.Compressed)
	data = append(data, hdr[:l.Uncompressed]...)
	data = append(data, rest[l.Compressed:]...)
	return r.place(reassemblyKey{src: src, dst: dst, tag: fh.Tag, size: fh.Size}, 0, data)
}

func (r *Reassembler) receiveFragN(src, dst proto.LinkAddr, fh FragHeader, rest []byte) ([]byte, error) {
	if r.layout == LayoutReplicated {
		hdr := make([]byte, MaxHeaderLen)
		l, err := decompress(rest, src, dst, hdr)
		if err != nil {
			r.metrics.reassemblyDrop(reasmBadHeader)
			return nil, err
		}
		rest = rest[l.Compressed:]
	}
	return r.place(reassemblyKey{src: src, dst: dst, tag: fh.Tag, size: fh.Size}, fh.ByteOffset(), rest)
}

// place copies data into the datagram identified by key at offset, and returns the datagram if it is complete
func (r *Reassembler) place(key reassemblyKey, offset int, data []byte) ([]byte, error) {
	size := int(key.size)
	if size < header.IPv6MinimumSize {
		r.metrics.reassemblyDrop(reasmBadFrame)
		return nil, fmt.Errorf("%w: %d", ErrBadDatagramSize, size)
	}
	end := offset + len(data)
	if end > size {
		r.metrics.reassemblyDrop(reasmOutOfRange)
		return nil, fmt.Errorf("%w: bytes %d-%d of %d", ErrFragmentBounds, offset, end, size)
	}
	p, _ := r.pending.GetOrCreate(key, func() *partial {
		return &partial{
			data:    make([]byte, size),
			started: r.now(),
		}
	})
	packet, err := r.fill(p, key, offset, data)
	if packet != nil {
		r.remove(key, p)
		r.metrics.delivered()
	}
	return packet, err
}

// fill copies data into p under its lock, and returns the datagram once every byte has arrived
func (r *Reassembler) fill(p *partial, key reassemblyKey, offset int, data []byte) ([]byte, error) {
	size := int(key.size)
	end := offset + len(data)
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.done {
		// completed or expired while this fragment was in flight
		r.metrics.reassemblyDrop(reasmOverlap)
		return nil, ErrFragmentOverlap
	}
	if slices.IndexFunc(p.spans, func(s span) bool {
		return offset < s.end && s.start < end
	}) >= 0 {
		r.metrics.reassemblyDrop(reasmOverlap)
		return nil, fmt.Errorf("%w: bytes %d-%d of datagram %d", ErrFragmentOverlap, offset, end, key.tag)
	}
	copy(p.data[offset:], data)
	p.spans = append(p.spans, span{start: offset, end: end})
	p.received += len(data)
	if p.received < size {
		return nil, nil
	}
	// spans are disjoint and inside the datagram, so a full byte count means full coverage
	p.done = true
	header.IPv6(p.data).SetPayloadLength(uint16(size - header.IPv6MinimumSize))
	return p.data, nil
}
