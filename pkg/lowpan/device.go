package lowpan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/ghjm/lowpan/pkg/x/modifiers"
)

// FragmentLayout selects what follows the FRAGN header in second and later fragments
type FragmentLayout int

const (
	// LayoutReplicated repeats the compressed header of the first fragment after every FRAGN header
	LayoutReplicated FragmentLayout = iota
	// LayoutCompact carries only payload after the FRAGN header, as in RFC 4944
	LayoutCompact
)

func (l FragmentLayout) String() string {
	switch l {
	case LayoutReplicated:
		return "replicated"
	case LayoutCompact:
		return "compact"
	}
	return fmt.Sprintf("FragmentLayout(%d)", int(l))
}

// ParseLayout parses the name of a fragment layout
func ParseLayout(s string) (FragmentLayout, error) {
	switch strings.ToLower(s) {
	case "", "replicated":
		return LayoutReplicated, nil
	case "compact", "rfc4944":
		return LayoutCompact, nil
	}
	return 0, fmt.Errorf("unknown fragment layout %q", s)
}

// Config holds the adaptation layer settings of a device
type Config struct {
	ShortAddr proto.LinkAddr
	ExtAddr   proto.LinkAddr
	// ExtendedAddressing selects the extended address as the source of every frame
	ExtendedAddressing bool
	// MaxFrameSize is the largest frame, MAC header and FCS included, the radio can send
	MaxFrameSize int
	// Fragmentation enables splitting packets that do not fit in one frame
	Fragmentation bool
	// Compression names the header compression scheme
	Compression string
	// CompressionThreshold is the packet size below which headers are sent uncompressed
	CompressionThreshold int
	Layout               FragmentLayout
	SubmitPolicy         SubmitPolicy
	MaxAttempts          uint8
}

// DefaultConfig returns the configuration used for unset values
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:  mac.MaxPHYPacketSize,
		Fragmentation: true,
		Compression:   "none",
		Layout:        LayoutReplicated,
		SubmitPolicy:  SubmitContinue,
		MaxAttempts:   3,
	}
}

// Device is one 6LoWPAN interface: the compress, fragment and submit path in front of a MAC driver.
//
// Device has a network lock.  QueueFrames must only be called with the lock held, and the lock must stay
// held for the duration of the call.  The lock serializes use of the datagram tag and message handle
// counters, and keeps the fragments of one packet contiguous at the MAC.
type Device struct {
	netLock  sync.Mutex
	cfg      Config
	driver   mac.Driver
	pool     *buffers.Pool
	scheme   Compressor
	fallback Compressor
	metrics  *Metrics
	tag      uint16
	handle   uint8
}

var ErrBadConfig = fmt.Errorf("invalid device configuration")

// WithMetrics modifies NewDevice to count activity in m
func WithMetrics(m *Metrics) func(*Device) {
	return func(d *Device) {
		d.metrics = m
	}
}

// WithInitialTag modifies NewDevice to start the datagram tag counter at tag
func WithInitialTag(tag uint16) func(*Device) {
	return func(d *Device) {
		d.tag = tag
	}
}

// NewDevice creates a device which sends frames through driver, using buffers from pool
func NewDevice(cfg Config, driver mac.Driver, pool *buffers.Pool, mods ...func(*Device)) (*Device, error) {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = mac.MaxPHYPacketSize
	}
	if cfg.ExtendedAddressing && !cfg.ExtAddr.IsExtended() {
		return nil, fmt.Errorf("%w: extended addressing requires an extended address", ErrBadConfig)
	}
	if !cfg.ExtendedAddressing && !cfg.ShortAddr.IsShort() {
		return nil, fmt.Errorf("%w: short addressing requires a short address", ErrBadConfig)
	}
	if pool.Size() < cfg.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d byte buffers cannot hold %d byte frames", ErrBadConfig, pool.Size(), cfg.MaxFrameSize)
	}
	scheme, err := LookupScheme(cfg.Compression)
	if err != nil {
		return nil, err
	}
	d := &Device{
		cfg:      cfg,
		driver:   driver,
		pool:     pool,
		scheme:   scheme,
		fallback: NoCompression(),
	}
	modifiers.ProcessMods(d, mods)
	return d, nil
}

// Lock acquires the network lock
func (d *Device) Lock() {
	d.netLock.Lock()
}

// Unlock releases the network lock
func (d *Device) Unlock() {
	d.netLock.Unlock()
}

// Send queues the frames of one packet, taking the network lock for the duration of the call
func (d *Device) Send(ctx context.Context, req Request) error {
	d.Lock()
	defer d.Unlock()
	return d.QueueFrames(ctx, req)
}

// Config returns the device configuration
func (d *Device) Config() Config {
	return d.cfg
}

// DatagramTag returns the tag the next packet will carry.  The caller must hold the network lock.
func (d *Device) DatagramTag() uint16 {
	return d.tag
}

// Handle returns the MSDU handle the next packet will carry.  The caller must hold the network lock.
func (d *Device) Handle() uint8 {
	return d.handle
}

// SrcAddr returns the link address frames are sent from
func (d *Device) SrcAddr() proto.LinkAddr {
	if d.cfg.ExtendedAddressing {
		return d.cfg.ExtAddr
	}
	return d.cfg.ShortAddr
}

// compressorFor selects the header compression scheme for a packet of the given size
func (d *Device) compressorFor(size int) Compressor {
	if size < d.cfg.CompressionThreshold {
		return d.fallback
	}
	return d.scheme
}
