package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/lowpan"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/medium"
	"github.com/ghjm/lowpan/pkg/netstack"
	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/ghjm/lowpan/pkg/services"
	"github.com/ghjm/lowpan/pkg/x/cmrand"
	"github.com/ghjm/lowpan/pkg/x/syncro"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// DefaultBuffers is the default number of frame buffers per node
const DefaultBuffers = 64

// Options describe a node
type Options struct {
	Name      string
	PANID     uint16
	Address   proto.IP
	ShortAddr proto.LinkAddr
	ExtAddr   proto.LinkAddr
	Lowpan    lowpan.Config
	// ReassemblyTimeout bounds how long an incomplete inbound datagram is kept
	ReassemblyTimeout time.Duration
	Buffers           int
	Neighbors         []config.Neighbor
	Capture           *mac.Capture
	Registerer        prometheus.Registerer
}

// Node is one 6LoWPAN host: an IPv6 network stack whose link is a lowpan device on a radio
type Node struct {
	name      string
	stack     netstack.NetStack
	radio     *mac.Radio
	device    *lowpan.Device
	reasm     *lowpan.Reassembler
	medium    mac.Medium
	neighbors syncro.Map[proto.IP, proto.LinkAddr]
}

var ErrNoRoute = fmt.Errorf("no link address for destination")

// New creates a node on medium m and starts it.  The node runs until ctx is cancelled.
func New(ctx context.Context, opts Options, m mac.Medium) (*Node, error) {
	if opts.Buffers <= 0 {
		opts.Buffers = DefaultBuffers
	}
	radio, err := mac.NewRadio(mac.RadioConfig{
		PANID:     opts.PANID,
		ShortAddr: opts.ShortAddr,
		ExtAddr:   opts.ExtAddr,
		Capture:   opts.Capture,
	}, m)
	if err != nil {
		return nil, err
	}
	if opts.Lowpan.MaxFrameSize <= 0 {
		opts.Lowpan.MaxFrameSize = mac.MaxPHYPacketSize
	}
	pool, err := buffers.NewPool(opts.Buffers, opts.Lowpan.MaxFrameSize)
	if err != nil {
		return nil, err
	}
	opts.Lowpan.ShortAddr = opts.ShortAddr
	opts.Lowpan.ExtAddr = opts.ExtAddr
	metrics := lowpan.NewMetrics(opts.Registerer)
	device, err := lowpan.NewDevice(opts.Lowpan, radio, pool, lowpan.WithMetrics(metrics),
		lowpan.WithInitialTag(cmrand.Uint16()))
	if err != nil {
		return nil, err
	}
	src := device.SrcAddr()
	addrs := []proto.IP{proto.LinkLocalIP(src)}
	if opts.Address != "" {
		addrs = append([]proto.IP{opts.Address}, addrs...)
	}
	stack, err := netstack.NewStackChannel(ctx, addrs, netstack.MinimumMTU)
	if err != nil {
		return nil, err
	}
	n := &Node{
		name:   opts.Name,
		stack:  stack,
		radio:  radio,
		device: device,
		reasm: lowpan.NewReassembler(opts.Lowpan.Layout, opts.ReassemblyTimeout,
			lowpan.ReassemblerMetrics(metrics)),
		medium: m,
	}
	for _, nb := range opts.Neighbors {
		n.AddNeighbor(nb.Address, nb.LinkAddr)
	}
	frameCh := m.SubscribeFrames()
	pktCh := stack.SubscribePackets()
	go n.reasm.Run(ctx)
	go n.receiveLoop(ctx, frameCh)
	go n.dispatchLoop(ctx, pktCh)
	log.Infof("node %s up: link address %s, addresses %v", n.name, src, addrs)
	return n, nil
}

// NewFromConfig creates the named node from a configuration, including its medium, capture file and services
func NewFromConfig(ctx context.Context, cfg *config.Config, name string, reg prometheus.Registerer) (*Node, error) {
	nc, ok := cfg.Nodes[name]
	if !ok {
		return nil, fmt.Errorf("node %s not found in config", name)
	}
	lc, err := LowpanConfig(cfg.Global.Lowpan)
	if err != nil {
		return nil, err
	}
	lc.ExtendedAddressing = nc.ExtendedAddressing
	m, err := medium.New(ctx, cfg.Global.Medium.MediumType, cfg.MediumParams(name))
	if err != nil {
		return nil, fmt.Errorf("error creating medium: %w", err)
	}
	var capture *mac.Capture
	if nc.Capture != "" {
		capture, err = openCapture(ctx, nc.Capture)
		if err != nil {
			return nil, err
		}
	}
	n, err := New(ctx, Options{
		Name:              name,
		PANID:             cfg.Global.PANID,
		Address:           nc.Address,
		ShortAddr:         nc.ShortAddr,
		ExtAddr:           nc.ExtAddr,
		Lowpan:            lc,
		ReassemblyTimeout: cfg.Global.Lowpan.ReassemblyTimeout,
		Buffers:           cfg.Global.Lowpan.Buffers,
		Neighbors:         nc.Neighbors,
		Capture:           capture,
		Registerer:        reg,
	}, m)
	if err != nil {
		return nil, err
	}
	for _, svc := range nc.Services {
		_, err = services.RunService(ctx, n.stack, svc)
		if err != nil {
			return nil, fmt.Errorf("error starting service on port %d: %w", svc.Port, err)
		}
	}
	return n, nil
}

// LowpanConfig translates the configuration file's adaptation layer settings
func LowpanConfig(l config.Lowpan) (lowpan.Config, error) {
	lc := lowpan.DefaultConfig()
	if l.MaxFrameSize != 0 {
		lc.MaxFrameSize = l.MaxFrameSize
	}
	if l.Fragmentation != nil {
		lc.Fragmentation = *l.Fragmentation
	}
	if l.Compression != "" {
		lc.Compression = l.Compression
	}
	lc.CompressionThreshold = l.CompressionThreshold
	var err error
	lc.Layout, err = lowpan.ParseLayout(l.Layout)
	if err != nil {
		return lc, err
	}
	lc.SubmitPolicy, err = lowpan.ParseSubmitPolicy(l.SubmitPolicy)
	if err != nil {
		return lc, err
	}
	if l.MaxAttempts != 0 {
		lc.MaxAttempts = l.MaxAttempts
	}
	return lc, nil
}

func openCapture(ctx context.Context, filename string) (*mac.Capture, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("error creating capture file: %w", err)
	}
	c, err := mac.NewCapture(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error writing capture file: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = f.Close()
	}()
	return c, nil
}

// Stack returns the node's network stack
func (n *Node) Stack() netstack.NetStack {
	return n.stack
}

// Device returns the node's lowpan device
func (n *Node) Device() *lowpan.Device {
	return n.device
}

// LinkLocal returns the node's link-local address
func (n *Node) LinkLocal() proto.IP {
	return proto.LinkLocalIP(n.device.SrcAddr())
}

// AddNeighbor adds or replaces a neighbor table entry
func (n *Node) AddNeighbor(ip proto.IP, la proto.LinkAddr) {
	n.neighbors.Set(ip, la)
}

// resolve finds the link-layer next hop of an IPv6 destination
func (n *Node) resolve(dst proto.IP) (proto.LinkAddr, error) {
	if dst.IsMulticast() {
		return proto.BroadcastAddr, nil
	}
	if la, ok := n.neighbors.Get(dst); ok {
		return la, nil
	}
	if dst.IsLinkLocal() {
		if la, ok := proto.LinkAddrFromIID(dst.IID()); ok {
			return la, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoRoute, dst)
}

// dispatchLoop sends the packets the network stack emits
func (n *Node) dispatchLoop(ctx context.Context, pktCh <-chan []byte) {
	defer n.stack.UnsubscribePackets(pktCh)
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-pktCh:
			if !ok {
				return
			}
			err := n.sendPacket(ctx, packet)
			switch {
			case err == nil || ctx.Err() != nil:
			case errors.Is(err, lowpan.ErrUnsupportedTransport) || errors.Is(err, ErrNoRoute):
				log.Debugf("node %s: packet dropped: %s", n.name, err)
			default:
				log.Warnf("node %s: packet dropped: %s", n.name, err)
			}
		}
	}
}

func (n *Node) sendPacket(ctx context.Context, packet []byte) error {
	hdrLen, err := lowpan.HeaderLen(packet)
	if err != nil {
		return err
	}
	dst := proto.IP(packet[24:40])
	la, err := n.resolve(dst)
	if err != nil {
		return err
	}
	n.device.Lock()
	defer n.device.Unlock()
	return n.device.QueueFrames(ctx, lowpan.Request{
		Header:  packet[:hdrLen],
		Payload: packet[hdrLen:],
		Dest:    la,
	})
}

// receiveLoop passes frames from the medium through the radio filter and the reassembler to the stack
func (n *Node) receiveLoop(ctx context.Context, frameCh <-chan []byte) {
	defer n.medium.UnsubscribeFrames(frameCh)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frameCh:
			if !ok {
				return
			}
			h, payload, accepted := n.radio.Accept(frame)
			if !accepted {
				continue
			}
			packet, err := n.reasm.Receive(h.Src, h.Dest, payload)
			if err != nil {
				log.Debugf("node %s: frame from %s discarded: %s", n.name, h.Src, err)
				continue
			}
			if packet == nil {
				continue
			}
			err = n.stack.SendPacket(packet)
			if err != nil && !errors.Is(err, net.ErrClosed) {
				log.Warnf("node %s: error delivering packet: %s", n.name, err)
			}
		}
	}
}
