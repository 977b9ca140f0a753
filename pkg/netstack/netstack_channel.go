package netstack

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/ghjm/lowpan/pkg/x/broker"
	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
)

const nicID = 1

// netStackChannel implements NetStack, using gVisor with a channel endpoint
type netStackChannel struct {
	addrs        []proto.IP
	stack        *stack.Stack
	endpoint     *channel.Endpoint
	endpointLock sync.RWMutex
	packetBroker broker.Broker[[]byte]
}

func (ns *netStackChannel) MTU() uint16 {
	return uint16(ns.endpoint.MTU())
}

func (ns *netStackChannel) Addrs() []proto.IP {
	return ns.addrs
}

// NewStackChannel creates a new IPv6-only network stack.  Each address is assigned with a /64 prefix which
// is routed to the link, and the link is also the default route.  The first address is used as the source
// of outgoing UDP sockets.
func NewStackChannel(ctx context.Context, addrs []proto.IP, mtu uint16) (NetStack, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses")
	}
	for _, a := range addrs {
		if len(a) != net.IPv6len {
			return nil, fmt.Errorf("address %s must be ipv6", a)
		}
	}
	if mtu < MinimumMTU {
		return nil, fmt.Errorf("MTU %d is less than the IPv6 minimum of %d", mtu, MinimumMTU)
	}
	ns := &netStackChannel{
		addrs:        addrs,
		packetBroker: broker.New[[]byte](ctx),
	}
	ns.stack = stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv6.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol, icmp.NewProtocol6},
		HandleLocal:        true,
	})
	ns.endpoint = channel.New(64, uint32(mtu), "")
	if err := ns.stack.CreateNICWithOptions(nicID, ns.endpoint, stack.NICOptions{
		Name:     "lowpan0",
		Disabled: false,
	}); err != nil {
		return nil, fmt.Errorf("error creating NIC: %s", err)
	}
	for _, a := range addrs {
		awp := tcpip.AddressWithPrefix{
			Address:   tcpip.AddrFromSlice([]byte(a)),
			PrefixLen: 64,
		}
		if err := ns.stack.AddProtocolAddress(nicID,
			tcpip.ProtocolAddress{
				Protocol:          ipv6.ProtocolNumber,
				AddressWithPrefix: awp,
			},
			stack.AddressProperties{},
		); err != nil {
			return nil, fmt.Errorf("error adding address %s: %s", a, err)
		}
		ns.stack.AddRoute(tcpip.Route{
			Destination: awp.Subnet(),
			NIC:         nicID,
		})
	}
	defaultNet := tcpip.AddressWithPrefix{
		Address:   tcpip.AddrFromSlice(make([]byte, net.IPv6len)),
		PrefixLen: 0,
	}
	ns.stack.AddRoute(tcpip.Route{
		Destination: defaultNet.Subnet(),
		NIC:         nicID,
	})

	// Clean up after termination
	go func() {
		<-ctx.Done()
		ns.endpointLock.Lock()
		defer ns.endpointLock.Unlock()
		ns.stack.Close()
		ns.endpoint.Wait()
	}()

	// Send outgoing packets to subscribed receivers
	go ns.packetPublisher(ctx)

	return ns, nil
}

// packetPublisher publishes outgoing packets from the stack to the packetBroker
func (ns *netStackChannel) packetPublisher(ctx context.Context) {
	for {
		op := ns.endpoint.ReadContext(ctx)
		if ctx.Err() != nil {
			// Shut down gVisor goroutines on exit
			ns.endpoint.Close()
			ns.stack.Close()
			return
		}
		if op == nil {
			continue
		}
		buf := op.ToBuffer()
		packet := (&buf).Flatten()
		op.DecRef()
		ns.packetBroker.Publish(packet)
	}
}

func (ns *netStackChannel) SendPacket(packet []byte) error {
	pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithView(buffer.NewViewWithData(packet)),
	})
	defer pkt.DecRef()
	ns.endpointLock.RLock()
	defer ns.endpointLock.RUnlock()
	ns.endpoint.InjectInbound(ipv6.ProtocolNumber, pkt)
	return nil
}

func (ns *netStackChannel) SubscribePackets() <-chan []byte {
	return ns.packetBroker.Subscribe()
}

func (ns *netStackChannel) UnsubscribePackets(pktCh <-chan []byte) {
	ns.packetBroker.Unsubscribe(pktCh)
}

func fullAddr(addr net.IP, port uint16) tcpip.FullAddress {
	return tcpip.FullAddress{
		NIC:  nicID,
		Addr: tcpip.AddrFromSlice(addr.To16()),
		Port: port,
	}
}

func (ns *netStackChannel) DialTCP(addr net.IP, port uint16) (net.Conn, error) {
	return gonet.DialTCP(ns.stack, fullAddr(addr, port), ipv6.ProtocolNumber)
}

func (ns *netStackChannel) DialContextTCP(ctx context.Context, addr net.IP, port uint16) (net.Conn, error) {
	return gonet.DialContextTCP(ctx, ns.stack, fullAddr(addr, port), ipv6.ProtocolNumber)
}

func (ns *netStackChannel) ListenTCP(port uint16) (net.Listener, error) {
	return gonet.ListenTCP(ns.stack, tcpip.FullAddress{NIC: nicID, Port: port}, ipv6.ProtocolNumber)
}

func (ns *netStackChannel) DialUDP(lport uint16, raddr net.IP, rport uint16) (UDPConn, error) {
	var lfaddr *tcpip.FullAddress
	if lport != 0 {
		la := fullAddr(net.IP(ns.addrs[0]), lport)
		lfaddr = &la
	}
	var rfaddr *tcpip.FullAddress
	if raddr != nil {
		ra := fullAddr(raddr, rport)
		rfaddr = &ra
	}
	return gonet.DialUDP(ns.stack, lfaddr, rfaddr, ipv6.ProtocolNumber)
}
