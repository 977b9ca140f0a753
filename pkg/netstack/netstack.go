package netstack

import (
	"context"
	"net"

	"github.com/ghjm/lowpan/pkg/proto"
)

// MinimumMTU is the smallest link MTU IPv6 permits, and the MTU a 6LoWPAN interface presents upward
const MinimumMTU = 1280

// UDPConn is functionally equivalent to net.UDPConn
type UDPConn interface {
	net.Conn
	net.PacketConn
}

// UserStack provides the methods that allow user apps to communicate over a network stack
type UserStack interface {
	// DialTCP dials a TCP connection over the network stack.
	DialTCP(addr net.IP, port uint16) (net.Conn, error)
	// DialContextTCP dials a TCP connection over the network stack, using a context.
	DialContextTCP(ctx context.Context, addr net.IP, port uint16) (net.Conn, error)
	// ListenTCP opens a TCP listener on all addresses of the network stack.
	ListenTCP(port uint16) (net.Listener, error)
	// DialUDP opens a UDP sender or receiver over the network stack.  If addr is nil,
	// rport will be ignored and this socket will only listen on lport.
	DialUDP(lport uint16, addr net.IP, rport uint16) (UDPConn, error)
}

// Link is the packet interface between a network stack and whatever carries its packets
type Link interface {
	// SendPacket injects a single packet into the network stack.  The data must be a valid IPv6 packet.
	SendPacket(packet []byte) error
	// SubscribePackets returns a channel which will receive packets outgoing from the network stack.
	SubscribePackets() <-chan []byte
	// UnsubscribePackets unsubscribes a channel previously subscribed with SubscribePackets.
	UnsubscribePackets(pktCh <-chan []byte)
}

// NetStack represents an IPv6 network stack
type NetStack interface {
	Link
	UserStack
	// MTU returns the MTU of the stack's link
	MTU() uint16
	// Addrs returns the addresses assigned to the stack
	Addrs() []proto.IP
}

// NewStackFunc is the type of a function that creates a new stack
type NewStackFunc func(ctx context.Context, addrs []proto.IP, mtu uint16) (NetStack, error)
