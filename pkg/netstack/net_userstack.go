package netstack

import (
	"context"
	"net"
	"strconv"
)

// NetUserStack provides a UserStack that is a thin wrapper around the Go net library.  Used for testing
// services without a radio underneath them.
type NetUserStack struct{}

func hostPort(addr net.IP, port uint16) string {
	host := ""
	if addr != nil {
		host = addr.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

func (nus *NetUserStack) DialTCP(addr net.IP, port uint16) (net.Conn, error) {
	return net.Dial("tcp", hostPort(addr, port))
}

func (nus *NetUserStack) DialContextTCP(ctx context.Context, addr net.IP, port uint16) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", hostPort(addr, port))
}

func (nus *NetUserStack) ListenTCP(port uint16) (net.Listener, error) {
	return net.Listen("tcp", hostPort(nil, port))
}

func (nus *NetUserStack) DialUDP(lport uint16, addr net.IP, rport uint16) (UDPConn, error) {
	var laddr *net.UDPAddr
	if lport != 0 {
		laddr = &net.UDPAddr{
			Port: int(lport),
		}
	}
	var raddr *net.UDPAddr
	if addr != nil {
		raddr = &net.UDPAddr{
			IP:   addr,
			Port: int(rport),
		}
		return net.DialUDP("udp", laddr, raddr)
	}
	return net.ListenUDP("udp", laddr)
}
