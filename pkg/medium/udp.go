package medium

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/x/broker"
	log "github.com/sirupsen/logrus"
)

// UDP emulates a radio channel between processes.  Each transmitted frame is sent as one datagram to every
// peer, and every datagram received on the listening socket is delivered to subscribers as a frame.  Frames
// are not looped back to the transmitter.
type UDP struct {
	conn        *net.UDPConn
	peers       []*net.UDPAddr
	frameBroker broker.Broker[[]byte]
}

// maxDatagram leaves room for frames from PHYs with larger packets than 802.15.4 allows
const maxDatagram = 2048

// NewUDP creates a UDP medium listening on listen and transmitting to peers
func NewUDP(ctx context.Context, listen *net.UDPAddr, peers []*net.UDPAddr) (*UDP, error) {
	conn, err := net.ListenUDP("udp", listen)
	if err != nil {
		return nil, err
	}
	u := &UDP{
		conn:        conn,
		peers:       peers,
		frameBroker: broker.New[[]byte](ctx, broker.WithSubscriberBuffer(subscriberBuffer)),
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go u.readLoop(ctx)
	return u, nil
}

// NewUDPFromConfig creates a UDP medium from the "listen" and "peers" parameters
func NewUDPFromConfig(ctx context.Context, params config.Params) (mac.Medium, error) {
	ip, port, err := params.GetHostPort("listen")
	if err != nil {
		return nil, fmt.Errorf("error parsing listen: %w", err)
	}
	peers, err := params.GetHostPortList("peers")
	if err != nil {
		return nil, fmt.Errorf("error parsing peers: %w", err)
	}
	return NewUDP(ctx, &net.UDPAddr{IP: ip, Port: int(port)}, peers)
}

// LocalAddr returns the address the medium is listening on
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

func (u *UDP) readLoop(ctx context.Context) {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warnf("UDP medium read error: %s", err)
			continue
		}
		if n > mac.MaxPHYPacketSize {
			log.Debugf("discarding %d byte datagram from %s", n, from)
			continue
		}
		u.frameBroker.Publish(append([]byte(nil), buf[:n]...))
	}
}

func (u *UDP) Transmit(frame []byte) error {
	var errs []error
	for _, peer := range u.peers {
		_, err := u.conn.WriteToUDP(frame, peer)
		if err != nil {
			errs = append(errs, fmt.Errorf("sending to %s: %w", peer, err))
		}
	}
	return errors.Join(errs...)
}

func (u *UDP) SubscribeFrames() <-chan []byte {
	return u.frameBroker.Subscribe()
}

func (u *UDP) UnsubscribeFrames(ch <-chan []byte) {
	u.frameBroker.Unsubscribe(ch)
}
