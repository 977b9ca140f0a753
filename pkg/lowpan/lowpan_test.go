package lowpan

import (
	"testing"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/proto"
	"golang.org/x/exp/slices"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

type sentFrame struct {
	meta      mac.FrameMeta
	data      []byte
	packetLen int
}

// fakeDriver is a MAC driver which records submitted frames
type fakeDriver struct {
	headerLen int
	headerErr error
	panID     uint16
	panErr    error
	failAt    map[int]error
	attempts  int
	frames    []sentFrame
}

func newFakeDriver(headerLen int) *fakeDriver {
	return &fakeDriver{
		headerLen: headerLen,
		panID:     0xabcd,
	}
}

func (f *fakeDriver) HeaderLength(_ *mac.FrameMeta) (int, error) {
	return f.headerLen, f.headerErr
}

func (f *fakeDriver) SubmitFrame(meta *mac.FrameMeta, buf *buffers.Buffer) error {
	defer buf.Release()
	idx := f.attempts
	f.attempts++
	if err := f.failAt[idx]; err != nil {
		return err
	}
	f.frames = append(f.frames, sentFrame{
		meta:      *meta,
		data:      slices.Clone(buf.Bytes()),
		packetLen: buf.PacketLen,
	})
	return nil
}

func (f *fakeDriver) PANID() (uint16, error) {
	return f.panID, f.panErr
}

var (
	testSrcLink = proto.ShortAddr(0x0001)
	testDstLink = proto.ShortAddr(0x0002)
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ShortAddr = testSrcLink
	return cfg
}

func newTestDevice(t *testing.T, cfg Config, drv mac.Driver, mods ...func(*Device)) (*Device, *buffers.Pool) {
	pool, err := buffers.NewPool(16, mac.MaxPHYPacketSize)
	if err != nil {
		t.Fatalf("NewPool error: %s", err)
	}
	d, err := NewDevice(cfg, drv, pool, mods...)
	if err != nil {
		t.Fatalf("NewDevice error: %s", err)
	}
	return d, pool
}

func fillPayload(b []byte) {
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
}

// makeUDPPacket builds an IPv6/UDP packet with payloadLen bytes of payload
func makeUDPPacket(src, dst proto.IP, payloadLen int) []byte {
	pkt := make([]byte, header.IPv6MinimumSize+header.UDPMinimumSize+payloadLen)
	header.IPv6(pkt).Encode(&header.IPv6Fields{
		PayloadLength:     uint16(header.UDPMinimumSize + payloadLen),
		TransportProtocol: header.UDPProtocolNumber,
		HopLimit:          64,
		SrcAddr:           tcpip.AddrFromSlice([]byte(src)),
		DstAddr:           tcpip.AddrFromSlice([]byte(dst)),
	})
	header.UDP(pkt[header.IPv6MinimumSize:]).Encode(&header.UDPFields{
		SrcPort: 5683,
		DstPort: 7,
		Length:  uint16(header.UDPMinimumSize + payloadLen),
	})
	fillPayload(pkt[header.IPv6MinimumSize+header.UDPMinimumSize:])
	return pkt
}

// makeTCPPacket builds an IPv6/TCP packet with optLen bytes of TCP options and payloadLen bytes of payload
func makeTCPPacket(src, dst proto.IP, optLen int, payloadLen int) []byte {
	tcpLen := header.TCPMinimumSize + optLen
	pkt := make([]byte, header.IPv6MinimumSize+tcpLen+payloadLen)
	header.IPv6(pkt).Encode(&header.IPv6Fields{
		TrafficClass:      0x20,
		FlowLabel:         0x12345,
		PayloadLength:     uint16(tcpLen + payloadLen),
		TransportProtocol: header.TCPProtocolNumber,
		HopLimit:          255,
		SrcAddr:           tcpip.AddrFromSlice([]byte(src)),
		DstAddr:           tcpip.AddrFromSlice([]byte(dst)),
	})
	header.TCP(pkt[header.IPv6MinimumSize:]).Encode(&header.TCPFields{
		SrcPort:    40000,
		DstPort:    7,
		SeqNum:     1000,
		AckNum:     2000,
		DataOffset: uint8(tcpLen),
		Flags:      header.TCPFlagAck | header.TCPFlagPsh,
		WindowSize: 4096,
	})
	for i := 0; i < optLen; i++ {
		pkt[header.IPv6MinimumSize+header.TCPMinimumSize+i] = 1 // NOP
	}
	fillPayload(pkt[header.IPv6MinimumSize+tcpLen:])
	return pkt
}

// makeICMPPacket builds an IPv6 echo request carrying payloadLen bytes after the identifier and sequence
func makeICMPPacket(src, dst proto.IP, payloadLen int) []byte {
	pkt := make([]byte, header.IPv6MinimumSize+header.ICMPv6MinimumSize+payloadLen)
	header.IPv6(pkt).Encode(&header.IPv6Fields{
		PayloadLength:     uint16(header.ICMPv6MinimumSize + payloadLen),
		TransportProtocol: header.ICMPv6ProtocolNumber,
		HopLimit:          64,
		SrcAddr:           tcpip.AddrFromSlice([]byte(src)),
		DstAddr:           tcpip.AddrFromSlice([]byte(dst)),
	})
	icmp := header.ICMPv6(pkt[header.IPv6MinimumSize:])
	icmp.SetType(header.ICMPv6EchoRequest)
	icmp.SetIdent(77)
	icmp.SetSequence(1)
	fillPayload(pkt[header.IPv6MinimumSize+header.ICMPv6MinimumSize:])
	return pkt
}

// splitPacket turns a packet into a request, splitting it after the IPv6 and transport headers
func splitPacket(t *testing.T, pkt []byte, dest proto.LinkAddr) Request {
	n, err := HeaderLen(pkt)
	if err != nil {
		t.Fatalf("HeaderLen error: %s", err)
	}
	return Request{
		Header:  pkt[:n],
		Payload: pkt[n:],
		Dest:    dest,
	}
}
