package lowpan

import (
	"bytes"
	"fmt"

	"github.com/ghjm/lowpan/pkg/proto"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// HC1 encoding byte, most significant bit first
const (
	hc1SrcPrefix byte = 0x80
	hc1SrcIID    byte = 0x40
	hc1DstPrefix byte = 0x20
	hc1DstIID    byte = 0x10
	hc1TCFL      byte = 0x08
	hc1NHMask    byte = 0x06
	hc1NHInline  byte = 0x00
	hc1NHUDP     byte = 0x02
	hc1NHICMP    byte = 0x04
	hc1NHTCP     byte = 0x06
	hc1HC2       byte = 0x01

	hc1BaseLen = 3
)

var linkLocalPrefix = []byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0}

var ErrNoIID = fmt.Errorf("interface identifier cannot be derived from link address")

// hc1 is the stateless HC1 scheme.  Link-local prefixes, interface identifiers derivable from the link
// addresses, a zero traffic class and flow label, and the next header are elided.  The payload length is
// always elided.  The transport header is carried verbatim.
type hc1 struct{}

// HC1 returns the HC1 compression scheme
func HC1() Compressor {
	return hc1{}
}

func (hc1) Name() string {
	return "hc1"
}

func (hc1) Dispatch() byte {
	return DispatchHC1
}

func iidMatches(addr []byte, la proto.LinkAddr) bool {
	iid, ok := la.IID()
	return ok && bytes.Equal(iid[:], addr[8:])
}

func (hc1) Compress(hdr []byte, src, dst proto.LinkAddr, out []byte) (Lengths, error) {
	thl, err := transportHeaderLen(hdr)
	if err != nil {
		return Lengths{}, err
	}
	ip := header.IPv6(hdr)
	srcAddr := hdr[8:24]
	dstAddr := hdr[24:40]
	var enc byte
	// inline fields follow the hop limit in IPv6 header order
	inline := make([]byte, 0, 37)
	tc, fl := ip.TOS()
	if tc == 0 && fl == 0 {
		enc |= hc1TCFL
	} else {
		inline = append(inline, tc, byte(fl>>16)&0x0f, byte(fl>>8), byte(fl))
	}
	if proto.IP(srcAddr).IsLinkLocal() {
		enc |= hc1SrcPrefix
	} else {
		inline = append(inline, srcAddr[:8]...)
	}
	if iidMatches(srcAddr, src) {
		enc |= hc1SrcIID
	} else {
		inline = append(inline, srcAddr[8:]...)
	}
	if proto.IP(dstAddr).IsLinkLocal() {
		enc |= hc1DstPrefix
	} else {
		inline = append(inline, dstAddr[:8]...)
	}
	if iidMatches(dstAddr, dst) {
		enc |= hc1DstIID
	} else {
		inline = append(inline, dstAddr[8:]...)
	}
	switch ip.TransportProtocol() {
	case header.UDPProtocolNumber:
		enc |= hc1NHUDP
	case header.ICMPv6ProtocolNumber:
		enc |= hc1NHICMP
	case header.TCPProtocolNumber:
		enc |= hc1NHTCP
	}

	n := hc1BaseLen + len(inline) + thl
	if len(out) < n {
		return Lengths{}, ErrNoRoom
	}
	out[0] = DispatchHC1
	out[1] = enc
	out[2] = ip.HopLimit()
	i := hc1BaseLen
	i += copy(out[i:], inline)
	copy(out[i:], hdr[header.IPv6MinimumSize:header.IPv6MinimumSize+thl])
	return Lengths{Compressed: n, Uncompressed: header.IPv6MinimumSize + thl}, nil
}

func (hc1) Decompress(in []byte, src, dst proto.LinkAddr, out []byte) (Lengths, error) {
	if len(in) < hc1BaseLen {
		return Lengths{}, ErrShortHeader
	}
	if in[0] != DispatchHC1 {
		return Lengths{}, ErrUnknownDispatch
	}
	enc := in[1]
	if enc&hc1HC2 != 0 {
		return Lengths{}, fmt.Errorf("%w: HC2 encoding", ErrUnknownDispatch)
	}
	i := hc1BaseLen
	read := func(n int) ([]byte, error) {
		if len(in) < i+n {
			return nil, ErrShortHeader
		}
		b := in[i : i+n]
		i += n
		return b, nil
	}
	addr := func(prefixElided, iidElided bool, la proto.LinkAddr) ([]byte, error) {
		a := make([]byte, 16)
		if prefixElided {
			copy(a, linkLocalPrefix)
		} else {
			b, err := read(8)
			if err != nil {
				return nil, err
			}
			copy(a, b)
		}
		if iidElided {
			iid, ok := la.IID()
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoIID, la)
			}
			copy(a[8:], iid[:])
		} else {
			b, err := read(8)
			if err != nil {
				return nil, err
			}
			copy(a[8:], b)
		}
		return a, nil
	}
	var tc uint8
	var fl uint32
	if enc&hc1TCFL == 0 {
		b, err := read(4)
		if err != nil {
			return Lengths{}, err
		}
		tc = b[0]
		fl = uint32(b[1]&0x0f)<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	var nh tcpip.TransportProtocolNumber
	switch enc & hc1NHMask {
	case hc1NHUDP:
		nh = header.UDPProtocolNumber
	case hc1NHICMP:
		nh = header.ICMPv6ProtocolNumber
	case hc1NHTCP:
		nh = header.TCPProtocolNumber
	case hc1NHInline:
		b, err := read(1)
		if err != nil {
			return Lengths{}, err
		}
		nh = tcpip.TransportProtocolNumber(b[0])
	}

	srcAddr, err := addr(enc&hc1SrcPrefix != 0, enc&hc1SrcIID != 0, src)
	if err != nil {
		return Lengths{}, err
	}
	dstAddr, err := addr(enc&hc1DstPrefix != 0, enc&hc1DstIID != 0, dst)
	if err != nil {
		return Lengths{}, err
	}

	rest := in[i:]
	var thl int
	switch nh {
	case header.TCPProtocolNumber:
		if len(rest) < header.TCPMinimumSize {
			return Lengths{}, ErrShortHeader
		}
		thl = int(header.TCP(rest).DataOffset())
		if thl < header.TCPMinimumSize {
			return Lengths{}, fmt.Errorf("%w: TCP data offset %d", ErrShortHeader, thl)
		}
	case header.UDPProtocolNumber:
		thl = header.UDPMinimumSize
	case header.ICMPv6ProtocolNumber:
		thl = header.ICMPv6HeaderSize
	}
	if len(rest) < thl {
		return Lengths{}, ErrShortHeader
	}
	if len(out) < header.IPv6MinimumSize+thl {
		return Lengths{}, ErrNoRoom
	}
	header.IPv6(out).Encode(&header.IPv6Fields{
		TrafficClass:      tc,
		FlowLabel:         fl,
		TransportProtocol: nh,
		HopLimit:          in[2],
		SrcAddr:           tcpip.AddrFromSlice(srcAddr),
		DstAddr:           tcpip.AddrFromSlice(dstAddr),
	})
	copy(out[header.IPv6MinimumSize:], rest[:thl])
	return Lengths{Compressed: i + thl, Uncompressed: header.IPv6MinimumSize + thl}, nil
}
