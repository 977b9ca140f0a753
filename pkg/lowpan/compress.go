package lowpan

import (
	"fmt"

	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/ghjm/lowpan/pkg/x/syncro"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// Lengths reports the work done by a compressor or decompressor: bytes of frame written or read
// (Compressed) and bytes of uncompressed IPv6 and transport header consumed or produced (Uncompressed).
type Lengths struct {
	Compressed   int
	Uncompressed int
}

// Compressor is a header compression scheme.  Implementations are stateless.
type Compressor interface {
	// Name is the name the scheme is registered under
	Name() string
	// Dispatch is the first byte of every header produced by Compress
	Dispatch() byte
	// Compress writes the compressed form of hdr, an IPv6 header followed by its transport header, to the
	// start of out.  src and dst are the link addresses of the frame.  On error nothing is considered
	// written and the returned Lengths are zero.
	Compress(hdr []byte, src, dst proto.LinkAddr, out []byte) (Lengths, error)
	// Decompress reconstructs the uncompressed headers from the start of in into out.  The IPv6 payload
	// length field is left for the caller to fill in.
	Decompress(in []byte, src, dst proto.LinkAddr, out []byte) (Lengths, error)
}

// MaxHeaderLen is the largest uncompressed header any scheme produces: IPv6 plus a TCP header with options
const MaxHeaderLen = header.IPv6MinimumSize + 60

var (
	ErrUnsupportedTransport = fmt.Errorf("unsupported transport protocol")
	ErrShortHeader          = fmt.Errorf("header too short")
	ErrNoRoom               = fmt.Errorf("not enough room in frame")
	ErrUnknownScheme        = fmt.Errorf("unknown compression scheme")
	ErrUnknownDispatch      = fmt.Errorf("unknown dispatch")
)

// transportHeaderLen returns the length of the transport header following the IPv6 header in hdr
func transportHeaderLen(hdr []byte) (int, error) {
	if len(hdr) < header.IPv6MinimumSize {
		return 0, ErrShortHeader
	}
	ip := header.IPv6(hdr)
	var n int
	switch ip.TransportProtocol() {
	case header.TCPProtocolNumber:
		if len(hdr) < header.IPv6MinimumSize+header.TCPMinimumSize {
			return 0, ErrShortHeader
		}
		n = int(header.TCP(hdr[header.IPv6MinimumSize:]).DataOffset())
		if n < header.TCPMinimumSize {
			return 0, fmt.Errorf("%w: TCP data offset %d", ErrShortHeader, n)
		}
	case header.UDPProtocolNumber:
		n = header.UDPMinimumSize
	case header.ICMPv6ProtocolNumber:
		n = header.ICMPv6HeaderSize
	default:
		return 0, fmt.Errorf("%w: next header %d", ErrUnsupportedTransport, ip.NextHeader())
	}
	if len(hdr) < header.IPv6MinimumSize+n {
		return 0, ErrShortHeader
	}
	return n, nil
}

// HeaderLen returns the length of the IPv6 and transport headers at the start of an IPv6 packet
func HeaderLen(packet []byte) (int, error) {
	n, err := transportHeaderLen(packet)
	if err != nil {
		return 0, err
	}
	return header.IPv6MinimumSize + n, nil
}

// noCompression is the fallback scheme: a dispatch byte followed by the headers verbatim
type noCompression struct{}

// NoCompression returns the uncompressed IPv6 scheme
func NoCompression() Compressor {
	return noCompression{}
}

func (noCompression) Name() string {
	return "none"
}

func (noCompression) Dispatch() byte {
	return DispatchIPv6
}

func (noCompression) Compress(hdr []byte, _, _ proto.LinkAddr, out []byte) (Lengths, error) {
	n, err := transportHeaderLen(hdr)
	if err != nil {
		return Lengths{}, err
	}
	n += header.IPv6MinimumSize
	if len(out) < 1+n {
		return Lengths{}, ErrNoRoom
	}
	out[0] = DispatchIPv6
	copy(out[1:], hdr[:n])
	return Lengths{Compressed: 1 + n, Uncompressed: n}, nil
}

func (noCompression) Decompress(in []byte, _, _ proto.LinkAddr, out []byte) (Lengths, error) {
	if len(in) < 1 || in[0] != DispatchIPv6 {
		return Lengths{}, ErrUnknownDispatch
	}
	hdr := in[1:]
	n, err := transportHeaderLen(hdr)
	if err != nil {
		if len(hdr) < header.IPv6MinimumSize {
			return Lengths{}, err
		}
		// an unknown next header is carried as part of the payload
		n = 0
	}
	n += header.IPv6MinimumSize
	if len(out) < n {
		return Lengths{}, ErrNoRoom
	}
	copy(out, hdr[:n])
	return Lengths{Compressed: 1 + n, Uncompressed: n}, nil
}

var schemes = syncro.NewMap(map[string]Compressor{
	"none": noCompression{},
	"hc1":  hc1{},
})

// RegisterScheme adds a compression scheme to the registry
func RegisterScheme(c Compressor) error {
	return schemes.Create(c.Name(), c)
}

// LookupScheme returns the registered scheme with the given name
func LookupScheme(name string) (Compressor, error) {
	if name == "" {
		name = "none"
	}
	c, ok := schemes.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, name)
	}
	return c, nil
}

// schemeForDispatch finds the scheme that produces headers starting with dispatch d
func schemeForDispatch(d byte) (Compressor, bool) {
	var found Compressor
	schemes.WorkWithReadOnly(func(m map[string]Compressor) {
		for _, c := range m {
			if c.Dispatch() == d {
				found = c
				return
			}
		}
	})
	return found, found != nil
}

// decompress decodes the compressed header at the start of in using whichever scheme its dispatch names
func decompress(in []byte, src, dst proto.LinkAddr, out []byte) (Lengths, error) {
	if len(in) == 0 {
		return Lengths{}, ErrShortHeader
	}
	c, ok := schemeForDispatch(in[0])
	if !ok {
		return Lengths{}, fmt.Errorf("%w: %#02x", ErrUnknownDispatch, in[0])
	}
	return c.Decompress(in, src, dst, out)
}
