package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/lowpan"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/medium"
	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/spf13/cobra"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// fragOptions describe one run of the frag command
type fragOptions struct {
	PayloadSize int
	Config      lowpan.Config
	PANID       uint16
	Dest        proto.LinkAddr
	Capture     io.Writer
}

// frameRow describes one frame produced by the frag command
type frameRow struct {
	Index      int
	FrameLen   int
	Type       lowpan.FragType
	Size       uint16
	Tag        uint16
	ByteOffset int
	PayloadLen int
}

// udpPacket builds an IPv6/UDP packet between the link-local addresses of src and dst.  A broadcast dst is
// sent to the all-nodes multicast group.
func udpPacket(src, dst proto.LinkAddr, payloadSize int) []byte {
	packet := make([]byte, header.IPv6MinimumSize+header.UDPMinimumSize+payloadSize)
	srcIP := tcpip.AddrFromSlice([]byte(proto.LinkLocalIP(src)))
	dstIP := header.IPv6AllNodesMulticastAddress
	if !dst.IsBroadcast() {
		dstIP = tcpip.AddrFromSlice([]byte(proto.LinkLocalIP(dst)))
	}
	header.IPv6(packet).Encode(&header.IPv6Fields{
		PayloadLength:     uint16(header.UDPMinimumSize + payloadSize),
		TransportProtocol: header.UDPProtocolNumber,
		HopLimit:          64,
		SrcAddr:           srcIP,
		DstAddr:           dstIP,
	})
	u := header.UDP(packet[header.IPv6MinimumSize:])
	u.Encode(&header.UDPFields{
		SrcPort: 61616,
		DstPort: 61617,
		Length:  uint16(header.UDPMinimumSize + payloadSize),
	})
	for i := range u.Payload() {
		u.Payload()[i] = byte(i)
	}
	return packet
}

// fragTable sends one synthetic packet through a device on a recording medium and describes the frames
func fragTable(ctx context.Context, opts fragOptions) ([]frameRow, error) {
	rec := &medium.Recorder{}
	var capture *mac.Capture
	if opts.Capture != nil {
		var err error
		capture, err = mac.NewCapture(opts.Capture)
		if err != nil {
			return nil, err
		}
	}
	radio, err := mac.NewRadio(mac.RadioConfig{
		PANID:     opts.PANID,
		ShortAddr: opts.Config.ShortAddr,
		ExtAddr:   opts.Config.ExtAddr,
		Capture:   capture,
	}, rec)
	if err != nil {
		return nil, err
	}
	pool, err := buffers.NewPool(lowpan.MaxDatagramSize/8+1, opts.Config.MaxFrameSize)
	if err != nil {
		return nil, err
	}
	dev, err := lowpan.NewDevice(opts.Config, radio, pool)
	if err != nil {
		return nil, err
	}
	packet := udpPacket(dev.SrcAddr(), opts.Dest, opts.PayloadSize)
	hdrLen := header.IPv6MinimumSize + header.UDPMinimumSize
	err = dev.Send(ctx, lowpan.Request{
		Header:  packet[:hdrLen],
		Payload: packet[hdrLen:],
		Dest:    opts.Dest,
	})
	if err != nil {
		return nil, err
	}
	var rows []frameRow
	for i, frame := range rec.Take() {
		_, payload, err := mac.DecodeFrame(frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		fh, err := lowpan.ParseFragHeader(payload)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		rows = append(rows, frameRow{
			Index:      i,
			FrameLen:   len(frame),
			Type:       fh.Type,
			Size:       fh.Size,
			Tag:        fh.Tag,
			ByteOffset: fh.ByteOffset(),
			PayloadLen: len(payload) - fh.Len(),
		})
	}
	return rows, nil
}

func printTable(w io.Writer, rows []frameRow) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "FRAME\tLEN\tTYPE\tSIZE\tTAG\tOFFSET\tPAYLOAD\n")
	for _, r := range rows {
		if r.Type == lowpan.FragNone {
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t-\t-\t-\t%d\n", r.Index, r.FrameLen, r.Type, r.PayloadLen)
			continue
		}
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%d\t%d\n", r.Index, r.FrameLen, r.Type, r.Size, r.Tag,
			r.ByteOffset, r.PayloadLen)
	}
	return tw.Flush()
}

var fragPayloadSize int
var fragFrameSize int
var fragCompression string
var fragLayout string
var fragExtended bool
var fragDest string
var fragPcap string
var fragCmd = &cobra.Command{
	Use:   "frag",
	Short: "Show how a UDP packet of a given size is split into frames",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		err := setupLogging()
		if err != nil {
			errExit(err)
		}
		cfg := lowpan.DefaultConfig()
		cfg.MaxFrameSize = fragFrameSize
		cfg.Compression = fragCompression
		cfg.Layout, err = lowpan.ParseLayout(fragLayout)
		if err != nil {
			errExit(err)
		}
		cfg.ShortAddr = proto.ShortAddr(1)
		if fragExtended {
			cfg.ExtendedAddressing = true
			cfg.ExtAddr = proto.ExtendedAddr(0x0200000000000001)
		}
		opts := fragOptions{
			PayloadSize: fragPayloadSize,
			Config:      cfg,
			PANID:       0xabcd,
		}
		if fragDest != "" {
			opts.Dest, err = proto.ParseLinkAddr(fragDest)
			if err != nil {
				errExit(err)
			}
		}
		if fragPcap != "" {
			f, err := os.Create(fragPcap)
			if err != nil {
				errExit(err)
			}
			defer func() {
				_ = f.Close()
			}()
			opts.Capture = f
		}
		rows, err := fragTable(context.Background(), opts)
		if err != nil {
			errExit(err)
		}
		err = printTable(os.Stdout, rows)
		if err != nil {
			errExit(err)
		}
	},
}

func addFragFlags() {
	fragCmd.Flags().IntVar(&fragPayloadSize, "size", 300, "UDP payload size in bytes")
	fragCmd.Flags().IntVar(&fragFrameSize, "frame-size", mac.MaxPHYPacketSize, "Maximum frame size")
	fragCmd.Flags().StringVar(&fragCompression, "compression", "none", "Header compression scheme (none/hc1)")
	fragCmd.Flags().StringVar(&fragLayout, "layout", "", "Fragment layout (replicated/compact)")
	fragCmd.Flags().BoolVar(&fragExtended, "extended", false, "Send from an extended address")
	fragCmd.Flags().StringVar(&fragDest, "dest", "0x0002", "Destination link address (empty for broadcast)")
	fragCmd.Flags().StringVar(&fragPcap, "pcap", "", "Write the frames to this pcap file")
}
