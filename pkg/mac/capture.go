package mac

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTypeIEEE802154 is the pcap link type for 802.15.4 frames that include the FCS
const LinkTypeIEEE802154 = layers.LinkType(195)

// Capture writes frames to a pcap stream
type Capture struct {
	lock sync.Mutex
	w    *pcapgo.Writer
}

// NewCapture writes a pcap file header to w and returns a Capture writing to it
func NewCapture(w io.Writer) (*Capture, error) {
	pw := pcapgo.NewWriter(w)
	err := pw.WriteFileHeader(MaxPHYPacketSize, LinkTypeIEEE802154)
	if err != nil {
		return nil, err
	}
	return &Capture{w: pw}, nil
}

// WriteFrame records one complete frame
func (c *Capture) WriteFrame(frame []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
}
