package lowpan

import (
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/proto"
	log "github.com/sirupsen/logrus"
)

// PacketMeta is the per-packet addressing derived from a Request
type PacketMeta struct {
	Src         proto.LinkAddr
	Dest        proto.LinkAddr
	DestPANID   uint16
	MaxAttempts uint8
	ExtendedSrc bool
}

// packetMeta derives the addressing of one packet.  A broadcast destination becomes the all-zero address of
// the length matching the device's addressing mode.
func (d *Device) packetMeta(dest proto.LinkAddr) PacketMeta {
	pm := PacketMeta{
		Src:         d.SrcAddr(),
		Dest:        dest,
		MaxAttempts: d.cfg.MaxAttempts,
		ExtendedSrc: d.cfg.ExtendedAddressing,
	}
	if dest.IsBroadcast() {
		if d.cfg.ExtendedAddressing {
			pm.Dest = proto.ExtendedAddr(0)
		} else {
			pm.Dest = proto.ShortAddr(0)
		}
	}
	return pm
}

// buildFrameMeta translates packet addressing into the MAC submission contract.  It consumes one message
// handle.  Failure to learn the PAN ID is not fatal: the broadcast PAN ID is used instead.
func (d *Device) buildFrameMeta(pm *PacketMeta) mac.FrameMeta {
	meta := mac.FrameMeta{
		SrcMode:     mac.AddrModeShort,
		MaxAttempts: pm.MaxAttempts,
	}
	if pm.ExtendedSrc {
		meta.SrcMode = mac.AddrModeExtended
	}
	if pm.Dest.IsBroadcast() {
		meta.DestMode = mac.AddrModeShort
		meta.DestAddr = proto.ShortAddr(0)
		meta.Broadcast = true
		meta.AckRequest = false
	} else {
		meta.DestMode = mac.ModeOf(pm.Dest)
		meta.DestAddr = pm.Dest
		meta.AckRequest = true
	}
	panID, err := d.driver.PANID()
	if err != nil {
		log.Warnf("unable to get PAN ID, using %#04x: %s", mac.BroadcastPANID, err)
		panID = mac.BroadcastPANID
	}
	pm.DestPANID = panID
	meta.DestPANID = panID
	meta.Handle = d.handle
	d.handle++
	return meta
}
