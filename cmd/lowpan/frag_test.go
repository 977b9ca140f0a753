package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ghjm/lowpan/pkg/lowpan"
	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket/pcapgo"
)

func testFragOptions(payloadSize int) fragOptions {
	cfg := lowpan.DefaultConfig()
	cfg.ShortAddr = proto.ShortAddr(1)
	return fragOptions{
		PayloadSize: payloadSize,
		Config:      cfg,
		PANID:       0xabcd,
		Dest:        proto.ShortAddr(2),
	}
}

func TestFragTableSingle(t *testing.T) {
	rows, err := fragTable(context.Background(), testFragOptions(10))
	if err != nil {
		t.Fatal(err)
	}
	// 9 bytes of MAC header, 2 of FCS, the uncompressed dispatch and 48 bytes of headers
	want := []frameRow{{Index: 0, FrameLen: 9 + 2 + 1 + 48 + 10, Type: lowpan.FragNone, PayloadLen: 1 + 48 + 10}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("frame table mismatch (-want +got):\n%s", diff)
	}
}

func TestFragTableFragmented(t *testing.T) {
	opts := testFragOptions(1000)
	opts.Config.Layout = lowpan.LayoutCompact
	var pcap bytes.Buffer
	opts.Capture = &pcap
	rows, err := fragTable(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) < 2 {
		t.Fatalf("expected fragments, got %d frames", len(rows))
	}
	covered := 0
	for i, r := range rows {
		if r.Size != 1048 {
			t.Errorf("frame %d: size %d, expected 1048", i, r.Size)
		}
		if r.Tag != rows[0].Tag {
			t.Errorf("frame %d: tag %d differs from first frame", i, r.Tag)
		}
		if r.FrameLen > opts.Config.MaxFrameSize {
			t.Errorf("frame %d: length %d exceeds frame size", i, r.FrameLen)
		}
		if i == 0 {
			if r.Type != lowpan.Frag1 {
				t.Errorf("first frame is %s", r.Type)
			}
			// uncompressed headers ride in the first fragment behind their dispatch byte
			covered = r.PayloadLen - 1
			continue
		}
		if r.Type != lowpan.FragN {
			t.Errorf("frame %d is %s", i, r.Type)
		}
		if r.ByteOffset != covered {
			t.Errorf("frame %d: offset %d, expected %d", i, r.ByteOffset, covered)
		}
		covered += r.PayloadLen
	}
	if covered != 1048 {
		t.Errorf("fragments cover %d bytes, expected 1048", covered)
	}

	pr, err := pcapgo.NewReader(&pcap)
	if err != nil {
		t.Fatalf("pcap error: %s", err)
	}
	count := 0
	for {
		_, _, err = pr.ReadPacketData()
		if err != nil {
			break
		}
		count++
	}
	if count != len(rows) {
		t.Errorf("captured %d frames, expected %d", count, len(rows))
	}
}

func TestFragTableBroadcastAndErrors(t *testing.T) {
	opts := testFragOptions(20)
	opts.Dest = proto.BroadcastAddr
	rows, err := fragTable(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 frame, got %d", len(rows))
	}

	_, err = fragTable(context.Background(), testFragOptions(lowpan.MaxDatagramSize))
	if err == nil {
		t.Errorf("oversize datagram accepted")
	}
}

func TestPrintTable(t *testing.T) {
	rows, err := fragTable(context.Background(), testFragOptions(300))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	err = printTable(&out, rows)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != len(rows)+1 {
		t.Fatalf("expected %d lines, got %d", len(rows)+1, len(lines))
	}
	if !strings.HasPrefix(lines[0], "FRAME") || !strings.Contains(lines[1], "FRAG1") {
		t.Errorf("unexpected table:\n%s", out.String())
	}
}
