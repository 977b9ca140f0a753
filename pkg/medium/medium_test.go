package medium

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func receiveFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return nil
}

func TestChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewChannel(ctx)
	subs := []<-chan []byte{c.SubscribeFrames(), c.SubscribeFrames()}
	frame := []byte{0x41, 0x88, 1, 2, 3}
	go func() {
		if err := c.Transmit(frame); err != nil {
			t.Errorf("Transmit error: %s", err)
		}
		frame[0] = 0
	}()
	for i, sub := range subs {
		got := receiveFrame(t, sub)
		if diff := cmp.Diff([]byte{0x41, 0x88, 1, 2, 3}, got); diff != "" {
			t.Errorf("subscriber %d frame mismatch (-want +got):\n%s", i, diff)
		}
	}
	for _, sub := range subs {
		c.UnsubscribeFrames(sub)
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
}

func TestSharedChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	m1, err := New(ctx, "channel", config.Params{"name": "test"})
	if err != nil {
		t.Fatalf("New error: %s", err)
	}
	m2, err := New(ctx, "channel", config.Params{"name": "test"})
	if err != nil {
		t.Fatalf("New error: %s", err)
	}
	m3, err := New(ctx, "channel", config.Params{"name": "other"})
	if err != nil {
		t.Fatalf("New error: %s", err)
	}
	if m1 != m2 {
		t.Errorf("channels with the same name are different")
	}
	if m1 == m3 {
		t.Errorf("channels with different names are the same")
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
	if _, ok := sharedChannels.Get("test"); ok {
		t.Errorf("channel was not removed after its context ended")
	}
}

func TestUDP(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ma, err := New(ctx, "udp", config.Params{"listen": "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %s", err)
	}
	a := ma.(*UDP)
	mb, err := New(ctx, "udp", config.Params{
		"listen": "127.0.0.1:0",
		"peers":  a.LocalAddr().String(),
	})
	if err != nil {
		t.Fatalf("New error: %s", err)
	}
	b := mb.(*UDP)
	a.peers = append(a.peers, b.LocalAddr())

	subA := a.SubscribeFrames()
	subB := b.SubscribeFrames()
	for i := 0; i < 3; i++ {
		frame := []byte(fmt.Sprintf("frame %d", i))
		if err := a.Transmit(frame); err != nil {
			t.Fatalf("Transmit error: %s", err)
		}
		if diff := cmp.Diff(frame, receiveFrame(t, subB)); diff != "" {
			t.Errorf("b received wrong frame (-want +got):\n%s", diff)
		}
		if err := b.Transmit(frame); err != nil {
			t.Fatalf("Transmit error: %s", err)
		}
		if diff := cmp.Diff(frame, receiveFrame(t, subA)); diff != "" {
			t.Errorf("a received wrong frame (-want +got):\n%s", diff)
		}
	}
	a.UnsubscribeFrames(subA)
	b.UnsubscribeFrames(subB)
	cancel()
	time.Sleep(10 * time.Millisecond)
}

func TestUDPOversize(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
	b, err := NewUDP(ctx, loopback, nil)
	if err != nil {
		t.Fatalf("NewUDP error: %s", err)
	}
	a, err := NewUDP(ctx, loopback, []*net.UDPAddr{b.LocalAddr()})
	if err != nil {
		t.Fatalf("NewUDP error: %s", err)
	}
	sub := b.SubscribeFrames()
	if err := a.Transmit(make([]byte, mac.MaxPHYPacketSize+1)); err != nil {
		t.Fatalf("Transmit error: %s", err)
	}
	if err := a.Transmit([]byte("ok")); err != nil {
		t.Fatalf("Transmit error: %s", err)
	}
	if got := receiveFrame(t, sub); string(got) != "ok" {
		t.Errorf("received %q, expected the oversized datagram to be dropped", got)
	}
	b.UnsubscribeFrames(sub)
	cancel()
	time.Sleep(10 * time.Millisecond)
}

func TestMediumErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := New(ctx, "carrier-pigeon", nil); !errors.Is(err, ErrUnknownMedium) {
		t.Errorf("unknown medium: got %v", err)
	}
	if _, err := New(ctx, "udp", config.Params{}); err == nil {
		t.Errorf("UDP medium created without a listen address")
	}
	if _, err := New(ctx, "udp", config.Params{"listen": "127.0.0.1:0", "peers": "nonsense"}); err == nil {
		t.Errorf("UDP medium created with bad peers")
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	frame := []byte{1, 2, 3}
	_ = r.Transmit(frame)
	frame[0] = 9
	_ = r.Transmit(frame)
	if diff := cmp.Diff([][]byte{{1, 2, 3}, {9, 2, 3}}, r.Frames()); diff != "" {
		t.Errorf("recorded frames mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorderConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := &Recorder{}
	var wg sync.WaitGroup
	for sender := 0; sender < 4; sender++ {
		wg.Add(1)
		go func(sender byte) {
			defer wg.Done()
			for seq := 0; seq < 250; seq++ {
				_ = r.Transmit([]byte{sender, byte(seq)})
			}
		}(byte(sender))
	}
	var taken [][]byte
	for len(taken) < 1000 {
		taken = append(taken, r.Take()...)
		_ = r.Frames()
	}
	wg.Wait()
	if len(r.Frames()) != 0 {
		t.Errorf("%d frames recorded after everything was taken", len(r.Frames()))
	}
	next := make([]int, 4)
	for _, f := range taken {
		if int(f[1]) != next[f[0]] {
			t.Fatalf("sender %d: frame %d recorded out of order, expected %d", f[0], f[1], next[f[0]])
		}
		next[f[0]]++
	}
	if diff := cmp.Diff([]int{250, 250, 250, 250}, next); diff != "" {
		t.Errorf("frames per sender mismatch (-want +got):\n%s", diff)
	}
}
