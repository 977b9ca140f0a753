package medium

import (
	"github.com/ghjm/lowpan/pkg/x/syncro"
)

// Recorder is a medium that only records what is transmitted on it.  Nothing is ever received.
type Recorder struct {
	frames syncro.Var[[][]byte]
}

func (r *Recorder) Transmit(frame []byte) error {
	r.frames.WorkWith(func(frames *[][]byte) {
		*frames = append(*frames, append([]byte(nil), frame...))
	})
	return nil
}

// Frames returns the frames transmitted so far
func (r *Recorder) Frames() [][]byte {
	var frames [][]byte
	r.frames.WorkWithReadOnly(func(f [][]byte) {
		frames = append(frames, f...)
	})
	return frames
}

// Take returns the frames transmitted so far and clears the record
func (r *Recorder) Take() [][]byte {
	return r.frames.Swap(nil)
}

func (r *Recorder) SubscribeFrames() <-chan []byte {
	return make(chan []byte)
}

func (r *Recorder) UnsubscribeFrames(_ <-chan []byte) {
}
