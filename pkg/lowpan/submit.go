package lowpan

import (
	"fmt"
	"strings"

	"github.com/ghjm/lowpan/pkg/buffers"
	"github.com/ghjm/lowpan/pkg/mac"
	log "github.com/sirupsen/logrus"
)

// SubmitPolicy decides what happens to the remaining frames of a packet when the MAC rejects one of them
type SubmitPolicy int

const (
	// SubmitContinue submits every frame regardless of earlier failures
	SubmitContinue SubmitPolicy = iota
	// SubmitAbort releases the remaining frames after the first failure
	SubmitAbort
)

func (p SubmitPolicy) String() string {
	switch p {
	case SubmitContinue:
		return "continue"
	case SubmitAbort:
		return "abort"
	}
	return fmt.Sprintf("SubmitPolicy(%d)", int(p))
}

// ParseSubmitPolicy parses the name of a submit policy
func ParseSubmitPolicy(s string) (SubmitPolicy, error) {
	switch strings.ToLower(s) {
	case "", "continue":
		return SubmitContinue, nil
	case "abort":
		return SubmitAbort, nil
	}
	return 0, fmt.Errorf("unknown submit policy %q", s)
}

// FrameError is the failure of one frame of a packet
type FrameError struct {
	Index int
	Err   error
}

// SubmitError reports the frames of a packet the MAC did not accept
type SubmitError struct {
	Total  int
	Failed []FrameError
	// Aborted is the number of frames released unsent because of SubmitAbort
	Aborted int
}

func (e *SubmitError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("frame %d: %s", f.Index, f.Err))
	}
	msg := fmt.Sprintf("%d of %d frames failed (%s)", len(e.Failed), e.Total, strings.Join(parts, "; "))
	if e.Aborted > 0 {
		msg = fmt.Sprintf("%s, %d not sent", msg, e.Aborted)
	}
	return msg
}

func (e *SubmitError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// submitChain hands the frames of chain to the driver in order.  Each buffer belongs to the driver from the
// moment it is submitted.
func (d *Device) submitChain(meta *mac.FrameMeta, chain buffers.Chain) error {
	var serr *SubmitError
	for i, buf := range chain {
		chain[i] = nil
		err := d.driver.SubmitFrame(meta, buf)
		if err == nil {
			d.metrics.frame("ok")
			continue
		}
		d.metrics.frame("error")
		log.Warnf("frame %d of %d (handle %d) not accepted by MAC: %s", i+1, len(chain), meta.Handle, err)
		if serr == nil {
			serr = &SubmitError{Total: len(chain)}
		}
		serr.Failed = append(serr.Failed, FrameError{Index: i, Err: err})
		if d.cfg.SubmitPolicy == SubmitAbort {
			serr.Aborted = len(chain) - i - 1
			chain.Release()
			d.metrics.frame("aborted")
			break
		}
	}
	if serr != nil {
		return serr
	}
	return nil
}
