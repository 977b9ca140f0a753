package timerunner

import (
	"context"
	"time"

	"github.com/ghjm/lowpan/pkg/x/modifiers"
)

// TimeRunner runs a function periodically, and on request
type TimeRunner interface {
	// RunWithin requests that the function run no later than t from now.  It must not be called from the
	// function itself.
	RunWithin(t time.Duration)
	// Done returns a channel which is closed when the runner has stopped
	Done() <-chan struct{}
}

type timerunner struct {
	ctx      context.Context
	nextRun  time.Time
	reqChan  chan time.Duration
	doneChan chan struct{}
	f        func()
	periodic time.Duration
}

// never is far enough in the future that it will not arrive
const never = time.Duration(1<<63 - 1)

// Periodic modifies New to run the function every period
func Periodic(period time.Duration) func(*timerunner) {
	return func(tr *timerunner) {
		tr.periodic = period
		tr.nextRun = time.Now().Add(period)
	}
}

// AtStart modifies New to run the function once immediately at startup
func AtStart(tr *timerunner) {
	tr.nextRun = time.Now()
}

// New returns a TimeRunner which runs f in its own goroutine until ctx is cancelled.  Runs never overlap.
func New(ctx context.Context, f func(), mods ...func(*timerunner)) TimeRunner {
	tr := &timerunner{
		ctx:      ctx,
		nextRun:  time.Now().Add(never),
		reqChan:  make(chan time.Duration),
		doneChan: make(chan struct{}),
		f:        f,
		periodic: never,
	}
	modifiers.ProcessMods(tr, mods)
	go tr.mainLoop()
	return tr
}

func (tr *timerunner) mainLoop() {
	defer close(tr.doneChan)
	timer := time.NewTimer(time.Until(tr.nextRun))
	defer timer.Stop()
	for {
		select {
		case <-tr.ctx.Done():
			return
		case <-timer.C:
			tr.f()
			tr.nextRun = time.Now().Add(tr.periodic)
		case req := <-tr.reqChan:
			reqNext := time.Now().Add(req)
			if !reqNext.Before(tr.nextRun) {
				continue
			}
			tr.nextRun = reqNext
			if !timer.Stop() {
				<-timer.C
			}
		}
		timer.Reset(time.Until(tr.nextRun))
	}
}

func (tr *timerunner) RunWithin(t time.Duration) {
	select {
	case <-tr.ctx.Done():
	case tr.reqChan <- t:
	}
}

func (tr *timerunner) Done() <-chan struct{} {
	return tr.doneChan
}
