package accept_loop

import (
	"context"
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// MaxRetryDelay is the longest AcceptLoop waits after a failed accept
const MaxRetryDelay = time.Second

// AcceptLoop accepts connections from li and runs connFunc on each one in its own goroutine.  It returns when
// ctx is cancelled or li is closed.  Other accept errors are retried with an increasing delay.
func AcceptLoop(ctx context.Context, li net.Listener, connFunc func(context.Context, net.Conn)) {
	var tempDelay time.Duration
	for {
		conn, err := li.Accept()
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > MaxRetryDelay {
				tempDelay = MaxRetryDelay
			}
			log.Warnf("accept error: %s; retrying in %v", err, tempDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(tempDelay):
			}
			continue
		}
		tempDelay = 0
		go connFunc(ctx, conn)
	}
}
