// Package cmrand provides the friendly API of math.rand, using crypto.rand as its source.
package cmrand

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	r     *rand.Rand
	rOnce sync.Once
	rLock sync.Mutex
)

// Rand returns a shared math/rand generator backed by crypto/rand.  It is not safe for concurrent use; the
// package-level helpers are.
func Rand() *rand.Rand {
	rOnce.Do(func() {
		r = rand.New(cryptoSource{})
	})
	return r
}

// Uint16 returns a uniformly distributed random uint16
func Uint16() uint16 {
	rLock.Lock()
	defer rLock.Unlock()
	return uint16(Rand().Uint32())
}

type cryptoSource struct{}

func (s cryptoSource) Seed(_ int64) {}

func (s cryptoSource) Int63() int64 {
	return int64(s.Uint64() & ^uint64(1<<63))
}

func (s cryptoSource) Uint64() (v uint64) {
	err := binary.Read(crand.Reader, binary.BigEndian, &v)
	if err != nil {
		log.Fatal(err)
	}
	return v
}
