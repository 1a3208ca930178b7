package shimz

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
)

// idPool keeps a buffer of pre-generated transaction IDs so StartTransaction
// does not pay for crypto/rand on the hot path.
type idPool struct {
	clock    clockz.Clock
	ids      chan string
	stopCh   chan struct{}
	fallback atomic.Uint64
	mu       sync.Mutex
	closed   bool
}

func newIDPool(capacity int, clock clockz.Clock) *idPool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &idPool{
		clock:  clock,
		ids:    make(chan string, capacity),
		stopCh: make(chan struct{}),
	}
	go p.refill()
	return p
}

// get takes a buffered ID, or generates one directly when the buffer is empty.
func (p *idPool) get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.generate()
	}
}

func (p *idPool) generate() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Clock nanos plus a counter keeps IDs unique without entropy.
		n := p.fallback.Add(1)
		return strconv.FormatInt(p.clock.Now().UnixNano(), 16) + "-" + strconv.FormatUint(n, 16)
	}
	return hex.EncodeToString(b[:])
}

func (p *idPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.generate():
		}
	}
}

func (p *idPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
