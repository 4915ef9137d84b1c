package client

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxOutstanding caps frame requests awaiting a response.
const DefaultMaxOutstanding = 50

const pacerIdle = time.Millisecond

// Pacer issues frame requests in a background loop while the buffer has
// room and the in-flight request count is below the cap. The two bounds
// are checked independently; a response landing on a buffer that filled
// in the meantime is dropped by the listener.
type Pacer struct {
	mu          sync.Mutex
	buf         *FrameBuffer
	send        func() error
	max         int
	outstanding int
	paused      bool
	alive       bool
	log         *logrus.Entry
}

// NewPacer creates a pacer that calls send for each frame request. Run
// must be started by the caller.
func NewPacer(buf *FrameBuffer, send func() error, max int, log *logrus.Entry) *Pacer {
	if max <= 0 {
		max = DefaultMaxOutstanding
	}
	return &Pacer{buf: buf, send: send, max: max, alive: true, log: log}
}

// Run loops until Kill. Sends happen while holding the pacer lock:
// Pause cannot return while a request is still going out, which is what
// lets the seek controller trust that no stale request follows it.
func (p *Pacer) Run() {
	for {
		p.mu.Lock()
		if !p.alive {
			p.mu.Unlock()
			return
		}
		if !p.paused && p.outstanding < p.max && p.buf.CanAccept() && !p.buf.Finished() {
			if err := p.send(); err != nil {
				p.alive = false
				p.mu.Unlock()
				p.log.Debugf("frame request failed, stopping pacer: %v", err)
				return
			}
			p.outstanding++
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()
		time.Sleep(pacerIdle)
	}
}

// Pause stops the loop from issuing requests. It only returns once no
// send is in progress.
func (p *Pacer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Unpause resumes request issuing.
func (p *Pacer) Unpause() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Kill permanently stops the loop.
func (p *Pacer) Kill() {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
}

// FrameDelivered records that one outstanding request completed, via
// either a frame response or an end-of-stream notice.
func (p *Pacer) FrameDelivered() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstanding == 0 {
		p.log.Warn("outstanding-request counter underflow")
		return
	}
	p.outstanding--
}

// ResetOutstanding zeroes the counter. Responses for the requests it
// covered are stale-epoch and will never call FrameDelivered.
func (p *Pacer) ResetOutstanding() {
	p.mu.Lock()
	p.outstanding = 0
	p.mu.Unlock()
}

// Outstanding returns the current in-flight request count.
func (p *Pacer) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}
