package client

import (
	"image"
	"sync"

	"github.com/pkg/errors"
)

// DefaultCapacity is the frame buffer bound used when the config does
// not override it.
const DefaultCapacity = 50

var (
	// ErrBufferFull is returned by Push when the buffer is at capacity.
	// Push rejects instead of blocking; the listener drops the frame.
	ErrBufferFull = errors.New("frame buffer at capacity")

	// ErrEndOfStream is returned by Pop once every frame of the video
	// has been consumed.
	ErrEndOfStream = errors.New("end of stream")

	// ErrBufferClosed is returned once the buffer is discarded.
	ErrBufferClosed = errors.New("frame buffer closed")
)

// FrameBuffer is a bounded FIFO of decoded frames. The listener
// goroutine pushes, the playback consumer pops, and the pacer reads
// occupancy; all three go through the one mutex so length checks stay
// atomic with mutations.
type FrameBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	frames   []image.Image
	capacity int

	produced uint64
	consumed uint64
	total    int64 // -1 until video details arrive
	ended    bool
	closed   bool
}

// NewFrameBuffer creates an empty buffer bounded at capacity.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &FrameBuffer{capacity: capacity, total: -1}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends a frame to the tail.
func (b *FrameBuffer) Push(img image.Image) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	if len(b.frames) >= b.capacity {
		return ErrBufferFull
	}
	b.frames = append(b.frames, img)
	b.produced++
	b.cond.Broadcast()
	return nil
}

// Pop blocks until a frame is available and removes the head. It
// returns ErrEndOfStream once playback has consumed the last frame,
// either because the server announced end-of-stream or because the
// consumed count reached the announced total.
func (b *FrameBuffer) Pop() (image.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return nil, ErrBufferClosed
		}
		if len(b.frames) > 0 {
			img := b.frames[0]
			b.frames = b.frames[1:]
			b.consumed++
			return img, nil
		}
		if b.finishedLocked() {
			return nil, ErrEndOfStream
		}
		b.cond.Wait()
	}
}

func (b *FrameBuffer) finishedLocked() bool {
	if b.ended {
		return true
	}
	return b.total >= 0 && b.consumed >= uint64(b.total)
}

// CanAccept reports whether the buffer has room for another frame.
func (b *FrameBuffer) CanAccept() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames) < b.capacity
}

// Finished reports whether no further frames will ever be consumable.
func (b *FrameBuffer) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishedLocked() && len(b.frames) == 0
}

// Reset discards all buffered frames and moves both counters to pos.
// Used exclusively while the pacer is paused during a seek.
func (b *FrameBuffer) Reset(pos uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.produced = pos
	b.consumed = pos
	b.ended = false
	b.cond.Broadcast()
}

// SetTotal records the announced total frame count.
func (b *FrameBuffer) SetTotal(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.cond.Broadcast()
}

// MarkEnded records an explicit end-of-stream from the server.
func (b *FrameBuffer) MarkEnded() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
	b.cond.Broadcast()
}

// Close discards the buffer and unblocks any waiter.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.frames = nil
	b.cond.Broadcast()
}

// Len returns the current occupancy.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Consumed returns the playback position in frames.
func (b *FrameBuffer) Consumed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}

// Produced returns the count of frames pushed since the last reset
// origin.
func (b *FrameBuffer) Produced() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.produced
}
