// Package client implements the streaming client core: the connection
// listener, the bounded frame buffer, the request pacer and the seek
// controller. The presentation layer consumes frames via NextFrame.
package client

import (
	"image"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"framecast/pkg/logger"
	"framecast/pkg/media"
	"framecast/pkg/protocol"
)

// DefaultRequestTimeout bounds every wait for a server response.
const DefaultRequestTimeout = 10 * time.Second

var (
	// ErrClosed is returned when the connection has been torn down.
	ErrClosed = errors.New("connection closed")

	// ErrTimeout is returned when the server did not answer a request
	// within the configured timeout.
	ErrTimeout = errors.New("timed out waiting for server response")

	// ErrRequestPending is returned when a request of the same kind is
	// already awaiting its response.
	ErrRequestPending = errors.New("request already in flight")
)

// Config configures a client connection.
type Config struct {
	ServerAddr     string
	BufferCapacity int
	MaxOutstanding int
	RequestTimeout time.Duration
}

// pending is a single-use result slot for one request kind. The
// listener goroutine resolves it; the requesting goroutine awaits it
// with a timeout instead of polling a shared flag.
type pending[T any] struct {
	mu sync.Mutex
	ch chan T
}

func (p *pending[T]) arm() (<-chan T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return nil, ErrRequestPending
	}
	p.ch = make(chan T, 1)
	return p.ch, nil
}

func (p *pending[T]) resolve(v T) bool {
	p.mu.Lock()
	ch := p.ch
	p.ch = nil
	p.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- v
	return true
}

func (p *pending[T]) disarm() {
	p.mu.Lock()
	p.ch = nil
	p.mu.Unlock()
}

// Client is a connection to the streaming server.
type Client struct {
	cfg  Config
	conn net.Conn
	ch   *protocol.Channel
	buf  *FrameBuffer
	log  *logrus.Entry

	mu    sync.Mutex
	pacer *Pacer
	video string
	fps   float64
	total int64
	epoch uint32

	create  pending[bool]
	login   pending[bool]
	details pending[*protocol.VideoDetailsResponse]
	seekAck pending[uint64]
	list    pending[[]string]

	tmu            sync.Mutex
	thumbs         map[string][]byte
	expectedThumbs int
	thumbsDone     chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the server and starts the listener goroutine.
func Dial(cfg Config) (*Client, error) {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultCapacity
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = DefaultMaxOutstanding
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		return nil, errors.Wrap(err, "dial server")
	}

	c := &Client{
		cfg:            cfg,
		conn:           conn,
		ch:             protocol.NewChannel(conn, protocol.RoleClient),
		buf:            NewFrameBuffer(cfg.BufferCapacity),
		log:            logger.WithComponent("client").WithField("server", cfg.ServerAddr),
		expectedThumbs: -1,
		done:           make(chan struct{}),
	}
	go c.listen()
	return c, nil
}

// Close tears the connection down and unblocks every waiter.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.buf.Close()
		c.mu.Lock()
		p := c.pacer
		c.mu.Unlock()
		if p != nil {
			p.Kill()
		}
		c.conn.Close()
	})
}

// Buffer exposes the frame buffer for occupancy inspection.
func (c *Client) Buffer() *FrameBuffer {
	return c.buf
}

// listen is the single receive loop. It mutates the buffer and resolves
// pending results; decode failures are skipped, anything else ends the
// session.
func (c *Client) listen() {
	defer c.shutdown()
	for {
		msg, err := c.ch.Receive()
		if err != nil {
			if protocol.IsDecodeError(err) {
				c.log.Warnf("dropping malformed message: %v", err)
				continue
			}
			if err != io.EOF {
				c.log.Debugf("connection error: %v", err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.CreateUserResponse:
		if !c.create.resolve(m.OK) {
			c.log.Warn("unexpected create-user response")
		}
	case *protocol.LoginResponse:
		if !c.login.resolve(m.OK) {
			c.log.Warn("unexpected login response")
		}
	case *protocol.ListVideosResponse:
		if !c.list.resolve(m.Videos) {
			c.log.Warn("unexpected list-videos response")
		}
	case *protocol.ThumbnailMessage:
		c.handleThumbnail(m)
	case *protocol.VideoDetailsResponse:
		if !c.details.resolve(m) {
			c.log.Warn("unexpected video-details response")
		}
	case *protocol.FrameResponse:
		c.handleFrame(m)
	case *protocol.EndOfStream:
		c.handleEndOfStream(m)
	case *protocol.SeekResponse:
		if !c.seekAck.resolve(m.Index) {
			c.log.Warn("unexpected seek acknowledgement")
		}
	default:
		c.log.Errorf("unhandled message %T", msg)
	}
}

func (c *Client) handleThumbnail(m *protocol.ThumbnailMessage) {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	if c.thumbs == nil {
		c.thumbs = make(map[string][]byte)
	}
	c.thumbs[m.Video] = m.Image
	if c.expectedThumbs >= 0 && len(c.thumbs) >= c.expectedThumbs && c.thumbsDone != nil {
		close(c.thumbsDone)
		c.thumbsDone = nil
	}
}

func (c *Client) handleFrame(m *protocol.FrameResponse) {
	c.mu.Lock()
	cur := c.epoch
	pacer := c.pacer
	c.mu.Unlock()

	if m.Epoch != cur {
		// Response to a pre-seek request; the buffer was already reset.
		c.log.Debugf("discarding stale frame response (epoch %d, current %d)", m.Epoch, cur)
		return
	}
	if pacer != nil {
		pacer.FrameDelivered()
	}

	img, err := media.Decode(m.Image)
	if err != nil {
		c.log.Warnf("undecodable frame: %v", err)
		return
	}
	if err := c.buf.Push(img); err != nil {
		c.log.Warnf("dropping frame: %v", err)
	}
}

func (c *Client) handleEndOfStream(m *protocol.EndOfStream) {
	c.mu.Lock()
	cur := c.epoch
	pacer := c.pacer
	c.mu.Unlock()

	if m.Epoch != cur {
		return
	}
	if pacer != nil {
		pacer.FrameDelivered()
	}
	c.buf.MarkEnded()
}

func await[T any](c *Client, ch <-chan T, p *pending[T]) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-time.After(c.cfg.RequestTimeout):
		p.disarm()
		return zero, ErrTimeout
	case <-c.done:
		return zero, ErrClosed
	}
}

// Register asks the server to create a new user.
func (c *Client) Register(username, password string) (bool, error) {
	ch, err := c.create.arm()
	if err != nil {
		return false, err
	}
	if err := c.ch.Send(&protocol.CreateUserRequest{Username: username, Password: password}); err != nil {
		c.create.disarm()
		return false, err
	}
	return await(c, ch, &c.create)
}

// Login verifies credentials with the server.
func (c *Client) Login(username, password string) (bool, error) {
	ch, err := c.login.arm()
	if err != nil {
		return false, err
	}
	if err := c.ch.Send(&protocol.LoginRequest{Username: username, Password: password}); err != nil {
		c.login.disarm()
		return false, err
	}
	return await(c, ch, &c.login)
}

// ListVideos returns the available video ids and their thumbnails. The
// server answers with the id list followed by one thumbnail message per
// video; both waits share the request timeout.
func (c *Client) ListVideos() ([]string, map[string][]byte, error) {
	ch, err := c.list.arm()
	if err != nil {
		return nil, nil, err
	}

	c.tmu.Lock()
	c.thumbs = make(map[string][]byte)
	c.expectedThumbs = -1
	done := make(chan struct{})
	c.thumbsDone = done
	c.tmu.Unlock()

	if err := c.ch.Send(&protocol.ListVideosRequest{}); err != nil {
		c.list.disarm()
		return nil, nil, err
	}

	ids, err := await(c, ch, &c.list)
	if err != nil {
		return nil, nil, err
	}

	c.tmu.Lock()
	c.expectedThumbs = len(ids)
	if len(c.thumbs) >= len(ids) && c.thumbsDone != nil {
		close(c.thumbsDone)
		c.thumbsDone = nil
	}
	c.tmu.Unlock()

	select {
	case <-done:
	case <-time.After(c.cfg.RequestTimeout):
		return ids, c.snapshotThumbs(), ErrTimeout
	case <-c.done:
		return nil, nil, ErrClosed
	}
	return ids, c.snapshotThumbs(), nil
}

func (c *Client) snapshotThumbs() map[string][]byte {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	out := make(map[string][]byte, len(c.thumbs))
	for k, v := range c.thumbs {
		out[k] = v
	}
	return out
}

// WatchVideo starts a streaming session: fetches the video details,
// positions the server cursor at frame zero and starts the pacer. The
// previous session is retired first, before any new traffic, so its
// in-flight responses arrive with a stale epoch and are discarded
// rather than landing in the new video's buffer.
func (c *Client) WatchVideo(id string) (fps float64, frames int64, err error) {
	c.mu.Lock()
	if c.pacer != nil {
		c.pacer.Kill()
		c.pacer = nil
	}
	c.epoch++
	c.mu.Unlock()

	ch, err := c.details.arm()
	if err != nil {
		return 0, 0, err
	}
	if err := c.ch.Send(&protocol.VideoDetailsRequest{Video: id}); err != nil {
		c.details.disarm()
		return 0, 0, err
	}
	d, err := await(c, ch, &c.details)
	if err != nil {
		return 0, 0, err
	}

	total := int64(math.Round(d.FrameCount))
	c.mu.Lock()
	c.video = id
	c.fps = d.FPS
	c.total = total
	c.mu.Unlock()

	if _, err := c.requestSeek(id, 0); err != nil {
		return 0, 0, err
	}
	c.buf.Reset(0)
	c.buf.SetTotal(total)

	c.mu.Lock()
	p := NewPacer(c.buf, c.sendFrameRequest, c.cfg.MaxOutstanding, c.log)
	c.pacer = p
	c.mu.Unlock()
	go p.Run()

	return d.FPS, total, nil
}

func (c *Client) sendFrameRequest() error {
	c.mu.Lock()
	video, epoch := c.video, c.epoch
	c.mu.Unlock()
	return c.ch.Send(&protocol.FrameRequest{Video: video, Epoch: epoch})
}

func (c *Client) requestSeek(video string, index uint64) (uint64, error) {
	ch, err := c.seekAck.arm()
	if err != nil {
		return 0, err
	}
	if err := c.ch.Send(&protocol.SeekRequest{Video: video, Index: index}); err != nil {
		c.seekAck.disarm()
		return 0, err
	}
	return await(c, ch, &c.seekAck)
}

// Seek repositions playback. The pacer is paused before the server
// cursor moves, so no request for the old position can follow the seek;
// responses already in flight carry the old epoch and are discarded.
// On timeout the pacer resumes and playback stays at the old position.
func (c *Client) Seek(index uint64) (uint64, error) {
	c.mu.Lock()
	video := c.video
	pacer := c.pacer
	c.mu.Unlock()
	if video == "" || pacer == nil {
		return 0, errors.New("no active video session")
	}

	pacer.Pause()
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	acked, err := c.requestSeek(video, index)
	if err != nil {
		// The epoch already moved on, so the pre-seek requests will only
		// ever produce stale responses that never reach FrameDelivered;
		// zero the counter or pacing stays wedged at the cap.
		pacer.ResetOutstanding()
		pacer.Unpause()
		return 0, errors.Wrap(err, "seek")
	}

	c.buf.Reset(acked)
	pacer.ResetOutstanding()
	pacer.Unpause()
	return acked, nil
}

// NextFrame blocks for the next playback frame. Returns ErrEndOfStream
// once the video is fully consumed.
func (c *Client) NextFrame() (image.Image, error) {
	return c.buf.Pop()
}

// Stop abandons the current video session.
func (c *Client) Stop() {
	c.mu.Lock()
	p := c.pacer
	c.pacer = nil
	c.video = ""
	c.mu.Unlock()
	if p != nil {
		p.Kill()
	}
}

// FrameInterval returns the playback tick derived from the video fps.
func (c *Client) FrameInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.fps)
}

// VideoLength returns the total duration derived from frame count and
// fps.
func (c *Client) VideoLength() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fps <= 0 {
		return 0
	}
	return time.Duration(float64(c.total) / c.fps * float64(time.Second))
}
