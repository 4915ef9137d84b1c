package client

import (
	"image"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framecast/pkg/media"
	"framecast/pkg/protocol"
)

func videoGray(video string) uint8 {
	switch video {
	case "a":
		return 50
	case "b":
		return 200
	}
	return 120
}

func encodedFrame(video string) []byte {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = videoGray(video)
	}
	data, _ := media.Encode(img)
	return data
}

func grayOf(img image.Image) int {
	r, _, _, _ := img.At(img.Bounds().Min.X+1, img.Bounds().Min.Y+1).RGBA()
	return int(r >> 8)
}

// scriptedServer speaks the wire protocol on a single connection with
// hand-controlled delivery: frame responses for one video can be
// withheld and released later, and seek requests can be swallowed. That
// reproduces in-flight timings a well-behaved server only hits under
// load.
type scriptedServer struct {
	addr      string
	frameReqs chan protocol.FrameRequest

	mu          sync.Mutex
	ch          *protocol.Channel
	withheld    []protocol.FrameRequest
	holdVideo   string
	ignoreSeeks bool
}

func newScriptedServer(t *testing.T, holdVideo string) *scriptedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &scriptedServer{
		addr:      ln.Addr().String(),
		frameReqs: make(chan protocol.FrameRequest, 256),
		holdVideo: holdVideo,
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.ch = protocol.NewChannel(conn, protocol.RoleServer)
		s.mu.Unlock()
		s.serve()
	}()
	return s
}

func (s *scriptedServer) serve() {
	for {
		msg, err := s.ch.Receive()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *protocol.VideoDetailsRequest:
			_ = s.ch.Send(&protocol.VideoDetailsResponse{FPS: 10, FrameCount: 100})
		case *protocol.SeekRequest:
			s.mu.Lock()
			ignore := s.ignoreSeeks
			s.mu.Unlock()
			if !ignore {
				_ = s.ch.Send(&protocol.SeekResponse{Index: m.Index})
			}
		case *protocol.FrameRequest:
			s.frameReqs <- *m
			s.mu.Lock()
			hold := m.Video == s.holdVideo
			if hold {
				s.withheld = append(s.withheld, *m)
			}
			s.mu.Unlock()
			if !hold {
				_ = s.ch.Send(&protocol.FrameResponse{Epoch: m.Epoch, Image: encodedFrame(m.Video)})
			}
		}
	}
}

func (s *scriptedServer) setIgnoreSeeks(v bool) {
	s.mu.Lock()
	s.ignoreSeeks = v
	s.mu.Unlock()
}

// flushWithheld answers every withheld frame request, echoing the epoch
// it was made with.
func (s *scriptedServer) flushWithheld() {
	s.mu.Lock()
	pending := s.withheld
	s.withheld = nil
	ch := s.ch
	s.mu.Unlock()
	for _, m := range pending {
		_ = ch.Send(&protocol.FrameResponse{Epoch: m.Epoch, Image: encodedFrame(m.Video)})
	}
}

func (s *scriptedServer) nextFrameReq(t *testing.T) protocol.FrameRequest {
	t.Helper()
	select {
	case m := <-s.frameReqs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame request arrived")
		return protocol.FrameRequest{}
	}
}

// A seek whose acknowledgement never arrives must leave the session
// able to request frames again: the pre-seek requests only ever produce
// stale-epoch responses, so their outstanding count has to be written
// off.
func TestSeekTimeoutResumesPacing(t *testing.T) {
	srv := newScriptedServer(t, "a")

	c, err := Dial(Config{
		ServerAddr:     srv.addr,
		MaxOutstanding: 3,
		RequestTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.WatchVideo("a")
	require.NoError(t, err)

	// Every frame response is withheld, so the pacer parks at its cap.
	var before uint32
	for i := 0; i < 3; i++ {
		before = srv.nextFrameReq(t).Epoch
	}

	srv.setIgnoreSeeks(true)
	_, err = c.Seek(10)
	assert.ErrorIs(t, err, ErrTimeout)

	// The pre-seek responses arrive late, carrying the old epoch.
	srv.flushWithheld()

	got := srv.nextFrameReq(t)
	assert.Equal(t, before+1, got.Epoch)
}

// Switching videos while the old video still has responses in flight
// must not leak the old video's frames into the new session.
func TestSwitchVideoDropsStaleFrames(t *testing.T) {
	srv := newScriptedServer(t, "a")

	c, err := Dial(Config{
		ServerAddr:     srv.addr,
		MaxOutstanding: 2,
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.WatchVideo("a")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		srv.nextFrameReq(t)
	}

	_, _, err = c.WatchVideo("b")
	require.NoError(t, err)

	// The old video's responses land only now, after the switch.
	srv.flushWithheld()

	img, err := c.NextFrame()
	require.NoError(t, err)
	assert.InDelta(t, int(videoGray("b")), grayOf(img), 6)
}

func TestFrameIntervalWithoutSession(t *testing.T) {
	c := &Client{}
	assert.Equal(t, time.Duration(0), c.FrameInterval())
}
