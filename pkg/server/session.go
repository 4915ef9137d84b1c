package server

import (
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"framecast/pkg/logger"
	"framecast/pkg/media"
	"framecast/pkg/protocol"
	"framecast/pkg/store"
)

// session is the per-connection state. A single goroutine runs the
// receive-dispatch loop, so the frame cursor needs no locking; it must
// never be shared across connections.
type session struct {
	conn    net.Conn
	ch      *protocol.Channel
	users   *store.Users
	catalog *media.Catalog
	timeout time.Duration

	source *media.Source
	video  string

	log *logrus.Entry
}

func newSession(conn net.Conn, users *store.Users, catalog *media.Catalog, timeout time.Duration) *session {
	return &session{
		conn:    conn,
		ch:      protocol.NewChannel(conn, protocol.RoleServer),
		users:   users,
		catalog: catalog,
		timeout: timeout,
		log:     logger.WithComponent("session").WithField("peer", conn.RemoteAddr().String()),
	}
}

// run is the synchronous receive-dispatch loop. Malformed payloads are
// skipped; transport errors and unknown operations end the session.
func (s *session) run() {
	defer s.conn.Close()
	for {
		if s.timeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.timeout))
		}
		msg, err := s.ch.Receive()
		if err != nil {
			if protocol.IsDecodeError(err) {
				s.log.Warnf("dropping malformed message: %v", err)
				continue
			}
			if err == io.EOF {
				s.log.Info("client disconnected")
			} else {
				s.log.Infof("closing session: %v", err)
			}
			return
		}
		if err := s.handle(msg); err != nil {
			s.log.Errorf("closing session: %v", err)
			return
		}
	}
}

// handle routes one request. Every request kind has a case; anything
// else got through decoding it should not have.
func (s *session) handle(msg protocol.Message) error {
	s.log.Debugf("handling %s", msg.Op())
	switch m := msg.(type) {
	case *protocol.CreateUserRequest:
		return s.handleCreateUser(m)
	case *protocol.LoginRequest:
		return s.handleLogin(m)
	case *protocol.ListVideosRequest:
		return s.handleListVideos()
	case *protocol.VideoDetailsRequest:
		return s.handleVideoDetails(m)
	case *protocol.FrameRequest:
		return s.handleFrameRequest(m)
	case *protocol.SeekRequest:
		return s.handleSeek(m)
	default:
		return protocol.ErrUnknownOp
	}
}

func (s *session) handleCreateUser(m *protocol.CreateUserRequest) error {
	existing, err := s.users.Find(m.Username)
	if err != nil {
		s.log.Errorf("user lookup failed: %v", err)
		return s.ch.Send(&protocol.CreateUserResponse{OK: false})
	}
	if existing != nil {
		return s.ch.Send(&protocol.CreateUserResponse{OK: false})
	}
	if err := s.users.Add(m.Username, m.Password); err != nil {
		s.log.Errorf("user creation failed: %v", err)
		return s.ch.Send(&protocol.CreateUserResponse{OK: false})
	}
	s.log.Infof("registered user %q", m.Username)
	return s.ch.Send(&protocol.CreateUserResponse{OK: true})
}

func (s *session) handleLogin(m *protocol.LoginRequest) error {
	ok, err := s.users.Verify(m.Username, m.Password)
	if err != nil {
		s.log.Errorf("login check failed: %v", err)
		ok = false
	}
	return s.ch.Send(&protocol.LoginResponse{OK: ok})
}

// handleListVideos answers the id list, then one thumbnail message per
// video.
func (s *session) handleListVideos() error {
	ids, err := s.catalog.List()
	if err != nil {
		s.log.Errorf("catalog listing failed: %v", err)
		ids = nil
	}
	if err := s.ch.Send(&protocol.ListVideosResponse{Videos: ids}); err != nil {
		return err
	}
	for _, id := range ids {
		thumb, err := s.catalog.Thumbnail(id)
		if err != nil {
			s.log.Warnf("no thumbnail for %s: %v", id, err)
			continue
		}
		if err := s.ch.Send(&protocol.ThumbnailMessage{Video: id, Image: thumb}); err != nil {
			return err
		}
	}
	return nil
}

// ensureSource opens the cursor lazily on first use and reopens it when
// the client switches videos.
func (s *session) ensureSource(video string) error {
	if s.source != nil && s.video == video {
		return nil
	}
	src, err := s.catalog.Open(video)
	if err != nil {
		return err
	}
	s.source = src
	s.video = video
	return nil
}

func (s *session) handleVideoDetails(m *protocol.VideoDetailsRequest) error {
	if err := s.ensureSource(m.Video); err != nil {
		// No usable reply exists for a missing video; the client's
		// request timeout surfaces the stall.
		s.log.Errorf("cannot open %s: %v", m.Video, err)
		return nil
	}
	fps, frames := s.source.Details()
	return s.ch.Send(&protocol.VideoDetailsResponse{FPS: fps, FrameCount: float64(frames)})
}

func (s *session) handleFrameRequest(m *protocol.FrameRequest) error {
	if err := s.ensureSource(m.Video); err != nil {
		s.log.Errorf("cannot open %s: %v", m.Video, err)
		return s.ch.Send(&protocol.EndOfStream{Epoch: m.Epoch})
	}
	img, err := s.source.Read()
	if err == io.EOF {
		return s.ch.Send(&protocol.EndOfStream{Epoch: m.Epoch})
	}
	if err != nil {
		s.log.Errorf("frame read failed: %v", err)
		return s.ch.Send(&protocol.EndOfStream{Epoch: m.Epoch})
	}
	data, err := media.Encode(img)
	if err != nil {
		s.log.Errorf("frame encode failed: %v", err)
		return s.ch.Send(&protocol.EndOfStream{Epoch: m.Epoch})
	}
	return s.ch.Send(&protocol.FrameResponse{Epoch: m.Epoch, Image: data})
}

// handleSeek reopens the cursor at the target index and acknowledges
// with the accepted index.
func (s *session) handleSeek(m *protocol.SeekRequest) error {
	src, err := s.catalog.Open(m.Video)
	if err != nil {
		s.log.Errorf("cannot open %s: %v", m.Video, err)
		return nil
	}
	accepted := src.Seek(int(m.Index))
	s.source = src
	s.video = m.Video
	return s.ch.Send(&protocol.SeekResponse{Index: uint64(accepted)})
}
