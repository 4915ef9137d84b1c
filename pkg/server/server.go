// Package server accepts client connections and runs one session per
// connection.
package server

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"framecast/pkg/logger"
	"framecast/pkg/media"
	"framecast/pkg/store"
)

// Config configures the listener.
type Config struct {
	ListenAddr    string
	MaxConns      int
	SocketTimeout time.Duration
}

// Server owns the listen socket and the shared read-only collaborators:
// the credential store and the video catalog.
type Server struct {
	cfg     Config
	users   *store.Users
	catalog *media.Catalog
}

// New creates a server.
func New(cfg Config, users *store.Users, catalog *media.Catalog) *Server {
	return &Server{cfg: cfg, users: users, catalog: catalog}
}

// ListenAndServe listens on the configured address and serves until the
// listener fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, one goroutine per connection.
// MaxConns bounds concurrent clients via a limited listener.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	defer ln.Close()

	log := logger.WithComponent("server")
	log.Infof("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		log.Infof("client connected from %s", conn.RemoteAddr())
		go newSession(conn, s.users, s.catalog, s.cfg.SocketTimeout).run()
	}
}
