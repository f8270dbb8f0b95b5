// Package server implements the Incognito rendezvous server: a user
// directory, the pairing rendezvous, and opaque relaying of encrypted
// traffic between the two endpoints of each private session.
package server

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/incognito-chat/incognito/incognito/log"
	quict "github.com/incognito-chat/incognito/incognito/transport/quic"
	"github.com/incognito-chat/incognito/incognito/worker"
)

// streamAcceptTimeout bounds how long a freshly accepted connection may
// take to open its message stream.
const streamAcceptTimeout = 10 * time.Second

// Server accepts client connections and runs one handler per connection.
type Server struct {
	worker.Worker

	cfg        *Config
	logBackend *log.Backend
	log        *logging.Logger
	registry   *Registry
	listener   *quict.Listener
}

// New constructs a server from a validated configuration.
func New(cfg *Config) (*Server, error) {
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		logBackend: backend,
		log:        backend.GetLogger("server"),
	}
	s.registry = NewRegistry(backend.GetLogger("registry"))
	return s, nil
}

// Start begins listening and accepting connections. It returns once the
// listener is up; Halt shuts everything down.
func (s *Server) Start() error {
	ln, err := quict.Listen(s.cfg.Address)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.log.Noticef("listening on %s", ln.AddrString())

	s.Go(func() {
		<-s.HaltCh()
		_ = ln.Close()
	})
	s.Go(s.acceptLoop)
	return nil
}

// Addr returns the bound listen address, usable once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.AddrString()
}

func (s *Server) acceptLoop() {
	connID := 0
	for {
		tc, err := s.listener.Accept(context.Background())
		if err != nil {
			select {
			case <-s.HaltCh():
			default:
				s.log.Errorf("accept failed: %v", err)
			}
			return
		}
		connID++
		id := connID
		s.Go(func() { s.handleConnection(tc, id) })
	}
}

func (s *Server) handleConnection(tc *quict.Conn, id int) {
	connLog := s.logBackend.GetLogger(fmt.Sprintf("conn:%d", id))

	ctx, cancel := context.WithTimeout(context.Background(), streamAcceptTimeout)
	err := tc.AcceptStream(ctx)
	cancel()
	if err != nil {
		connLog.Warningf("client %v never opened a stream: %v", tc.RemoteAddr(), err)
		_ = tc.Close()
		return
	}
	connLog.Debugf("accepted %v", tc.RemoteAddr())

	c := newConn(s.registry, tc, connLog)
	s.Go(func() {
		select {
		case <-s.HaltCh():
			c.close()
		case <-c.doneCh:
		}
	})
	c.run()
}
