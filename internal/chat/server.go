package chat

import (
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Options struct {
	Capacity      int
	EventBuffer   int
	OutboundQueue int
	// MaxSessions caps concurrently running session handlers; 0 means unlimited.
	MaxSessions     int
	ShutdownTimeout time.Duration
	Session         SessionConfig
}

func DefaultOptions() Options {
	return Options{
		Capacity:        256,
		EventBuffer:     128,
		OutboundQueue:   64,
		ShutdownTimeout: 5 * time.Second,
		Session:         DefaultSessionConfig(),
	}
}

type Server struct {
	addr     string
	opts     Options
	logger   *zap.Logger
	reg      *Registry
	pool     *ants.Pool
	listener net.Listener

	nextID   atomic.Uint64
	stopping atomic.Bool
	acceptWG sync.WaitGroup
	conns    sync.Map // client ID -> net.Conn
}

func NewServer(addr string, opts Options, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.MaxSessions
	if size <= 0 {
		size = -1
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			logger.Error("session panicked", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "chat: create session pool")
	}
	return &Server{
		addr:   addr,
		opts:   opts,
		logger: logger,
		reg:    NewRegistry(opts.Capacity, opts.EventBuffer, logger),
		pool:   pool,
	}, nil
}

func (s *Server) Start() error {
	if s.stopping.Load() {
		return errors.New("chat: server already stopped")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "chat: listen on %s", s.addr)
	}
	s.listener = ln

	go s.reg.Run()
	s.acceptWG.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("server started",
		zap.String("addr", ln.Addr().String()),
		zap.Int("capacity", s.reg.roster.Capacity()))
	return nil
}

// Addr is the bound listen address; nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, stops the registry, drops every open
// connection and waits up to ShutdownTimeout for sessions to finish.
func (s *Server) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("shutting down")

	if s.listener == nil {
		// Never started: no registry loop and no sessions to wait for.
		s.pool.Release()
		return
	}
	_ = s.listener.Close()
	s.acceptWG.Wait()

	s.reg.Stop()
	s.reg.Wait()

	s.conns.Range(func(_, v any) bool {
		_ = v.(net.Conn).Close()
		return true
	})

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := s.pool.ReleaseTimeout(timeout); err != nil {
		s.logger.Warn("sessions still running after shutdown timeout", zap.Error(err))
	}

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.acceptWG.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.spawn(conn)
	}
}

// spawn runs a session without waiting for it.
func (s *Server) spawn(conn net.Conn) {
	c := NewClient(s.nextID.Inc(), conn, s.opts.OutboundQueue)
	s.logger.Info("client connected",
		zap.String("addr", conn.RemoteAddr().String()),
		zap.Uint64("session", c.ID))

	s.conns.Store(c.ID, conn)
	err := s.pool.Submit(func() {
		ActiveSessions.Inc()
		defer func() {
			ActiveSessions.Dec()
			s.conns.Delete(c.ID)
		}()
		HandleSession(c, s.reg, s.opts.Session, s.logger)
	})
	if err != nil {
		s.conns.Delete(c.ID)
		_ = conn.Close()
		s.logger.Warn("session rejected", zap.Uint64("session", c.ID), zap.Error(err))
	}
}
