// Package hello serves a one-shot greeting to every TCP client so that
// discovery tools can identify a running acquisition node.
package hello

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"sync"
	"time"

	bserrors "github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const (
	componentHello   = "hello"
	writeTimeout     = 5 * time.Second
	DefaultGreeting  = "biosig"
	maxGreetingBytes = math.MaxUint16
)

// GetLogger returns the hello package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("hello")
}

// Server accepts connections, writes the greeting frame and disconnects
type Server struct {
	listen string
	frame  []byte
	log    logger.Logger

	mu   sync.Mutex
	addr net.Addr
	wg   sync.WaitGroup
}

// New returns a server for listen. The greeting is framed once as a
// big-endian uint16 byte length followed by the UTF-8 text.
func New(listen, greeting string, log logger.Logger) (*Server, error) {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	if len(greeting) > maxGreetingBytes {
		return nil, bserrors.Newf("greeting is %d bytes, limit is %d", len(greeting), maxGreetingBytes).
			Component(componentHello).
			Category(bserrors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = GetLogger()
	}
	return &Server{
		listen: listen,
		frame:  Frame(greeting),
		log:    log,
	}, nil
}

// Frame encodes text as a greeting frame
func Frame(text string) []byte {
	frame := make([]byte, 2+len(text))
	binary.BigEndian.PutUint16(frame, uint16(len(text))) //nolint:gosec // G115: length checked by New
	copy(frame[2:], text)
	return frame
}

// Addr returns the bound address once Run is listening, nil before
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens and serves until ctx ends
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return bserrors.New(err).
			Component(componentHello).
			Category(bserrors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx ends, then closes ln and waits for
// in-flight greetings.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.log.Info("hello server listening", logger.String("address", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("hello server stopped")
				return nil
			}
			return bserrors.New(err).
				Component(componentHello).
				Category(bserrors.CategoryNetwork).
				Build()
		}
		s.wg.Go(func() { s.greet(conn) })
	}
}

func (s *Server) greet(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	remote := conn.RemoteAddr().String()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.log.Debug("set write deadline failed", logger.String("remote", remote), logger.Error(err))
		return
	}
	if _, err := conn.Write(s.frame); err != nil {
		s.log.Debug("greeting failed", logger.String("remote", remote), logger.Error(err))
		return
	}
	s.log.Debug("greeted client", logger.String("remote", remote))
}
