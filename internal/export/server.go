package export

import (
	"net"

	"github.com/rs/zerolog"
	nfs "github.com/willscott/go-nfs"
)

// Server provides an NFS v3 server for the merged search path.
type Server struct {
	handler  *Handler
	listener net.Listener
	addr     string
	logger   zerolog.Logger
}

// NewServer creates a new NFS server listening on addr.
func NewServer(handler *Handler, addr string, logger zerolog.Logger) *Server {
	return &Server{
		handler: handler,
		addr:    addr,
		logger:  logger.With().Str("component", "nfs").Logger(),
	}
}

// Start starts the NFS server.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("export", s.handler.name).
		Msg("NFS server started")

	// Run in goroutine
	go func() {
		if err := nfs.Serve(listener, s.handler); err != nil {
			s.logger.Debug().Err(err).Msg("NFS server stopped")
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the NFS server.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Handler returns the NFS handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
