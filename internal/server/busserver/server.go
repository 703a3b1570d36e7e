package busserver

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// Config holds the bus server configuration.
type Config struct {
	// SocketPath is where the Unix domain socket is created.
	SocketPath string

	// SocketMode is applied to the socket file after listen. Zero means
	// 0660: owner and group talk to the bus, nobody else.
	SocketMode os.FileMode
}

// Server hosts the bus handler on a Unix domain socket.
type Server struct {
	path    string
	mode    os.FileMode
	logger  *slog.Logger
	httpSrv *http.Server
	running atomic.Bool
}

// New creates a new bus server around the given handler.
func New(cfg Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.SocketMode
	if mode == 0 {
		mode = 0o660
	}

	return &Server{
		path:   cfg.SocketPath,
		mode:   mode,
		logger: logger,
		httpSrv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe creates the socket and serves until Shutdown. A stale
// socket file left by a crashed process is removed first; the daemon holds
// an exclusive claim on its socket path by configuration, not by lock file.
func (s *Server) ListenAndServe() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, s.mode); err != nil {
		listener.Close()
		os.Remove(s.path)
		return err
	}

	s.running.Store(true)
	s.logger.Info("bus server listening", "socket", s.path)

	err = s.httpSrv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) || !s.running.Load() {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, drains in-flight requests until ctx
// expires, and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	err := s.httpSrv.Shutdown(ctx)
	if removeErr := os.Remove(s.path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) && err == nil {
		err = removeErr
	}

	s.logger.Info("bus server stopped", "socket", s.path)
	return err
}
