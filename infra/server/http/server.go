package httpsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/webitel/im-chat-delivery/config"
)

type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger

	// cancel ends every request context, so long polls and sockets let go on shutdown.
	base   context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())

	s := &Server{
		logger: logger,
		base:   base,
		cancel: cancel,
	}
	s.srv = &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Start binds the listener synchronously so a bad address fails app startup.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVE_FAILED", "err", err)
		}
	}()

	s.logger.Info("HTTP_SERVER_STARTED", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	err := s.srv.Shutdown(ctx)
	s.logger.Info("HTTP_SERVER_STOPPED", "err", err)
	return err
}
