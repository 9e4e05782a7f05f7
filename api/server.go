// Package api implements the daemon's loopback HTTP surface (spec §6):
// a closed routing table over container, image, and build operations.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wharfd/wharf/build"
	"github.com/wharfd/wharf/container"
	"github.com/wharfd/wharf/image"
)

// DefaultAddr is the daemon's default bind address (spec §6).
const DefaultAddr = "127.0.0.1:2375"

// Server is the daemon supervisor: it owns the listener and the engine
// collaborators the handlers dispatch into. Grounded on the teacher's
// Mux/startDaemonServer/waitForShutdown pattern in mux_server.go, adapted
// from a Unix socket to the spec's loopback TCP wire protocol.
type Server struct {
	Addr     string
	Engine   *container.Engine
	Builds   *build.Executor
	Images   *image.Catalog
	Registry *container.Registry

	listener net.Listener
	httpSrv  *http.Server
}

// NewServer constructs a Server bound to addr (DefaultAddr if empty).
func NewServer(addr string, engine *container.Engine, builds *build.Executor, images *image.Catalog, registry *container.Registry) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{Addr: addr, Engine: engine, Builds: builds, Images: images, Registry: registry}
}

// ListenAndServe binds the TCP listener, starts the reaper and HTTP server,
// and blocks until SIGTERM/SIGINT or ctx is cancelled. On shutdown it
// drains the accept loop and closes the listener but does not touch running
// containers — their supervision continues across daemon restarts because
// state is file-backed (spec §4.8).
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		// Bootstrap failure: the daemon is allowed to panic here (spec §7).
		panic(err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.routes()}

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	defer cancelReaper()
	go s.Engine.Reaper.Run(reaperCtx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api.Server.ListenAndServe", "addr", s.Addr, "pid", os.Getpid())
		serveErr <- s.httpSrv.Serve(listener)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
		slog.Info("api.Server.ListenAndServe: shutdown signal received")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// Ready reports whether addr accepts TCP connections, the readiness check
// the spec's CLI `daemon` subcommand polls for.
func Ready(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
