package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
)

// RunningServer is an HTTP server bound to a port.
type RunningServer struct {
	Addr   net.Addr
	Port   int
	Server *http.Server
}

// Close gracefully shuts the server down.
func (r *RunningServer) Close(ctx context.Context) error {
	return r.Server.Shutdown(ctx)
}

// startHTTP listens on cfg.Port (0 picks a free port) and serves handler.
func startHTTP(cfg config.ListenerConfig, handler http.Handler) (*RunningServer, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
		}
	}()
	return &RunningServer{
		Addr:   lis.Addr(),
		Port:   lis.Addr().(*net.TCPAddr).Port,
		Server: srv,
	}, nil
}
