// Package server runs the BurrowDB process: listeners, shutdown ordering
// and signal handling.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/burrowdb/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// StopFunc releases one component during shutdown
type StopFunc func(ctx context.Context) error

type stopper struct {
	name string
	fn   StopFunc
}

// GracefulOptions configures a GracefulServer
type GracefulOptions struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          logging.Logger
	// TLS serves HTTPS when set
	TLS *tls.Config
}

// GracefulServer wraps an optional HTTP server and the components behind
// it. Shutdown drains HTTP first, then stops registered components in the
// order they were added.
type GracefulServer struct {
	server   *http.Server
	listener net.Listener
	tls      *tls.Config
	logger   logging.Logger
	timeout  time.Duration

	stoppers     []stopper
	stopMu       sync.Mutex
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error

	configReloadFn ConfigReloadFunc
	configMu       sync.RWMutex
}

// NewGracefulServer creates a server for handler on addr. An empty addr
// runs without HTTP.
func NewGracefulServer(addr string, handler http.Handler, opts GracefulOptions) *GracefulServer {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	gs := &GracefulServer{
		logger:     opts.Logger.With(logging.Component("server")),
		timeout:    opts.ShutdownTimeout,
		tls:        opts.TLS,
		shutdownCh: make(chan struct{}),
	}
	if addr != "" {
		gs.server = &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
	}
	return gs
}

// OnShutdown registers fn to run after HTTP has drained
func (gs *GracefulServer) OnShutdown(name string, fn StopFunc) {
	gs.stopMu.Lock()
	defer gs.stopMu.Unlock()
	gs.stoppers = append(gs.stoppers, stopper{name: name, fn: fn})
}

// Listen binds the HTTP address. Run calls it when needed; calling it
// first lets callers learn the bound port.
func (gs *GracefulServer) Listen() error {
	if gs.server == nil || gs.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", gs.server.Addr, err)
	}
	if gs.tls != nil {
		gs.server.TLSConfig = gs.tls
		ln = tls.NewListener(ln, gs.tls)
	}
	gs.listener = ln
	return nil
}

// Addr returns the bound HTTP address, or "" before Listen or without HTTP
func (gs *GracefulServer) Addr() string {
	if gs.listener == nil {
		return ""
	}
	return gs.listener.Addr().String()
}

// Scheme returns "https" when TLS is configured, otherwise "http"
func (gs *GracefulServer) Scheme() string {
	if gs.tls != nil {
		return "https"
	}
	return "http"
}

// Run serves until ctx is cancelled, SIGINT/SIGTERM arrives or the HTTP
// server fails, then shuts down. SIGHUP triggers ReloadConfig.
func (gs *GracefulServer) Run(ctx context.Context) error {
	if err := gs.Listen(); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	if gs.server != nil {
		gs.logger.Info("HTTP server listening",
			logging.String("addr", gs.Addr()),
			logging.String("scheme", gs.Scheme()))
		go func() {
			if err := gs.server.Serve(gs.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			gs.logger.Info("context cancelled, shutting down")
			return gs.Shutdown()

		case err := <-serveErr:
			gs.logger.Error("HTTP server failed", logging.Error(err))
			return errors.Join(err, gs.Shutdown())

		case <-gs.shutdownCh:
			return gs.Shutdown()

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				gs.logger.Info("received SIGHUP, reloading configuration")
				_ = gs.ReloadConfig()
				continue
			}
			gs.logger.Info("received signal, shutting down", logging.String("signal", sig.String()))
			return gs.Shutdown()
		}
	}
}

// Shutdown drains HTTP and stops registered components. It runs once;
// later calls return the first result.
func (gs *GracefulServer) Shutdown() error {
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", gs.timeout))

		var errs []error
		if gs.server != nil {
			if err := gs.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http: %w", err))
			}
		}

		gs.stopMu.Lock()
		stoppers := gs.stoppers
		gs.stopMu.Unlock()

		for _, s := range stoppers {
			if err := s.fn(ctx); err != nil {
				gs.logger.Error("component failed to stop", logging.String("component", s.name), logging.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
		}

		gs.shutdownErr = errors.Join(errs...)
		if gs.shutdownErr == nil {
			gs.logger.Info("shutdown complete")
		}
	})
	return gs.shutdownErr
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Info("configuration reload requested, but no reload function configured")
		return nil
	}

	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}

	gs.logger.Info("configuration reload complete")
	return nil
}
