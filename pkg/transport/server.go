// Package transport serves the text command protocol over an nng REP socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/protocol"
)

const (
	// DefaultWorkers is the number of requests served concurrently
	DefaultWorkers = 8
	// DefaultRequestTimeout bounds one command
	DefaultRequestTimeout = 30 * time.Second
	// DefaultMaxMessageSize fits the default value cap plus the command line
	DefaultMaxMessageSize = engine.DefaultMaxValueSize + engine.MaxKeySize + 64
)

// ServerOptions configures a Server
type ServerOptions struct {
	// URL is the nng listen address, e.g. tcp://127.0.0.1:7071 or inproc://burrow
	URL            string
	Workers        int
	RequestTimeout time.Duration
	MaxMessageSize int
	Logger         logging.Logger
}

// Server answers protocol lines on a REP socket. Each worker owns a socket
// context so several requests can be in flight and meet in the fan-out layer.
type Server struct {
	opts   ServerOptions
	sub    engine.Submitter
	logger logging.Logger

	sock      mangos.Socket
	wg        sync.WaitGroup
	runningMu sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewServer creates a server that submits to sub
func NewServer(sub engine.Submitter, opts ServerOptions) *Server {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Server{
		opts:   opts,
		sub:    sub,
		logger: opts.Logger.With(logging.Component("nng")),
	}
}

// Start binds the socket and launches the workers
func (s *Server) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return errors.New("nng server already running")
	}

	sock, err := rep.NewSocket()
	if err != nil {
		return fmt.Errorf("failed to create REP socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionMaxRecvSize, s.opts.MaxMessageSize); err != nil {
		sock.Close()
		return fmt.Errorf("failed to set max message size: %w", err)
	}
	if err := sock.Listen(s.opts.URL); err != nil {
		sock.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.opts.URL, err)
	}

	contexts := make([]mangos.Context, 0, s.opts.Workers)
	for range s.opts.Workers {
		mctx, err := sock.OpenContext()
		if err != nil {
			sock.Close()
			return fmt.Errorf("failed to open socket context: %w", err)
		}
		contexts = append(contexts, mctx)
	}

	s.sock = sock
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(len(contexts))
	for _, mctx := range contexts {
		go s.serve(mctx)
	}

	s.logger.Info("nng server listening",
		logging.String("url", s.opts.URL),
		logging.Int("workers", s.opts.Workers),
	)
	return nil
}

func (s *Server) serve(mctx mangos.Context) {
	defer s.wg.Done()

	for {
		msg, err := mctx.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			s.logger.Warn("receive failed", logging.Error(err))
			continue
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		reply := protocol.Handle(ctx, s.sub, string(msg))
		cancel()

		if err := mctx.Send([]byte(reply)); err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			s.logger.Warn("send failed", logging.Error(err))
		}
	}
}

// Stop closes the socket and waits for in-flight requests to finish
func (s *Server) Stop() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	err := s.sock.Close()
	s.wg.Wait()
	s.cancel()

	s.logger.Info("nng server stopped")
	return err
}

// URL returns the listen address
func (s *Server) URL() string {
	return s.opts.URL
}
