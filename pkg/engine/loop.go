package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/burrowdb/pkg/logging"
)

// Op names a command accepted by Loop
type Op uint8

const (
	OpPut Op = iota + 1
	OpGet
	OpDelete
	OpKeys
	OpStats
	OpSweep
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "PUT"
	case OpGet:
		return "GET"
	case OpDelete:
		return "DELETE"
	case OpKeys:
		return "LIST"
	case OpStats:
		return "STATS"
	case OpSweep:
		return "SWEEP"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Mutates reports whether the command can change stored state
func (o Op) Mutates() bool {
	return o == OpPut || o == OpDelete || o == OpSweep
}

// Command is one request for the engine
type Command struct {
	Op    Op
	Key   string
	Value []byte
}

// Reply carries the output of a Command. Only the field matching the Op is set.
type Reply struct {
	Result Result
	Keys   []string
	Stats  Stats
	Swept  int
}

// Submitter executes commands. Loop is the canonical implementation; the
// fan-out layer and transports accept any Submitter.
type Submitter interface {
	Submit(ctx context.Context, cmd Command) (Reply, error)
}

// LoopOptions configures a Loop
type LoopOptions struct {
	// QueueSize bounds pending commands; submitters block when it is full
	QueueSize int
	// SweepInterval runs an idle sweep on this period; 0 disables it
	SweepInterval time.Duration
	Logger        logging.Logger
}

const DefaultQueueSize = 1024

type request struct {
	cmd   Command
	reply chan response
}

type response struct {
	reply Reply
	err   error
}

// Loop owns an Engine and runs every command on a single goroutine in
// submission order. Periodic sweeps run on the same goroutine, between
// commands.
type Loop struct {
	engine   *Engine
	queue    chan *request
	interval time.Duration
	logger   logging.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

var _ Submitter = (*Loop)(nil)

// NewLoop wraps e. The Loop takes ownership: e must not be used directly
// afterwards.
func NewLoop(e *Engine, opts LoopOptions) *Loop {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Loop{
		engine:   e,
		queue:    make(chan *request, opts.QueueSize),
		interval: opts.SweepInterval,
		logger:   logger.With(logging.Component("loop")),
		done:     make(chan struct{}),
	}
}

// Start launches the consumer goroutine. It is a no-op after the first call.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	go l.run()
}

func (l *Loop) run() {
	defer close(l.done)

	var tick <-chan time.Time
	if l.interval > 0 {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case req, ok := <-l.queue:
			if !ok {
				return
			}
			reply, err := l.execute(req.cmd)
			req.reply <- response{reply: reply, err: err}
		case <-tick:
			if _, err := l.execute(Command{Op: OpSweep}); err != nil {
				l.logger.Warn("periodic sweep failed", logging.Error(err))
			}
		}
	}
}

func (l *Loop) execute(cmd Command) (Reply, error) {
	var (
		reply Reply
		err   error
	)
	switch cmd.Op {
	case OpPut:
		reply.Result, err = l.engine.Put(cmd.Key, cmd.Value)
	case OpGet:
		reply.Result, err = l.engine.Get(cmd.Key)
	case OpDelete:
		reply.Result, err = l.engine.Delete(cmd.Key)
	case OpKeys:
		reply.Keys, err = l.engine.Keys()
	case OpStats:
		reply.Stats, err = l.engine.Stats()
	case OpSweep:
		reply.Swept, err = l.engine.Sweep()
	default:
		err = fmt.Errorf("unknown command %s", cmd.Op)
	}
	return reply, err
}

// Submit enqueues cmd and waits for its reply. ctx bounds only the wait: a
// command that has been accepted into the queue always runs, even if the
// caller gives up on the reply.
func (l *Loop) Submit(ctx context.Context, cmd Command) (Reply, error) {
	req := &request{cmd: cmd, reply: make(chan response, 1)}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return Reply{}, ErrClosed
	}
	select {
	case l.queue <- req:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return Reply{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.reply, resp.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Close stops accepting commands, finishes the ones already queued and
// closes the engine.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	close(l.queue)
	l.mu.Unlock()

	if started {
		<-l.done
	} else {
		for req := range l.queue {
			req.reply <- response{err: ErrClosed}
		}
	}
	return l.engine.Close()
}

func (l *Loop) Put(ctx context.Context, key string, value []byte) (Result, error) {
	r, err := l.Submit(ctx, Command{Op: OpPut, Key: key, Value: value})
	return r.Result, err
}

func (l *Loop) Get(ctx context.Context, key string) (Result, error) {
	r, err := l.Submit(ctx, Command{Op: OpGet, Key: key})
	return r.Result, err
}

func (l *Loop) Delete(ctx context.Context, key string) (Result, error) {
	r, err := l.Submit(ctx, Command{Op: OpDelete, Key: key})
	return r.Result, err
}

func (l *Loop) Keys(ctx context.Context) ([]string, error) {
	r, err := l.Submit(ctx, Command{Op: OpKeys})
	return r.Keys, err
}

func (l *Loop) Stats(ctx context.Context) (Stats, error) {
	r, err := l.Submit(ctx, Command{Op: OpStats})
	return r.Stats, err
}

func (l *Loop) Sweep(ctx context.Context) (int, error) {
	r, err := l.Submit(ctx, Command{Op: OpSweep})
	return r.Swept, err
}
