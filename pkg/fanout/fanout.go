// Package fanout sits between transports and the engine loop. Concurrent
// GETs for the same key share one engine command and all receive its
// result; every other command passes straight through.
package fanout

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/dd0wney/burrowdb/pkg/engine"
)

// Observer is told when a GET joins a read already in flight
type Observer interface {
	Coalesced()
}

type call struct {
	done  chan struct{}
	reply engine.Reply
	err   error
}

// Stats counts engine reads issued and reads served by joining one
type Stats struct {
	Leaders   uint64 `json:"leaders"`
	Coalesced uint64 `json:"coalesced"`
}

// Coalescer is an engine.Submitter that deduplicates in-flight GETs.
//
// A GET that arrives while another GET for the same key is pending waits
// for that one's result. A PUT or DELETE removes the key's pending GET from
// the table before returning, so a GET that starts after a write has
// completed always issues a fresh engine read and never observes the value
// from before the write.
type Coalescer struct {
	next     engine.Submitter
	inflight *skipmap.OrderedMap[string, *call]
	observer Observer

	leaders   atomic.Uint64
	coalesced atomic.Uint64
}

var _ engine.Submitter = (*Coalescer)(nil)

// New wraps next. observer may be nil.
func New(next engine.Submitter, observer Observer) *Coalescer {
	return &Coalescer{
		next:     next,
		inflight: skipmap.New[string, *call](),
		observer: observer,
	}
}

// Submit runs cmd, sharing GET results between concurrent callers
func (c *Coalescer) Submit(ctx context.Context, cmd engine.Command) (engine.Reply, error) {
	switch cmd.Op {
	case engine.OpGet:
		return c.get(ctx, cmd)
	case engine.OpPut, engine.OpDelete:
		reply, err := c.next.Submit(ctx, cmd)
		c.inflight.Delete(cmd.Key)
		return reply, err
	default:
		return c.next.Submit(ctx, cmd)
	}
}

func (c *Coalescer) get(ctx context.Context, cmd engine.Command) (engine.Reply, error) {
	fresh := &call{done: make(chan struct{})}
	cl, loaded := c.inflight.LoadOrStore(cmd.Key, fresh)

	if loaded {
		c.coalesced.Add(1)
		if c.observer != nil {
			c.observer.Coalesced()
		}
	} else {
		c.leaders.Add(1)
		// The engine read must finish even if the leader's caller goes
		// away, since others may be waiting on it.
		go c.lead(context.WithoutCancel(ctx), cmd, cl)
	}

	select {
	case <-cl.done:
		reply := cl.reply
		reply.Result.Value = bytes.Clone(cl.reply.Result.Value)
		return reply, cl.err
	case <-ctx.Done():
		return engine.Reply{}, ctx.Err()
	}
}

func (c *Coalescer) lead(ctx context.Context, cmd engine.Command, cl *call) {
	cl.reply, cl.err = c.next.Submit(ctx, cmd)
	if cur, ok := c.inflight.Load(cmd.Key); ok && cur == cl {
		c.inflight.Delete(cmd.Key)
	}
	close(cl.done)
}

// Pending returns the number of keys with a read in flight
func (c *Coalescer) Pending() int {
	return c.inflight.Len()
}

// Stats returns the coalescing counters
func (c *Coalescer) Stats() Stats {
	return Stats{Leaders: c.leaders.Load(), Coalesced: c.coalesced.Load()}
}
