package transport

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/burrowdb/pkg/coldstore"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/fanout"
	"github.com/dd0wney/burrowdb/pkg/protocol"
)

var urlSeq atomic.Int64

func inprocURL() string {
	return fmt.Sprintf("inproc://burrow-test-%d", urlSeq.Add(1))
}

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()

	cfg := engine.DefaultConfig(t.TempDir())
	cfg.Tier.MaxDocuments = 4
	e, err := engine.Open(cfg, engine.WithColdStore(coldstore.NewMemStore()))
	require.NoError(t, err)

	loop := engine.NewLoop(e, engine.LoopOptions{})
	loop.Start()
	t.Cleanup(func() { _ = loop.Close() })

	srv := NewServer(fanout.New(loop, nil), ServerOptions{URL: inprocURL(), Workers: 4})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	c, err := Dial(srv.URL(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return srv, c
}

func TestRoundTrip(t *testing.T) {
	_, c := startServer(t)

	steps := []struct{ line, want string }{
		{"PUT greeting hello world", "OK"},
		{"GET greeting", "VALUE hello world"},
		{"get missing", "NOT_FOUND"},
		{"PUT other 1", "OK"},
		{"LIST", "KEYS greeting other"},
		{"DEL greeting", "OK"},
		{"DELETE greeting", "NOT_FOUND"},
		{"SWEEP", "OK 0"},
	}
	for _, s := range steps {
		got, err := c.Do(s.line)
		require.NoError(t, err)
		assert.Equal(t, s.want, got, s.line)
	}
}

func TestErrorsTravelAsReplies(t *testing.T) {
	_, c := startServer(t)

	resp, err := c.Exec("FROB x")
	require.NoError(t, err)
	assert.True(t, resp.IsError())
	assert.Contains(t, resp.Body, "unknown command")

	resp, err = c.Exec("GET")
	require.NoError(t, err)
	assert.True(t, resp.IsError())
	assert.Equal(t, "usage: "+protocol.Usage(engine.OpGet), resp.Body)
}

func TestStatsReply(t *testing.T) {
	_, c := startServer(t)

	_, err := c.Do("PUT a 1")
	require.NoError(t, err)

	resp, err := c.Exec("STATS")
	require.NoError(t, err)
	assert.Equal(t, protocol.ReplyStats, resp.Status)
	assert.Contains(t, resp.Body, `"documents":1`)
}

func TestConcurrentClients(t *testing.T) {
	srv, _ := startServer(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Dial(srv.URL(), time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()

			key := fmt.Sprintf("k%d", i)
			for j := range 10 {
				if got, err := c.Do(fmt.Sprintf("PUT %s %d", key, j)); err != nil || got != "OK" {
					errs <- fmt.Errorf("put %s: %q %v", key, got, err)
					return
				}
			}
			if got, err := c.Do("GET " + key); err != nil || got != "VALUE 9" {
				errs <- fmt.Errorf("get %s: %q %v", key, got, err)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestStartTwiceAndStopIdempotent(t *testing.T) {
	srv, _ := startServer(t)

	err := srv.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already running"))

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestDialFailure(t *testing.T) {
	_, err := Dial("tcp://127.0.0.1:1", 100*time.Millisecond)
	assert.Error(t, err)
}
