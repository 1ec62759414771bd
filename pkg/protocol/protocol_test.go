package protocol

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/burrowdb/pkg/engine"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want engine.Command
	}{
		{"PUT k v", engine.Command{Op: engine.OpPut, Key: "k", Value: []byte("v")}},
		{"put greeting hello  world", engine.Command{Op: engine.OpPut, Key: "greeting", Value: []byte("hello  world")}},
		{"  Put   k   {\"a\": 1}\r\n", engine.Command{Op: engine.OpPut, Key: "k", Value: []byte(`{"a": 1}`)}},
		{"SET k v", engine.Command{Op: engine.OpPut, Key: "k", Value: []byte("v")}},
		{"GET k", engine.Command{Op: engine.OpGet, Key: "k"}},
		{"get k\n", engine.Command{Op: engine.OpGet, Key: "k"}},
		{"DELETE k", engine.Command{Op: engine.OpDelete, Key: "k"}},
		{"del k", engine.Command{Op: engine.OpDelete, Key: "k"}},
		{"LIST", engine.Command{Op: engine.OpKeys}},
		{"keys", engine.Command{Op: engine.OpKeys}},
		{"STATS", engine.Command{Op: engine.OpStats}},
		{"sweep", engine.Command{Op: engine.OpSweep}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = Parse("FROB k")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	for _, line := range []string{"PUT", "PUT k", "PUT k   ", "GET", "GET a b", "DELETE", "LIST x", "STATS now"} {
		t.Run(line, func(t *testing.T) {
			_, err := Parse(line)
			var usage *UsageError
			require.ErrorAs(t, err, &usage)
			assert.True(t, strings.HasPrefix(err.Error(), "usage: "))
		})
	}
}

func TestFormat(t *testing.T) {
	put := engine.Command{Op: engine.OpPut, Key: "k", Value: []byte("v")}
	get := engine.Command{Op: engine.OpGet, Key: "k"}
	del := engine.Command{Op: engine.OpDelete, Key: "k"}

	assert.Equal(t, "OK", Format(put, engine.Reply{Result: engine.Result{Found: true}}, nil))
	assert.Equal(t, "VALUE hello world", Format(get, engine.Reply{Result: engine.Result{Found: true, Value: []byte("hello world")}}, nil))
	assert.Equal(t, "NOT_FOUND", Format(get, engine.Reply{}, nil))
	assert.Equal(t, "OK", Format(del, engine.Reply{Result: engine.Result{Found: true}}, nil))
	assert.Equal(t, "NOT_FOUND", Format(del, engine.Reply{}, nil))
	assert.Equal(t, "KEYS a b", Format(engine.Command{Op: engine.OpKeys}, engine.Reply{Keys: []string{"a", "b"}}, nil))
	assert.Equal(t, "KEYS", Format(engine.Command{Op: engine.OpKeys}, engine.Reply{}, nil))
	assert.Equal(t, "OK 3", Format(engine.Command{Op: engine.OpSweep}, engine.Reply{Swept: 3}, nil))

	stats := Format(engine.Command{Op: engine.OpStats}, engine.Reply{Stats: engine.Stats{Documents: 2, Hot: 1}}, nil)
	assert.True(t, strings.HasPrefix(stats, "STATS {"))
	assert.Contains(t, stats, `"documents":2`)

	ioErr := &engine.IOError{Op: "get", Key: "k", Err: errors.New("disk\nfailure")}
	assert.Equal(t, `ERR get "k": disk failure`, Format(get, engine.Reply{}, ioErr))
}

func TestParseResponse(t *testing.T) {
	r := ParseResponse("VALUE hello world\n")
	assert.Equal(t, "VALUE", r.Status)
	assert.Equal(t, "hello world", r.Body)
	assert.False(t, r.IsError())

	r = ParseResponse("ERR usage: GET <key>")
	assert.True(t, r.IsError())
	assert.Equal(t, "usage: GET <key>", r.Body)

	r = ParseResponse("OK")
	assert.Equal(t, "OK", r.Status)
	assert.Empty(t, r.Body)
}

func TestHandle_AgainstLoop(t *testing.T) {
	e, err := engine.Open(engine.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	loop := engine.NewLoop(e, engine.LoopOptions{})
	loop.Start()
	defer loop.Close()
	ctx := context.Background()

	script := []struct{ in, out string }{
		{"PUT a hello there", "OK"},
		{"PUT b 2", "OK"},
		{"GET a", "VALUE hello there"},
		{"GET missing", "NOT_FOUND"},
		{"LIST", "KEYS a b"},
		{"DEL a", "OK"},
		{"DELETE a", "NOT_FOUND"},
		{"GET a", "NOT_FOUND"},
		{"SWEEP", "OK 0"},
		{"NOPE", "ERR unknown command: NOPE"},
		{"GET", "ERR usage: GET <key>"},
	}
	for _, step := range script {
		assert.Equal(t, step.out, Handle(ctx, loop, step.in), step.in)
	}

	stats := ParseResponse(Handle(ctx, loop, "STATS"))
	assert.Equal(t, ReplyStats, stats.Status)
	assert.Contains(t, stats.Body, `"documents":1`)
}
