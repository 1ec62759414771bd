// Package protocol implements the line-oriented text command protocol
// shared by the nng transport and the interactive shell:
//
//	PUT <key> <value...>   -> OK
//	GET <key>              -> VALUE <value> | NOT_FOUND
//	DELETE <key>           -> OK | NOT_FOUND     (alias DEL)
//	LIST                   -> KEYS <k1> <k2> ...
//	STATS                  -> STATS <json>
//	SWEEP                  -> OK <n>
//
// Keywords are case-insensitive. A PUT value runs to the end of the line and
// may contain spaces. Failures are reported as ERR <message>.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dd0wney/burrowdb/pkg/engine"
)

const (
	ReplyOK       = "OK"
	ReplyNotFound = "NOT_FOUND"
	ReplyValue    = "VALUE"
	ReplyKeys     = "KEYS"
	ReplyStats    = "STATS"
	ReplyErr      = "ERR"
)

var (
	ErrEmptyCommand   = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
)

// UsageError reports a known command with the wrong arguments
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

var usages = map[engine.Op]string{
	engine.OpPut:    "PUT <key> <value>",
	engine.OpGet:    "GET <key>",
	engine.OpDelete: "DELETE <key>",
	engine.OpKeys:   "LIST",
	engine.OpStats:  "STATS",
	engine.OpSweep:  "SWEEP",
}

// Usage returns the syntax line for op
func Usage(op engine.Op) string {
	return usages[op]
}

// Parse turns one line into a command
func Parse(line string) (engine.Command, error) {
	line = strings.TrimRight(line, "\r\n")
	word, rest := cut(strings.TrimLeftFunc(line, unicode.IsSpace))
	if word == "" {
		return engine.Command{}, ErrEmptyCommand
	}

	var op engine.Op
	switch strings.ToUpper(word) {
	case "PUT", "SET":
		op = engine.OpPut
	case "GET":
		op = engine.OpGet
	case "DELETE", "DEL":
		op = engine.OpDelete
	case "LIST", "KEYS":
		op = engine.OpKeys
	case "STATS":
		op = engine.OpStats
	case "SWEEP":
		op = engine.OpSweep
	default:
		return engine.Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, word)
	}

	cmd := engine.Command{Op: op}
	switch op {
	case engine.OpPut:
		key, value := cut(rest)
		if key == "" || value == "" {
			return engine.Command{}, &UsageError{Usage: usages[op]}
		}
		cmd.Key, cmd.Value = key, []byte(value)
	case engine.OpGet, engine.OpDelete:
		key, extra := cut(rest)
		if key == "" || strings.TrimSpace(extra) != "" {
			return engine.Command{}, &UsageError{Usage: usages[op]}
		}
		cmd.Key = key
	default:
		if strings.TrimSpace(rest) != "" {
			return engine.Command{}, &UsageError{Usage: usages[op]}
		}
	}
	return cmd, nil
}

// cut splits off the first whitespace-delimited word. The remainder keeps
// its inner spacing, minus the separator run.
func cut(s string) (word, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

// Format renders the reply line for an executed command
func Format(cmd engine.Command, reply engine.Reply, err error) string {
	if err != nil {
		return FormatError(err)
	}
	switch cmd.Op {
	case engine.OpPut:
		return ReplyOK
	case engine.OpGet:
		if !reply.Result.Found {
			return ReplyNotFound
		}
		return ReplyValue + " " + string(reply.Result.Value)
	case engine.OpDelete:
		if !reply.Result.Found {
			return ReplyNotFound
		}
		return ReplyOK
	case engine.OpKeys:
		if len(reply.Keys) == 0 {
			return ReplyKeys
		}
		return ReplyKeys + " " + strings.Join(reply.Keys, " ")
	case engine.OpStats:
		data, err := json.Marshal(reply.Stats)
		if err != nil {
			return FormatError(err)
		}
		return ReplyStats + " " + string(data)
	case engine.OpSweep:
		return ReplyOK + " " + strconv.Itoa(reply.Swept)
	default:
		return FormatError(fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Op))
	}
}

// FormatError renders an error reply on a single line
func FormatError(err error) string {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return ReplyErr + " " + msg
}

// Handle parses line, submits it and formats the reply
func Handle(ctx context.Context, sub engine.Submitter, line string) string {
	cmd, err := Parse(line)
	if err != nil {
		return FormatError(err)
	}
	reply, err := sub.Submit(ctx, cmd)
	return Format(cmd, reply, err)
}

// Response is a parsed reply line, used by clients
type Response struct {
	Status string
	Body   string
}

// IsError reports whether the server rejected the command
func (r Response) IsError() bool {
	return r.Status == ReplyErr
}

// ParseResponse splits a reply into its status word and body
func ParseResponse(line string) Response {
	line = strings.TrimRight(line, "\r\n")
	status, body, _ := strings.Cut(line, " ")
	return Response{Status: status, Body: body}
}
