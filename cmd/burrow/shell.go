package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/protocol"
)

const prompt = "burrow> "

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF"))

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

// Executor sends one protocol line and returns the raw reply line
type Executor func(line string) (string, error)

// Shell is the read-eval-print loop
type Shell struct {
	exec Executor
	out  io.Writer
}

func NewShell(exec Executor, out io.Writer) *Shell {
	return &Shell{exec: exec, out: out}
}

func (s *Shell) Banner(target string) {
	fmt.Fprintln(s.out, titleStyle.Render("BurrowDB shell"))
	fmt.Fprintln(s.out, mutedStyle.Render("connected to "+target+". Type HELP for commands, EXIT to quit."))
}

// Run reads lines until EOF or EXIT
func (s *Shell) Run(scanner *bufio.Scanner) {
	for {
		fmt.Fprint(s.out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return
		}
		if !s.Eval(scanner.Text()) {
			return
		}
	}
}

// Eval handles one input line. It returns false when the shell should exit.
func (s *Shell) Eval(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	word, _, _ := strings.Cut(line, " ")
	switch strings.ToUpper(word) {
	case "EXIT", "QUIT":
		return false
	case "HELP", "?":
		fmt.Fprintln(s.out, boxStyle.Render(helpText()))
		return true
	}

	raw, err := s.exec(line)
	if err != nil {
		fmt.Fprintln(s.out, errorStyle.Render("transport error: "+err.Error()))
		return true
	}
	fmt.Fprintln(s.out, render(protocol.ParseResponse(raw)))
	return true
}

func helpText() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Commands"))
	for _, op := range []engine.Op{engine.OpPut, engine.OpGet, engine.OpDelete, engine.OpKeys, engine.OpStats, engine.OpSweep} {
		b.WriteString("\n  " + protocol.Usage(op))
	}
	b.WriteString("\n  HELP\n  EXIT")
	return b.String()
}

func render(r protocol.Response) string {
	switch r.Status {
	case protocol.ReplyOK:
		if r.Body != "" {
			return successStyle.Render("OK") + " " + r.Body
		}
		return successStyle.Render("OK")
	case protocol.ReplyValue:
		return r.Body
	case protocol.ReplyNotFound:
		return mutedStyle.Render("(not found)")
	case protocol.ReplyKeys:
		keys := strings.Fields(r.Body)
		if len(keys) == 0 {
			return mutedStyle.Render("(empty)")
		}
		return strings.Join(keys, "\n") + "\n" + mutedStyle.Render(fmt.Sprintf("(%d keys)", len(keys)))
	case protocol.ReplyStats:
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, []byte(r.Body), "", "  "); err != nil {
			return r.Body
		}
		return boxStyle.Render(pretty.String())
	case protocol.ReplyErr:
		return errorStyle.Render("ERR " + r.Body)
	default:
		return r.Status + " " + r.Body
	}
}
