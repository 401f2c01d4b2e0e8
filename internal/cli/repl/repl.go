package repl

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codejudger/internal/cli/command"
	httpclient "codejudger/internal/cli/http"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "codejudger> "

// LineReader is the part of readline the session uses.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(string)
	Close() error
}

// Session holds REPL state.
type Session struct {
	client   *httpclient.Client
	runner   *command.Runner
	commands map[string]command.Command
	reader   LineReader
	out      io.Writer
}

// NewReadline builds a line editor with history and command completion.
func NewReadline(historyFile string, commands map[string]command.Command) (*readline.Instance, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands)+4)
	for _, name := range command.Names(commands) {
		items = append(items, readline.PcItem(name))
	}
	items = append(items,
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout")),
		readline.PcItem("show", readline.PcItem("config")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

func New(client *httpclient.Client, runner *command.Runner, commands map[string]command.Command, reader LineReader, out io.Writer) *Session {
	return &Session{
		client:   client,
		runner:   runner,
		commands: commands,
		reader:   reader,
		out:      out,
	}
}

// Run reads commands until exit or EOF.
func (s *Session) Run(ctx context.Context) {
	for {
		s.reader.SetPrompt(prompt)
		line, err := s.reader.Readline()
		if stderrors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !stderrors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}
		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8085")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		if last := s.runner.State().LastSubmissionID; last != "" {
			s.printLine("last submission: %s", last)
		}
	default:
		s.printLine("usage: show config")
	}
}

// handleCommand runs "<command> [id] key=value ...". Long-running commands
// stop on Ctrl-C without leaving the session.
func (s *Session) handleCommand(ctx context.Context, line string) error {
	name, params, err := ParseLine(line, s.commands)
	if err != nil {
		return err
	}
	cmd := s.commands[name]
	applyParamShortcuts(name, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT)
	defer stop()
	return s.runner.Run(runCtx, name, params)
}

// ParseLine splits a REPL line into a command name and its params.
func ParseLine(line string, commands map[string]command.Command) (string, command.Params, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return "", nil, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	cmd, ok := commands[tokens[0]]
	if !ok {
		return "", nil, fmt.Errorf("unknown command: %s", tokens[0])
	}
	params := command.Params{}
	for i, token := range tokens[1:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			if i == 0 && cmd.Positional != "" {
				params.Set(cmd.Positional, token)
				continue
			}
			return "", nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)
	return cmd.Name, params, nil
}

func applyParamShortcuts(name string, params command.Params) {
	if name == command.CmdSubmit && params.Get("source_code") != "" && params.Get("source_file") == "" {
		params.Set("source_file", "_inline_")
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	if params.Get("source_file") == "_inline_" {
		delete(params, "source_file")
	}
	return nil
}

func (s *Session) promptValue(label string) (string, error) {
	s.reader.SetPrompt(label + ": ")
	line, err := s.reader.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) printHelp() {
	s.printLine("usage: <command> [id] key=value ...")
	for _, name := range command.Names(s.commands) {
		s.printLine("  %-8s %s", name, s.commands[name].Usage)
	}
	s.printLine("system: help | exit | set base|timeout | show config")
	s.printLine("examples:")
	s.printLine("  submit lang=cpp file=./main.cpp problem=1 watch=true")
	s.printLine("  submit lang=python file=./a.py cases=./cases.json")
	s.printLine("  status 3f0c...  (defaults to the last submission)")
}

func (s *Session) printLine(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
