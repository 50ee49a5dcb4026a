package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"coderunner/internal/cli/command"
	httpclient "coderunner/internal/cli/http"
	"coderunner/internal/sandbox/result"
	pkgerrors "coderunner/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	prompt         = "runner> "
	continuePrompt = "...     "
	// codeTerminator ends a multi-line snippet.
	codeTerminator = "."
)

// LineReader is the part of a readline instance the session uses.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	in         LineReader
	out        io.Writer
	prettyJSON bool
	language   string
}

func New(client *httpclient.Client, commands map[string]command.Command, in LineReader, out io.Writer, prettyJSON bool) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		in:         in,
		out:        out,
		prettyJSON: prettyJSON,
	}
}

// Completer offers command names for tab completion.
func Completer(commands map[string]command.Command) readline.AutoCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("code"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"),
			readline.PcItem("language", readline.PcItem("python"), readline.PcItem("javascript"))),
		readline.PcItem("show", readline.PcItem("config")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	}
	for _, name := range command.Names(commands) {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) error {
	s.in.SetPrompt(prompt)
	for {
		line, err := s.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return nil
		}
		if err := s.handleLine(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleLine(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	name, args := tokens[0], tokens[1:]
	switch name {
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(args)
	case "show":
		return s.handleShow(args)
	case "code":
		code, err := s.readSnippet()
		if err != nil {
			return err
		}
		req, err := command.ExecuteRequest(code, s.language)
		if err != nil {
			return err
		}
		return s.send(ctx, req)
	}

	cmd, ok := s.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s (try help)", name)
	}
	req, err := command.BuildRequest(cmd, args)
	if err != nil {
		return err
	}
	return s.send(ctx, req)
}

// readSnippet collects lines until a lone terminator.
func (s *Session) readSnippet() (string, error) {
	s.printLine("enter code, finish with a line containing only %q", codeTerminator)
	s.in.SetPrompt(continuePrompt)
	defer s.in.SetPrompt(prompt)

	var lines []string
	for {
		line, err := s.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", fmt.Errorf("snippet discarded")
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		if strings.TrimSpace(line) == codeTerminator || errors.Is(err, io.EOF) {
			if errors.Is(err, io.EOF) && line != "" {
				lines = append(lines, line)
			}
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base <url> | set timeout <duration> | set language <name>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(strings.TrimRight(args[1], "/"))
		s.printLine("base set to %s", s.client.BaseURL())
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil || dur <= 0 {
			return fmt.Errorf("invalid duration: %s", args[1])
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "language":
		s.language = strings.ToLower(args[1])
		s.printLine("language set to %s", s.language)
	default:
		return fmt.Errorf("unknown set target: %s", args[0])
	}
	return nil
}

func (s *Session) handleShow(args []string) error {
	if len(args) != 1 || args[0] != "config" {
		return fmt.Errorf("usage: show config")
	}
	s.printLine("base: %s", s.client.BaseURL())
	s.printLine("timeout: %s", s.client.Timeout())
	language := s.language
	if language == "" {
		language = "(runner default)"
	}
	s.printLine("language: %s", language)
	return nil
}

func (s *Session) send(ctx context.Context, req command.RequestSpec) error {
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Body)
	if err != nil {
		return err
	}
	if req.Path == "/api/v1/execute" && s.renderResult(resp) {
		return nil
	}
	s.renderResponse(resp)
	return nil
}

type envelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
}

// renderResult prints an execute response in a readable form. It reports
// false when the body is not a result envelope.
func (s *Session) renderResult(resp httpclient.ResponseInfo) bool {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return false
	}
	if env.Code != pkgerrors.Success {
		s.printLine("rejected (HTTP %d): %s", resp.StatusCode, env.Message)
		return true
	}
	var res result.SubmissionResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return false
	}
	if res.Output != "" {
		s.printLine("%s", res.Output)
	}
	if res.Error != nil && *res.Error != "" {
		s.printLine("--- stderr ---")
		s.printLine("%s", *res.Error)
	}
	status := fmt.Sprintf("[%s] exit=%d time=%dms", res.Status, res.ExitCode, res.ExecutionTimeMillis)
	if res.Truncated {
		status += " (output truncated)"
	}
	if res.Isolation != "" {
		status += " isolation=" + res.Isolation
	}
	s.printLine("%s", status)
	return true
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  code                enter a multi-line snippet, end with %q", codeTerminator)
	for _, name := range command.Names(s.commands) {
		s.printLine("  %s", s.commands[name].Usage)
	}
	s.printLine("system: help | exit | set base|timeout|language | show config")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
