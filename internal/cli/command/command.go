// Package command maps REPL commands to runner HTTP requests.
package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Command defines a CLI command binding.
type Command struct {
	Name   string
	Usage  string
	Method string
	Path   string
	// Args is the number of positional arguments required.
	Args int
	// Payload builds the JSON body from the positional arguments.
	Payload func(args []string) (interface{}, error)
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method string
	Path   string
	Body   []byte
}

// ExecutePayload is the body of an execute request.
type ExecutePayload struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// Registry returns the HTTP-backed commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:   "run",
			Usage:  "run <file> [lang]   execute a source file",
			Method: "POST",
			Path:   "/api/v1/execute",
			Args:   1,
			Payload: func(args []string) (interface{}, error) {
				code, err := ReadFile(args[0])
				if err != nil {
					return nil, err
				}
				language := LanguageForFile(args[0])
				if len(args) > 1 {
					language = args[1]
				}
				return ExecutePayload{Code: code, Language: language}, nil
			},
		},
		{
			Name:   "policy",
			Usage:  "policy              show allowed capabilities and limits",
			Method: "GET",
			Path:   "/api/v1/policy",
		},
		{
			Name:   "health",
			Usage:  "health              check runner readiness",
			Method: "GET",
			Path:   "/health",
		},
	}
	out := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		out[cmd.Name] = cmd
	}
	return out
}

// Names returns command names in display order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRequest validates args and encodes the body.
func BuildRequest(cmd Command, args []string) (RequestSpec, error) {
	if len(args) < cmd.Args {
		return RequestSpec{}, fmt.Errorf("usage: %s", strings.TrimSpace(cmd.Usage))
	}
	var body []byte
	if cmd.Payload != nil {
		payload, err := cmd.Payload(args)
		if err != nil {
			return RequestSpec{}, err
		}
		body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}
	return RequestSpec{Method: cmd.Method, Path: cmd.Path, Body: body}, nil
}

// ExecuteRequest builds an execute request for inline code. An empty
// language leaves the choice to the runner.
func ExecuteRequest(code, language string) (RequestSpec, error) {
	body, err := json.Marshal(ExecutePayload{Code: code, Language: language})
	if err != nil {
		return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
	}
	return RequestSpec{Method: "POST", Path: "/api/v1/execute", Body: body}, nil
}

// LanguageForFile guesses the runtime from a file extension.
func LanguageForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js", ".cjs":
		return "javascript"
	}
	return ""
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
