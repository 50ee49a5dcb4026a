package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coderunner/internal/cli/command"
	httpclient "coderunner/internal/cli/http"

	"github.com/chzyer/readline"
)

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	if line == "^C" {
		return "", readline.ErrInterrupt
	}
	return line, nil
}

func (r *scriptedReader) SetPrompt(prompt string) { r.prompts = append(r.prompts, prompt) }

type fakeRunner struct {
	codes     []string
	languages []string
}

func (f *fakeRunner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/execute":
		var body struct {
			Code     string `json:"code"`
			Language string `json:"language"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.codes = append(f.codes, body.Code)
		f.languages = append(f.languages, body.Language)
		if body.Code == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":13001,"message":"Code is required"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"output":"4","error":"warn","executionTime":12,"exitCode":0,"status":"ok","truncated":true,"isolation":"namespaced"}}`))
	case "/health":
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"ready":true}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func runSession(t *testing.T, lines ...string) (string, *fakeRunner, *scriptedReader) {
	t.Helper()
	runner := &fakeRunner{}
	server := httptest.NewServer(runner)
	t.Cleanup(server.Close)

	reader := &scriptedReader{lines: lines}
	var out bytes.Buffer
	client := httpclient.New(server.URL, time.Second, -1)
	session := New(client, command.Registry(), reader, &out, true)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String(), runner, reader
}

func TestSession(t *testing.T) {
	cases := []struct {
		name   string
		lines  []string
		verify func(t *testing.T, out string, runner *fakeRunner, reader *scriptedReader)
	}{
		{
			name:  "multi-line snippet",
			lines: []string{"code", "x = 2", "print(x+2)", ".", "exit"},
			verify: func(t *testing.T, out string, runner *fakeRunner, reader *scriptedReader) {
				if len(runner.codes) != 1 || runner.codes[0] != "x = 2\nprint(x+2)" {
					t.Fatalf("codes = %q", runner.codes)
				}
				for _, want := range []string{"4\n", "--- stderr ---\nwarn", "[ok] exit=0 time=12ms (output truncated) isolation=namespaced", "bye"} {
					if !strings.Contains(out, want) {
						t.Fatalf("output missing %q:\n%s", want, out)
					}
				}
				if reader.prompts[len(reader.prompts)-1] != prompt {
					t.Fatalf("prompt not restored: %q", reader.prompts)
				}
			},
		},
		{
			name:  "language setting applies to snippets",
			lines: []string{"code", "print(1)", ".", "set language JavaScript", "show config", "code", "console.log(1)", "."},
			verify: func(t *testing.T, out string, runner *fakeRunner, _ *scriptedReader) {
				if strings.Join(runner.languages, ",") != ",javascript" {
					t.Fatalf("languages = %q", runner.languages)
				}
				for _, want := range []string{"language set to javascript", "language: javascript"} {
					if !strings.Contains(out, want) {
						t.Fatalf("output missing %q:\n%s", want, out)
					}
				}
			},
		},
		{
			name:  "interrupted snippet is discarded",
			lines: []string{"code", "print(1)", "^C"},
			verify: func(t *testing.T, out string, runner *fakeRunner, _ *scriptedReader) {
				if len(runner.codes) != 0 || !strings.Contains(out, "snippet discarded") {
					t.Fatalf("codes = %q out = %s", runner.codes, out)
				}
			},
		},
		{
			name:  "rejection rendered",
			lines: []string{"code", "."},
			verify: func(t *testing.T, out string, _ *fakeRunner, _ *scriptedReader) {
				if !strings.Contains(out, "rejected (HTTP 400): Code is required") {
					t.Fatalf("out = %s", out)
				}
			},
		},
		{
			name:  "plain command pretty printed",
			lines: []string{"health"},
			verify: func(t *testing.T, out string, _ *fakeRunner, _ *scriptedReader) {
				if !strings.Contains(out, "HTTP 200") || !strings.Contains(out, `"ready": true`) {
					t.Fatalf("out = %s", out)
				}
			},
		},
		{
			name:  "system commands",
			lines: []string{"set timeout 3s", "set timeout nope", "show config", "bogus", "help"},
			verify: func(t *testing.T, out string, _ *fakeRunner, _ *scriptedReader) {
				for _, want := range []string{"timeout set to 3s", "invalid duration: nope", "timeout: 3s", "unknown command: bogus", "run <file>"} {
					if !strings.Contains(out, want) {
						t.Fatalf("output missing %q:\n%s", want, out)
					}
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, runner, reader := runSession(t, tc.lines...)
			tc.verify(t, out, runner, reader)
		})
	}
}

func TestCompleter(t *testing.T) {
	completer := Completer(command.Registry())
	candidates, _ := completer.Do([]rune("po"), 2)
	if len(candidates) != 1 || string(candidates[0]) != "licy " {
		t.Fatalf("candidates = %q", candidates)
	}
}
