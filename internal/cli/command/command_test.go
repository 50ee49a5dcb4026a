package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRequest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.py")
	if err := os.WriteFile(src, []byte("print(2+2)\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	jsSrc := filepath.Join(dir, "main.js")
	if err := os.WriteFile(jsSrc, []byte("console.log(4)\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	commands := Registry()
	decode := func(t *testing.T, req RequestSpec) ExecutePayload {
		t.Helper()
		var payload ExecutePayload
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return payload
	}

	cases := []struct {
		name    string
		cmd     string
		args    []string
		wantErr string
		verify  func(t *testing.T, req RequestSpec)
	}{
		{
			name: "run file",
			cmd:  "run",
			args: []string{src},
			verify: func(t *testing.T, req RequestSpec) {
				var payload ExecutePayload
				if err := json.Unmarshal(req.Body, &payload); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if req.Method != "POST" || req.Path != "/api/v1/execute" || payload.Code != "print(2+2)\n" {
					t.Fatalf("req = %+v payload = %+v", req, payload)
				}
			},
		},
		{
			name: "run javascript file",
			cmd:  "run",
			args: []string{jsSrc},
			verify: func(t *testing.T, req RequestSpec) {
				if payload := decode(t, req); payload.Language != "javascript" || payload.Code != "console.log(4)\n" {
					t.Fatalf("payload = %+v", payload)
				}
			},
		},
		{
			name: "run with explicit language",
			cmd:  "run",
			args: []string{jsSrc, "python"},
			verify: func(t *testing.T, req RequestSpec) {
				if payload := decode(t, req); payload.Language != "python" {
					t.Fatalf("payload = %+v", payload)
				}
			},
		},
		{name: "run without file", cmd: "run", wantErr: "usage: run"},
		{name: "run missing file", cmd: "run", args: []string{filepath.Join(dir, "nope.py")}, wantErr: "read file failed"},
		{
			name: "policy",
			cmd:  "policy",
			verify: func(t *testing.T, req RequestSpec) {
				if req.Method != "GET" || req.Path != "/api/v1/policy" || req.Body != nil {
					t.Fatalf("req = %+v", req)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := BuildRequest(commands[tc.cmd], tc.args)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			tc.verify(t, req)
		})
	}
}

func TestExecuteRequestOmitsEmptyLanguage(t *testing.T) {
	req, err := ExecuteRequest("print(1)", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(string(req.Body), "language") {
		t.Fatalf("body = %s", req.Body)
	}
	req, err = ExecuteRequest("console.log(1)", "javascript")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(string(req.Body), `"language":"javascript"`) {
		t.Fatalf("body = %s", req.Body)
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names(Registry())
	if strings.Join(names, ",") != "health,policy,run" {
		t.Fatalf("names = %v", names)
	}
}
