//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	buildPath string
	buildErr  error
	buildOut  []byte
)

// binaryPath builds the CLI once per test run and returns its path.
func binaryPath(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "workflow-agent-bin")
		if err != nil {
			buildErr = err
			return
		}
		buildPath = filepath.Join(dir, "workflow-agent")
		cmd := exec.Command("go", "build", "-o", buildPath, "../cmd/workflow-agent")
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("Failed to build binary: %v\n%s", buildErr, buildOut)
	}
	return buildPath
}

// testEnv is an isolated home with its own config and databases.
type testEnv struct {
	t          *testing.T
	home       string
	configPath string
	tasksDB    string
	runsDB     string
}

// newTestEnv writes a config pointing at fresh databases. llmURL may be
// empty for offline runs.
func newTestEnv(t *testing.T, llmURL string, port int) *testEnv {
	t.Helper()
	home := t.TempDir()
	env := &testEnv{
		t:          t,
		home:       home,
		configPath: filepath.Join(home, "config.toml"),
		tasksDB:    filepath.Join(home, "tasks.db"),
		runsDB:     filepath.Join(home, "runs.db"),
	}

	offline := llmURL == ""
	if offline {
		llmURL = "http://127.0.0.1:1"
	}
	if port == 0 {
		port = 8000
	}

	config := `[general]
project_root = "` + home + `"
database_path = "` + env.tasksDB + `"
log_database_path = "` + env.runsDB + `"

[llm]
base_url = "` + llmURL + `"
model = "mistral:latest"
max_attempts = 1
timeout = "5s"

[classifier]
timeout = "5s"
offline = ` + strconv.FormatBool(offline) + `

[runlog]
max_records = 100

[notifications]
desktop = false

[web]
host = "127.0.0.1"
port = ` + strconv.Itoa(port) + `
`
	if err := os.WriteFile(env.configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return env
}

func (e *testEnv) command(args ...string) *exec.Cmd {
	cmd := exec.Command(binaryPath(e.t), append([]string{"--config", e.configPath}, args...)...)
	cmd.Env = []string{
		"HOME=" + e.home,
		"PATH=" + os.Getenv("PATH"),
	}
	return cmd
}

// run executes the CLI and returns stdout, failing the test on a non-zero exit.
func (e *testEnv) run(args ...string) string {
	e.t.Helper()
	stdout, stderr, err := e.exec(args...)
	if err != nil {
		e.t.Fatalf("workflow-agent %v failed: %v\nstdout:\n%s\nstderr:\n%s", args, err, stdout, stderr)
	}
	return stdout
}

// exec executes the CLI and returns its output and exit error.
func (e *testEnv) exec(args ...string) (string, string, error) {
	cmd := e.command(args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// runJSON executes the CLI and decodes stdout into v.
func (e *testEnv) runJSON(v any, args ...string) {
	e.t.Helper()
	out := e.run(args...)
	if err := json.Unmarshal([]byte(out), v); err != nil {
		e.t.Fatalf("decode output of %v: %v\n%s", args, err, out)
	}
}

// fakeLLM is an OpenAI-compatible server that answers every chat completion
// with the same classification.
type fakeLLM struct {
	*httptest.Server
	mu       sync.Mutex
	content  string
	requests int
}

func newFakeLLM(t *testing.T, content string) *fakeLLM {
	t.Helper()
	f := &fakeLLM{content: content}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/models":
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]any{{"id": "mistral:latest", "object": "model"}},
			})
		case "/v1/chat/completions":
			f.mu.Lock()
			f.requests++
			content := f.content
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1700000000,
				"model":   "mistral:latest",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLLM) setContent(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = content
}

func (f *fakeLLM) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
