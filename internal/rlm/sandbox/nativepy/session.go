package nativepy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/student/rlm/internal/rlm/sandbox"
)

// Session drives a single Python subprocess over stdio, following the
// teacher's repl.Manager: one long-lived process per session, one request
// in flight at a time, with inbound "bridge:*" lines interleaved into the
// response stream and serviced synchronously before reading continues.
type Session struct {
	pythonPath    string
	bootstrapPath string
	workDir       string
	config        sandbox.Config
	contextVar    string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr io.ReadCloser

	// dead is set once a timed-out Execute kills the subprocess. The next
	// Execute respawns a fresh process before sending its request, so the
	// caller never has to re-Initialize by hand.
	dead bool

	bridge sandbox.Bridge
	reqID  atomic.Int64
}

// New creates a Session that will launch pythonPath (falling back to
// "python3" if empty) running the embedded bootstrap script.
func New(config sandbox.Config, pythonPath, workDir string) *Session {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	if workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workDir = cwd
		}
	}
	return &Session{pythonPath: pythonPath, workDir: workDir, config: config}
}

// Initialize implements sandbox.Session.
func (s *Session) Initialize(ctx context.Context, contextVar string, bridge sandbox.Bridge) error {
	bootstrapPath, err := findOrExtractBootstrap()
	if err != nil {
		return fmt.Errorf("nativepy: locate bootstrap: %w", err)
	}
	s.bootstrapPath = bootstrapPath
	s.bridge = bridge
	s.contextVar = contextVar

	if err := s.spawn(); err != nil {
		return err
	}

	if _, err := s.call(ctx, methodInitialize, initializeParams{ContextVar: contextVar}); err != nil {
		s.Destroy(ctx)
		return fmt.Errorf("nativepy: initialize: %w", err)
	}
	s.dead = false
	return nil
}

// spawn starts the Python subprocess and wires up its pipes. It is used both
// by Initialize and, after a timeout kills the process, to respawn it
// transparently before the next Execute.
func (s *Session) spawn() error {
	cmd := exec.Command(s.pythonPath, "-u", s.bootstrapPath)
	cmd.Dir = s.workDir
	cmd.Env = append(os.Environ(), sandboxEnv(s.config)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("nativepy: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("nativepy: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("nativepy: stderr pipe: %w", err)
	}

	// Use Command, not CommandContext: the subprocess must outlive any one
	// call's context; Execute kills it explicitly on timeout instead.
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("nativepy: start process: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.stderr = stderr

	go s.drainStderr()
	return nil
}

// respawn replaces a process killed after a timeout with a fresh one,
// re-running the initialize handshake against the session's original
// context variable so the caller sees a live session again.
func (s *Session) respawn(ctx context.Context) error {
	if err := s.spawn(); err != nil {
		return fmt.Errorf("nativepy: respawn: %w", err)
	}
	if _, err := s.call(ctx, methodInitialize, initializeParams{ContextVar: s.contextVar}); err != nil {
		return fmt.Errorf("nativepy: respawn initialize: %w", err)
	}
	s.dead = false
	return nil
}

func (s *Session) drainStderr() {
	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		slog.Debug("nativepy subprocess stderr", "line", scanner.Text())
	}
}

func sandboxEnv(c sandbox.Config) []string {
	env := []string{"RLM_SANDBOX=1"}
	if c.NetworkEnabled {
		env = append(env, "RLM_NETWORK=1")
	}
	return env
}

type initializeParams struct {
	ContextVar string `json:"context_var"`
}

type executeParams struct {
	Code string `json:"code"`
}

type executeResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type getVariableParams struct {
	Name string `json:"name"`
}

type getVariableResult struct {
	Value string `json:"value"`
}

// Execute implements sandbox.Session.
func (s *Session) Execute(ctx context.Context, code string) (sandbox.Result, error) {
	if s.dead {
		if err := s.respawn(ctx); err != nil {
			return sandbox.Result{}, err
		}
	}

	timeout := s.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.call(callCtx, methodExecute, executeParams{Code: code})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			s.killAfterTimeout()
			return sandbox.Result{}, fmt.Errorf("nativepy: execute timeout after %s: %w", timeout, err)
		}
		return sandbox.Result{}, err
	}

	var result executeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return sandbox.Result{}, fmt.Errorf("nativepy: unmarshal execute result: %w", err)
	}
	return sandbox.Result{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Error:    result.Error,
		Duration: time.Duration(result.DurationMS) * time.Millisecond,
	}, nil
}

// GetVariable implements sandbox.Session.
func (s *Session) GetVariable(ctx context.Context, name string) (string, error) {
	resp, err := s.call(ctx, methodGetVariable, getVariableParams{Name: name})
	if err != nil {
		return "", err
	}
	var result getVariableResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("nativepy: unmarshal get_variable result: %w", err)
	}
	return result.Value, nil
}

// Destroy implements sandbox.Session.
func (s *Session) Destroy(ctx context.Context) error {
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.cmd.Process.Kill()
		<-done
	}
	return nil
}

// call sends one request and blocks until its matching response arrives,
// servicing any bridge:* calls that arrive interleaved on the same stream.
func (s *Session) call(ctx context.Context, method string, params any) (*response, error) {
	id := s.reqID.Add(1)
	req, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if _, err := s.stdin.Write(req); err != nil {
		return nil, fmt.Errorf("nativepy: write request: %w", err)
	}
	if _, err := s.stdin.Write([]byte("\n")); err != nil {
		return nil, fmt.Errorf("nativepy: write newline: %w", err)
	}

	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return nil, err
		}
		if isBridgeCall(line) {
			if err := s.serviceBridgeCall(ctx, line); err != nil {
				return nil, fmt.Errorf("nativepy: service bridge call: %w", err)
			}
			continue
		}
		resp, err := decodeResponse(line)
		if err != nil {
			return nil, err
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	}
}

func (s *Session) readLine(ctx context.Context) ([]byte, error) {
	lineCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	// Capture the reader now: if ctx expires the caller may respawn the
	// process (replacing s.stdout) while this goroutine is still blocked
	// reading from the old, killed process's pipe.
	reader := s.stdout
	go func() {
		line, err := reader.ReadString('\n')
		if err != nil {
			errCh <- fmt.Errorf("nativepy: read line: %w", err)
			return
		}
		lineCh <- []byte(line)
	}()
	select {
	case line := <-lineCh:
		return line, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// killAfterTimeout is called once Execute observes its own deadline expire.
// It kills the subprocess outright rather than waiting for it, since a
// timed-out interpreter is assumed wedged, and marks the session dead so the
// next Execute respawns before sending another request.
func (s *Session) killAfterTimeout() {
	s.dead = true
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
}

type bridgeLLMParams struct {
	Prompt string `json:"prompt"`
}

type bridgeRLMParams struct {
	Task    string `json:"task"`
	Context string `json:"context"`
}

type bridgeBatchLLMParams struct {
	Tasks []json.RawMessage `json:"tasks"`
	Kind  string            `json:"kind"` // "llm" or "rlm"
}

// bridgeBatchTaskSpec is one element of a batch_rlm_query call's "tasks"
// array: {"task": ..., "context": ...}.
type bridgeBatchTaskSpec struct {
	Task    string `json:"task"`
	Context string `json:"context"`
}

func (s *Session) serviceBridgeCall(ctx context.Context, line []byte) error {
	method := bridgeMethod(line)
	id := bridgeID(line)

	var result any
	var callErr error

	switch method {
	case bridgeLLM:
		var p bridgeLLMParams
		if err := json.Unmarshal(paramsOf(line), &p); err != nil {
			return err
		}
		var text string
		text, callErr = s.bridge.OnLLMQuery(ctx, p.Prompt)
		result = text

	case bridgeRLM:
		var p bridgeRLMParams
		if err := json.Unmarshal(paramsOf(line), &p); err != nil {
			return err
		}
		var text string
		text, callErr = s.bridge.OnRLMQuery(ctx, p.Task, p.Context)
		result = text

	case bridgeBatchLLM:
		var p bridgeBatchLLMParams
		if err := json.Unmarshal(paramsOf(line), &p); err != nil {
			return err
		}
		if p.Kind == "rlm" {
			tasks := make([]sandbox.BatchTask, len(p.Tasks))
			for i, raw := range p.Tasks {
				var spec bridgeBatchTaskSpec
				if err := json.Unmarshal(raw, &spec); err == nil && spec.Task != "" {
					tasks[i] = sandbox.BatchTask{Task: spec.Task, Context: spec.Context}
					continue
				}
				var plain string
				json.Unmarshal(raw, &plain)
				tasks[i] = sandbox.BatchTask{Task: plain}
			}
			var results []string
			results, callErr = s.bridge.OnBatchRLMQuery(ctx, tasks)
			result = results
		} else {
			prompts := make([]string, len(p.Tasks))
			for i, raw := range p.Tasks {
				json.Unmarshal(raw, &prompts[i])
			}
			var results []string
			results, callErr = batchLLM(ctx, s.bridge, prompts)
			result = results
		}

	default:
		callErr = fmt.Errorf("unknown bridge method %q", method)
	}

	resp, err := encodeBridgeResponse(id, result, callErr)
	if err != nil {
		return err
	}
	if _, err := s.stdin.Write(resp); err != nil {
		return fmt.Errorf("nativepy: write bridge response: %w", err)
	}
	_, err = s.stdin.Write([]byte("\n"))
	return err
}

// batchLLM fans a batch_llm_query call out into sequential OnLLMQuery calls;
// the bounded concurrent fan-out for batch_rlm_query lives in the executor,
// the one place genuine parallelism is allowed.
func batchLLM(ctx context.Context, bridge sandbox.Bridge, prompts []string) ([]string, error) {
	out := make([]string, len(prompts))
	for i, p := range prompts {
		text, err := bridge.OnLLMQuery(ctx, p)
		if err != nil {
			return nil, err
		}
		out[i] = text
	}
	return out, nil
}

func paramsOf(line []byte) []byte {
	var raw struct {
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil
	}
	return raw.Params
}
