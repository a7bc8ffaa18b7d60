package nodeproc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"omniworker/internal/core/errors"
	"omniworker/internal/shared/observability"
)

type request struct {
	ID     int64      `json:"id"`
	Method string     `json:"method"`
	Params callParams `json:"params"`
}

type callParams struct {
	Function string `json:"fn"`
	Args     []any  `json:"args"`
}

type frame struct {
	ID      int64           `json:"id"`
	Ready   bool            `json:"ready,omitempty"`
	Exports []string        `json:"exports,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *string         `json:"error,omitempty"`
}

// Context is one node process running the harness around a worker artifact.
type Context struct {
	id          string
	dir         string
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stopTimeout time.Duration

	names map[string]struct{}
	order []string
	ready chan frame

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan frame
	closed  bool
	writeMu sync.Mutex

	lastStderr atomic.Value
	exited     chan struct{}
	exitErr    error

	stopOnce   sync.Once
	terminated atomic.Bool
}

func (c *Context) ID() string {
	return c.id
}

func (c *Context) Exports() []string {
	return append([]string(nil), c.order...)
}

func (c *Context) Terminated() bool {
	return c.terminated.Load()
}

// Call sends one request frame and waits for the matching response.
func (c *Context) Call(ctx context.Context, fn string, args []any) (json.RawMessage, error) {
	if c.terminated.Load() {
		return nil, c.terminatedError()
	}
	if _, ok := c.names[fn]; !ok {
		return nil, errors.AddContext(errors.New(errors.CodeNotFound, "function is not exposed by worker"), errors.CtxFunction, fn)
	}
	if args == nil {
		args = []any{}
	}

	id := c.nextID.Add(1)
	payload, err := json.Marshal(request{ID: id, Method: "call", Params: callParams{Function: fn, Args: args}})
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "arguments are not serializable"), errors.CtxFunction, fn)
	}

	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.terminatedError()
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_, err = c.stdin.Write(append(payload, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeExecutionFailure, "send request"), errors.CtxContext, c.id)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			wrapped := errors.New(errors.CodeExecutionFailure, *resp.Error)
			wrapped = errors.AddContext(wrapped, errors.CtxFunction, fn)
			return nil, errors.AddContext(wrapped, errors.CtxContext, c.id)
		}
		if len(resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Terminate closes stdin and waits for the harness to exit, killing the
// process once the stop timeout elapses.
func (c *Context) Terminate(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.terminated.Store(true)
		c.writeMu.Lock()
		_ = c.stdin.Close()
		c.writeMu.Unlock()
		observability.ContextsActive.WithLabelValues(launcherName).Dec()
	})

	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()

	select {
	case <-c.exited:
	case <-timer.C:
		slog.Warn("node context did not stop in time, killing", "context", c.id)
		_ = c.cmd.Process.Kill()
		<-c.exited
	case <-ctx.Done():
		_ = c.cmd.Process.Kill()
		return ctx.Err()
	}

	if err := os.RemoveAll(c.dir); err != nil {
		slog.Warn("failed to remove context directory", "context", c.id, "dir", c.dir, "error", err)
	}
	return nil
}

func (c *Context) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Context) readFrames(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			slog.Warn("discarding malformed frame", "context", c.id, "error", err)
			continue
		}
		if f.ID == 0 {
			select {
			case c.ready <- f:
			default:
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (c *Context) logStream(r io.Reader, level slog.Level, stream string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if stream == "stderr" {
			c.lastStderr.Store(line)
		}
		slog.Log(context.Background(), level, line, "context", c.id, "stream", stream)
	}
}

// wait reaps the process once every stream has drained, then fails the
// calls still in flight.
func (c *Context) wait(streams *sync.WaitGroup) {
	streams.Wait()
	err := c.cmd.Wait()

	msg := "execution context exited"
	c.mu.Lock()
	c.closed = true
	c.exitErr = err
	for id, ch := range c.pending {
		ch <- frame{ID: id, Error: &msg}
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !c.terminated.Load() {
		slog.Warn("node context exited unexpectedly", "context", c.id, "error", err)
	}
	close(c.exited)
}

func (c *Context) stderrTail() string {
	if v, ok := c.lastStderr.Load().(string); ok {
		return v
	}
	return ""
}

func (c *Context) terminatedError() error {
	return errors.AddContext(errors.New(errors.CodeExecutionFailure, "execution context terminated"), errors.CtxContext, c.id)
}
