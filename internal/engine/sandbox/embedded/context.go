package embedded

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"omniworker/internal/core/errors"
	"omniworker/internal/engine/bundler"
	"omniworker/internal/shared/observability"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

type workItem struct {
	fn     func(vm *goja.Runtime) (json.RawMessage, error)
	result chan workResult
}

type workResult struct {
	value json.RawMessage
	err   error
}

// Context is one goja runtime. The runtime is not goroutine safe, so every
// interaction goes through the executor goroutine.
type Context struct {
	id string
	vm *goja.Runtime

	work   chan workItem
	done   chan struct{}
	exited chan struct{}

	stopOnce   sync.Once
	terminated atomic.Bool

	table   goja.Value
	exports map[string]goja.Callable
	names   []string
}

func newContext() *Context {
	c := &Context{
		id:      uuid.NewString(),
		vm:      goja.New(),
		work:    make(chan workItem),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		exports: make(map[string]goja.Callable),
	}
	observability.ContextsActive.WithLabelValues(launcherName).Inc()
	go c.run()
	return c
}

func (c *Context) ID() string {
	return c.id
}

func (c *Context) Exports() []string {
	return append([]string(nil), c.names...)
}

func (c *Context) Terminated() bool {
	return c.terminated.Load()
}

// Call runs fn inside the runtime. Arguments and the result cross the
// boundary as JSON.
func (c *Context) Call(ctx context.Context, fn string, args []any) (json.RawMessage, error) {
	if c.terminated.Load() {
		return nil, c.terminatedError()
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "arguments are not serializable"), errors.CtxFunction, fn)
	}

	return c.submit(ctx, func(vm *goja.Runtime) (json.RawMessage, error) {
		callable, ok := c.exports[fn]
		if !ok {
			return nil, errors.AddContext(errors.New(errors.CodeNotFound, "function is not exposed by worker"), errors.CtxFunction, fn)
		}

		var decoded []any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationError, "decode arguments")
		}
		values := make([]goja.Value, len(decoded))
		for i, arg := range decoded {
			values[i] = vm.ToValue(arg)
		}

		result, err := callable(c.table, values...)
		if err != nil {
			return nil, c.callError(fn, err)
		}
		result, err = settle(result)
		if err != nil {
			return nil, c.callError(fn, err)
		}
		return stringify(vm, result)
	})
}

// Terminate stops the executor. A call in flight is interrupted.
func (c *Context) Terminate(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.terminated.Store(true)
		c.vm.Interrupt("execution context terminated")
		close(c.done)
		observability.ContextsActive.WithLabelValues(launcherName).Dec()
	})

	select {
	case <-c.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) run() {
	defer close(c.exited)
	for {
		select {
		case <-c.done:
			return
		case item := <-c.work:
			value, err := c.execute(item.fn)
			item.result <- workResult{value: value, err: err}
		}
	}
}

func (c *Context) execute(fn func(vm *goja.Runtime) (json.RawMessage, error)) (value json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeExecutionFailure, fmt.Sprintf("panic in execution context: %v", r))
		}
	}()
	return fn(c.vm)
}

func (c *Context) submit(ctx context.Context, fn func(vm *goja.Runtime) (json.RawMessage, error)) (json.RawMessage, error) {
	item := workItem{fn: fn, result: make(chan workResult, 1)}

	select {
	case c.work <- item:
	case <-c.done:
		return nil, c.terminatedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-item.result:
		return res.value, res.err
	case <-c.exited:
		return nil, c.terminatedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load evaluates the artifact as a CommonJS module and records its
// callable exports.
func (c *Context) load(vm *goja.Runtime, artifact *bundler.Artifact) error {
	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return err
	}

	var exposed goja.Value
	if err := vm.Set("expose", func(call goja.FunctionCall) goja.Value {
		exposed = call.Argument(0)
		return goja.Undefined()
	}); err != nil {
		return err
	}
	require := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		panic(vm.NewGoError(fmt.Errorf("module %q is not available in the embedded runtime", call.Argument(0).String())))
	})
	if err := vm.Set("console", newConsole(vm, c.id)); err != nil {
		return err
	}

	program, err := goja.Compile(artifact.SourcePath, "(function (module, exports, require) {\n"+artifact.Text+"\n})", false)
	if err != nil {
		return err
	}
	wrapperValue, err := vm.RunProgram(program)
	if err != nil {
		return err
	}
	wrapper, ok := goja.AssertFunction(wrapperValue)
	if !ok {
		return fmt.Errorf("artifact wrapper is not callable")
	}
	if _, err := wrapper(goja.Undefined(), module, exports, require); err != nil {
		return err
	}

	table := exposed
	if table == nil || goja.IsUndefined(table) || goja.IsNull(table) {
		table = module.Get("exports")
	}
	table = unwrapDefault(vm, table)
	if table == nil || goja.IsUndefined(table) || goja.IsNull(table) {
		return nil
	}

	obj := table.ToObject(vm)
	for _, key := range obj.Keys() {
		if fn, ok := goja.AssertFunction(obj.Get(key)); ok {
			c.exports[key] = fn
			c.names = append(c.names, key)
		}
	}
	sort.Strings(c.names)
	c.table = obj
	return nil
}

// unwrapDefault returns the default export when it is the only export.
func unwrapDefault(vm *goja.Runtime, table goja.Value) goja.Value {
	if table == nil || goja.IsUndefined(table) || goja.IsNull(table) {
		return table
	}
	obj := table.ToObject(vm)
	keys := obj.Keys()
	if len(keys) != 1 || keys[0] != "default" {
		return table
	}
	def := obj.Get("default")
	if def == nil || goja.IsUndefined(def) || goja.IsNull(def) {
		return table
	}
	if _, isFn := goja.AssertFunction(def); isFn {
		return table
	}
	return def
}

func settle(value goja.Value) (goja.Value, error) {
	if value == nil {
		return goja.Undefined(), nil
	}
	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("%s", describe(promise.Result()))
	default:
		return nil, fmt.Errorf("promise did not settle; the embedded runtime has no event loop")
	}
}

func stringify(vm *goja.Runtime, value goja.Value) (json.RawMessage, error) {
	if value == nil || goja.IsUndefined(value) {
		return json.RawMessage("null"), nil
	}
	stringifyFn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errors.New(errors.CodeInternal, "JSON.stringify is unavailable")
	}
	out, err := stringifyFn(goja.Undefined(), value)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailure, "result is not serializable")
	}
	if out == nil || goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func describe(value goja.Value) string {
	if value == nil || goja.IsUndefined(value) {
		return "undefined"
	}
	if obj, ok := value.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return value.String()
}

func (c *Context) callError(fn string, err error) error {
	msg := err.Error()
	var exception *goja.Exception
	if stderrors.As(err, &exception) {
		msg = describe(exception.Value())
	}
	var interrupted *goja.InterruptedError
	if stderrors.As(err, &interrupted) {
		msg = "call interrupted: execution context terminated"
	}
	wrapped := errors.New(errors.CodeExecutionFailure, strings.TrimSpace(msg))
	wrapped = errors.AddContext(wrapped, errors.CtxFunction, fn)
	return errors.AddContext(wrapped, errors.CtxContext, c.id)
}

func (c *Context) terminatedError() error {
	return errors.AddContext(errors.New(errors.CodeExecutionFailure, "execution context terminated"), errors.CtxContext, c.id)
}

func newConsole(vm *goja.Runtime, id string) *goja.Object {
	console := vm.NewObject()
	levels := map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, level := range levels {
		level := level
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			slog.Log(context.Background(), level, strings.Join(parts, " "), "context", id)
			return goja.Undefined()
		})
	}
	return console
}
