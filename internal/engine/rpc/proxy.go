package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"omniworker/internal/core/errors"
	"omniworker/internal/shared/observability"
)

// Caller is the message channel into one execution context.
type Caller interface {
	Exports() []string
	Call(ctx context.Context, fn string, args []any) (json.RawMessage, error)
}

// Proxy exposes the functions of one execution context by name.
type Proxy struct {
	owner     string
	caller    Caller
	functions map[string]struct{}
}

func NewProxy(owner string, caller Caller) *Proxy {
	functions := make(map[string]struct{})
	for _, fn := range caller.Exports() {
		functions[fn] = struct{}{}
	}
	return &Proxy{owner: owner, caller: caller, functions: functions}
}

// Owner identifies the worker behind the proxy.
func (p *Proxy) Owner() string {
	return p.owner
}

func (p *Proxy) Has(fn string) bool {
	_, ok := p.functions[fn]
	return ok
}

// Functions returns the exposed function names, sorted.
func (p *Proxy) Functions() []string {
	names := make([]string, 0, len(p.functions))
	for fn := range p.functions {
		names = append(names, fn)
	}
	sort.Strings(names)
	return names
}

// Call invokes fn remotely and returns its JSON-encoded result. ctx bounds
// only the wait: the remote invocation itself always runs to completion.
func (p *Proxy) Call(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	if !p.Has(fn) {
		return nil, errors.AddContext(errors.New(errors.CodeNotFound, "function is not exposed by worker"), errors.CtxFunction, fn)
	}
	if args == nil {
		args = []any{}
	}

	start := time.Now()
	raw, err := p.caller.Call(ctx, fn, args)
	observability.RPCCallDuration.WithLabelValues(fn).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RPCCallFailuresTotal.WithLabelValues(fn, string(errors.CodeOf(err))).Inc()
		return nil, err
	}
	return raw, nil
}

// Invoke calls fn and decodes the result into a generic Go value.
func (p *Proxy) Invoke(ctx context.Context, fn string, args ...any) (any, error) {
	return CallAs[any](ctx, p, fn, args...)
}

// CallAs calls fn and decodes the result into T.
func CallAs[T any](ctx context.Context, p *Proxy, fn string, args ...any) (T, error) {
	var out T
	raw, err := p.Call(ctx, fn, args...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.AddContext(errors.Wrap(err, errors.CodeExecutionFailure, "decode worker result"), errors.CtxFunction, fn)
	}
	return out, nil
}
