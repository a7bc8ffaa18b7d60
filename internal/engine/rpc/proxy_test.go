package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"omniworker/internal/core/errors"
)

type stubCaller struct {
	exports []string
	calls   []string
}

func (s *stubCaller) Exports() []string { return s.exports }

func (s *stubCaller) Call(_ context.Context, fn string, args []any) (json.RawMessage, error) {
	s.calls = append(s.calls, fn)
	switch fn {
	case "add":
		a, b := args[0].(int), args[1].(int)
		return json.RawMessage(fmt.Sprintf("%d", a+b)), nil
	case "fail":
		return nil, errors.New(errors.CodeExecutionFailure, "boom")
	default:
		return json.RawMessage("null"), nil
	}
}

func TestProxy_CallAs(t *testing.T) {
	caller := &stubCaller{exports: []string{"add", "fail", "noop"}}
	proxy := NewProxy("w1", caller)

	sum, err := CallAs[int](context.Background(), proxy, "add", 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 5 {
		t.Errorf("expected 5, got %d", sum)
	}

	v, err := proxy.Invoke(context.Background(), "add", 1, 1)
	if err != nil || v.(float64) != 2 {
		t.Errorf("expected generic 2, got %v %v", v, err)
	}

	if _, err := proxy.Call(context.Background(), "fail"); !errors.IsCode(err, errors.CodeExecutionFailure) {
		t.Errorf("expected execution failure, got %v", err)
	}
}

func TestProxy_UnknownFunction(t *testing.T) {
	caller := &stubCaller{exports: []string{"add"}}
	proxy := NewProxy("w1", caller)

	_, err := proxy.Call(context.Background(), "missing")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(caller.calls) != 0 {
		t.Error("unknown functions must not reach the context")
	}
}

func TestContract_Verify(t *testing.T) {
	proxy := NewProxy("w1", &stubCaller{exports: []string{"b", "a"}})

	if got := proxy.Functions(); len(got) != 2 || got[0] != "a" {
		t.Errorf("expected sorted functions, got %v", got)
	}
	if err := (Contract{Functions: []string{"a", "b"}}).Verify(proxy); err != nil {
		t.Errorf("expected contract to hold, got %v", err)
	}

	err := (Contract{Name: "math", Functions: []string{"a", "c", "d"}}).Verify(proxy)
	if !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if want := "[VALIDATION_ERROR] math does not expose required functions: c, d"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
