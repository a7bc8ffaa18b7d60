// Package transport serves a worker pool over line-delimited JSON-RPC 2.0.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"omniworker/internal/core/errors"
	"omniworker/internal/core/ports"
	"omniworker/internal/shared/observability"
	"omniworker/internal/shared/util"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeUnavailable    = -32002
	codeCallFailed     = -32001
	codeRateLimited    = -32005
)

// RateLimit mirrors the [serve.rate_limit] config section.
type RateLimit struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type Stdio struct {
	in         io.Reader
	out        io.Writer
	dispatcher ports.Dispatcher
	limiter    *util.Limiter

	writeMu sync.Mutex
	mu      sync.Mutex
	running bool
}

// NewStdio reads requests from in and writes responses to out. Each
// functions/call picks its replica through dispatcher.Use.
func NewStdio(in io.Reader, out io.Writer, dispatcher ports.Dispatcher, limit RateLimit) *Stdio {
	s := &Stdio{in: in, out: out, dispatcher: dispatcher}
	if limit.Enabled && limit.RequestsPerMinute > 0 {
		s.limiter = util.NewLimiterPerMinute(limit.RequestsPerMinute, limit.Burst)
	}
	return s
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type callParams struct {
	Name      string `json:"name"`
	Arguments []any  `json:"arguments"`
}

// Serve blocks until in is exhausted or ctx is cancelled. Calls run
// concurrently; replica selection happens in arrival order.
func (s *Stdio) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(errors.CodeConflict, "stdio transport is already serving")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var calls sync.WaitGroup
	defer calls.Wait()

	decoder := json.NewDecoder(bufio.NewReader(s.in))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			s.reply(rpcResponse{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &rpcError{Code: codeParseError, Message: "Parse error"}})
			return fmt.Errorf("decode request: %w", err)
		}

		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Method == "" {
			s.reply(errorResponse(req.ID, codeInvalidRequest, "Invalid request"))
			observability.TransportRequestsTotal.WithLabelValues("unknown", "invalid").Inc()
			continue
		}

		if s.limiter != nil && !s.limiter.Allow(1) {
			resp := errorResponse(req.ID, codeRateLimited, "Rate limit exceeded")
			resp.Error.Data = map[string]any{"retry_after_ms": s.limiter.RetryAfter().Milliseconds()}
			s.reply(resp)
			observability.TransportRequestsTotal.WithLabelValues(req.Method, "rate_limited").Inc()
			continue
		}

		s.handle(ctx, req, &calls)
	}
}

func (s *Stdio) handle(ctx context.Context, req rpcRequest, calls *sync.WaitGroup) {
	switch req.Method {
	case "notifications/initialized":
		return
	case "ping":
		s.respond(req, map[string]any{}, nil)
	case "functions/list":
		proxy, err := s.dispatcher.Use()
		if err != nil {
			s.respond(req, nil, err)
			return
		}
		s.respond(req, map[string]any{"functions": proxy.Functions()}, nil)
	case "functions/call":
		var params callParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				s.reply(errorResponse(req.ID, codeInvalidParams, "Invalid params: "+err.Error()))
				observability.TransportRequestsTotal.WithLabelValues(req.Method, "invalid").Inc()
				return
			}
		}
		if params.Name == "" {
			s.reply(errorResponse(req.ID, codeInvalidParams, "Invalid params: name is required"))
			observability.TransportRequestsTotal.WithLabelValues(req.Method, "invalid").Inc()
			return
		}

		proxy, err := s.dispatcher.Use()
		if err != nil {
			s.respond(req, nil, err)
			return
		}
		calls.Add(1)
		go func() {
			defer calls.Done()
			result, err := proxy.Call(ctx, params.Name, params.Arguments...)
			if err != nil {
				s.respond(req, nil, err)
				return
			}
			s.respond(req, map[string]any{"value": result, "replica": proxy.Owner()}, nil)
		}()
	default:
		s.reply(errorResponse(req.ID, codeMethodNotFound, "Method not found"))
		observability.TransportRequestsTotal.WithLabelValues(req.Method, "not_found").Inc()
	}
}

// respond stays silent for notifications.
func (s *Stdio) respond(req rpcRequest, result any, err error) {
	if err != nil {
		code := errorCode(err)
		observability.TransportRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		if len(req.ID) == 0 {
			return
		}
		resp := errorResponse(req.ID, code, err.Error())
		resp.Error.Data = map[string]any{"code": string(errors.CodeOf(err))}
		s.reply(resp)
		return
	}
	observability.TransportRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	if len(req.ID) == 0 {
		return
	}
	s.reply(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Stdio) reply(resp rpcResponse) {
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(payload, '\n')); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func errorResponse(id json.RawMessage, code int, msg string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

func errorCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.CodeUninitialized:
		return codeUnavailable
	case errors.CodeNotFound:
		return codeMethodNotFound
	case errors.CodeValidationError:
		return codeInvalidParams
	case errors.CodeExecutionFailure:
		return codeCallFailed
	default:
		return codeInternalError
	}
}
