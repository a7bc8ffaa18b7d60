package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"omniworker/internal/core/errors"
	"omniworker/internal/engine/rpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoCaller struct{}

func (echoCaller) Exports() []string { return []string{"add", "fail"} }

func (echoCaller) Call(_ context.Context, fn string, args []any) (json.RawMessage, error) {
	if fn == "fail" {
		return nil, errors.New(errors.CodeExecutionFailure, "boom")
	}
	sum := 0.0
	for _, a := range args {
		sum += a.(float64)
	}
	return json.Marshal(sum)
}

type staticDispatcher struct {
	mu    sync.Mutex
	proxy *rpc.Proxy
	uses  int
}

func (d *staticDispatcher) Use() (*rpc.Proxy, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proxy == nil {
		return nil, errors.New(errors.CodeUninitialized, "pool is not initialized")
	}
	d.uses++
	return d.proxy, nil
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result map[string]any  `json:"result"`
	Error  *struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	} `json:"error"`
}

func serve(t *testing.T, d *staticDispatcher, limit RateLimit, lines ...string) map[string]response {
	t.Helper()
	var out bytes.Buffer
	s := NewStdio(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, d, limit)
	require.NoError(t, s.Serve(context.Background()))

	byID := map[string]response{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r response
		require.NoError(t, json.Unmarshal([]byte(line), &r), line)
		byID[string(r.ID)] = r
	}
	return byID
}

func TestStdioMethods(t *testing.T) {
	d := &staticDispatcher{proxy: rpc.NewProxy("replica-0", echoCaller{})}
	got := serve(t, d, RateLimit{},
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"functions/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"functions/call","params":{"name":"add","arguments":[2,3]}}`,
		`{"jsonrpc":"2.0","id":4,"method":"functions/call","params":{"name":"fail"}}`,
		`{"jsonrpc":"2.0","id":5,"method":"functions/call","params":{"name":"missing"}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":7,"method":"functions/call","params":{}}`,
		`{"jsonrpc":"2.0","method":"functions/call","params":{"name":"add","arguments":[1]}}`,
	)

	require.Len(t, got, 7)
	assert.Nil(t, got["1"].Error)

	assert.Equal(t, []any{"add", "fail"}, got["2"].Result["functions"])

	require.Nil(t, got["3"].Error)
	assert.Equal(t, float64(5), got["3"].Result["value"])
	assert.Equal(t, "replica-0", got["3"].Result["replica"])

	require.NotNil(t, got["4"].Error)
	assert.Equal(t, codeCallFailed, got["4"].Error.Code)
	assert.Equal(t, "EXECUTION_FAILURE", got["4"].Error.Data["code"])

	require.NotNil(t, got["5"].Error)
	assert.Equal(t, codeMethodNotFound, got["5"].Error.Code)

	require.NotNil(t, got["6"].Error)
	assert.Equal(t, codeMethodNotFound, got["6"].Error.Code)

	require.NotNil(t, got["7"].Error)
	assert.Equal(t, codeInvalidParams, got["7"].Error.Code)

	assert.Equal(t, 5, d.uses)
}

func TestStdioUninitializedPool(t *testing.T) {
	got := serve(t, &staticDispatcher{}, RateLimit{},
		`{"jsonrpc":"2.0","id":"a","method":"functions/call","params":{"name":"add"}}`,
	)
	require.NotNil(t, got[`"a"`].Error)
	assert.Equal(t, codeUnavailable, got[`"a"`].Error.Code)
	assert.Equal(t, "UNINITIALIZED", got[`"a"`].Error.Data["code"])
}

func TestStdioRateLimit(t *testing.T) {
	d := &staticDispatcher{proxy: rpc.NewProxy("replica-0", echoCaller{})}
	got := serve(t, d, RateLimit{Enabled: true, RequestsPerMinute: 1, Burst: 1},
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)
	assert.Nil(t, got["1"].Error)
	require.NotNil(t, got["2"].Error)
	assert.Equal(t, codeRateLimited, got["2"].Error.Code)
}

func TestStdioMalformedInput(t *testing.T) {
	var out bytes.Buffer
	s := NewStdio(strings.NewReader("{not json"), &out, &staticDispatcher{}, RateLimit{})
	require.Error(t, s.Serve(context.Background()))
	assert.Contains(t, out.String(), `"code":-32700`)
}
