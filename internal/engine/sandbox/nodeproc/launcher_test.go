package nodeproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"omniworker/internal/core/errors"
	"omniworker/internal/engine/bundler"
	"omniworker/internal/engine/rpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireNode(t *testing.T) {
	t.Helper()
	if !Available("node") {
		t.Skip("node is not installed")
	}
}

func launchText(t *testing.T, opts Options, text string) *Context {
	t.Helper()
	source := filepath.Join(t.TempDir(), "worker.js")
	ec, err := NewLauncher(opts).Launch(context.Background(), &bundler.Artifact{SourcePath: source, Text: text})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ec.Terminate(context.Background()) })
	return ec.(*Context)
}

func TestNodeContextRoundTrip(t *testing.T) {
	requireNode(t)
	c := launchText(t, Options{}, `
console.log("loaded");
module.exports = {
	add: (a, b) => a + b,
	later: async (x) => ({ value: x * 2 }),
	fail: () => { throw new Error("boom"); },
};`)

	assert.Equal(t, []string{"add", "fail", "later"}, c.Exports())

	proxy := rpc.NewProxy(c.ID(), c)
	sum, err := rpc.CallAs[int](context.Background(), proxy, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	raw, err := proxy.Call(context.Background(), "later", 4)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":8}`, string(raw))

	_, err = proxy.Call(context.Background(), "fail")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeExecutionFailure))
	assert.Contains(t, err.Error(), "boom")
}

func TestNodeContextResolvesExternalsThroughSearchRoots(t *testing.T) {
	requireNode(t)
	root := t.TempDir()
	pkg := filepath.Join(root, "greeter")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "index.js"), []byte(`module.exports = (n) => "hi " + n;`), 0o644))

	c := launchText(t, Options{SearchRoots: []string{root}}, `
const greet = require("greeter");
expose({ greet });`)

	raw, err := c.Call(context.Background(), "greet", []any{"node"})
	require.NoError(t, err)
	assert.Equal(t, `"hi node"`, string(raw))
}

func TestNodeLaunchFailsOnBrokenArtifact(t *testing.T) {
	requireNode(t)
	source := filepath.Join(t.TempDir(), "worker.js")
	_, err := NewLauncher(Options{}).Launch(context.Background(), &bundler.Artifact{SourcePath: source, Text: `throw new Error("load failed");`})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeExecutionFailure))
	assert.Contains(t, err.Error(), "load failed")
}

func TestNodeTerminateFailsPendingCalls(t *testing.T) {
	requireNode(t)
	c := launchText(t, Options{StopTimeout: 200 * time.Millisecond}, `
module.exports = { hang: () => new Promise(() => { setInterval(() => {}, 1000); }) };`)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "hang", nil)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, c.Terminate(context.Background()))
	assert.True(t, c.Terminated())

	select {
	case err := <-done:
		assert.True(t, errors.IsCode(err, errors.CodeExecutionFailure))
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not failed after terminate")
	}

	_, err := os.Stat(c.dir)
	assert.True(t, os.IsNotExist(err))
}

func TestNodeLauncherCapabilities(t *testing.T) {
	l := NewLauncher(Options{})
	assert.Equal(t, "node", l.Name())
	assert.True(t, l.ResolvesExternals())
	assert.False(t, l.SharesProcess())

	_, err := l.Launch(context.Background(), &bundler.Artifact{})
	assert.True(t, errors.IsCode(err, errors.CodeNoBuildOutput))
}
