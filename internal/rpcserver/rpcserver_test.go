package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/orchestrator"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/role"
)

func newTestServer(t *testing.T) (*Server, *bufio.ReadWriter, func()) {
	t.Helper()

	dir := t.TempDir()
	providers := provider.NewRegistry()
	providers.Register(provider.NewMockProvider())
	roles := role.NewRegistry()

	orch, err := orchestrator.New(filepath.Join(dir, "agents"), 8, providers, roles, event.NewBus())
	require.NoError(t, err)

	sockPath := filepath.Join(dir, "daemon.sock")
	srv := New(sockPath, orch)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	var conn net.Conn
	require.Eventually(t, func() bool {
		var dialErr error
		conn, dialErr = net.Dial("unix", sockPath)
		return dialErr == nil
	}, time.Second, 10*time.Millisecond)

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	cleanup := func() {
		conn.Close()
		cancel()
	}
	return srv, rw, cleanup
}

func call(t *testing.T, rw *bufio.ReadWriter, method string, params any) Response {
	t.Helper()

	paramsRaw, err := json.Marshal(params)
	require.NoError(t, err)
	req := Request{ID: json.RawMessage(`1`), Method: method, Params: paramsRaw}
	line, err := json.Marshal(req)
	require.NoError(t, err)

	_, err = rw.Write(append(line, '\n'))
	require.NoError(t, err)
	require.NoError(t, rw.Flush())

	respLine, err := rw.ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(respLine, &resp))
	return resp
}

func TestAgentCreateThenSend(t *testing.T) {
	_, rw, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, rw, "agent.create", map[string]string{
		"name": "lead", "role": "lead", "provider": "mock", "model": "test-model",
	})
	require.Nil(t, resp.Error)
	created := resp.Result.(map[string]any)
	require.NotEmpty(t, created["agent_id"])

	sendResp := call(t, rw, "agent.send", map[string]any{
		"agent_id": created["agent_id"],
		"prompt":   "hello",
	})
	require.Nil(t, sendResp.Error)
	result := sendResp.Result.(map[string]any)
	assert.Contains(t, result["response"], "hello")
}

func TestAgentTerminateUnknownAgentReturnsNotFound(t *testing.T) {
	_, rw, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, rw, "agent.terminate", map[string]string{"agent_id": "does-not-exist"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not-found", resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	_, rw, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, rw, "agent.bogus", map[string]string{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not-found", resp.Error.Code)
}

func TestSessionListEmpty(t *testing.T) {
	_, rw, cleanup := newTestServer(t)
	defer cleanup()

	resp := call(t, rw, "session.list", map[string]string{})
	require.Nil(t, resp.Error)
	assert.Nil(t, resp.Result)
}
