package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/orchestrator"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/role"
	"github.com/substratai/substrat/pkg/types"
)

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	dir := t.TempDir()
	providers := provider.NewRegistry()
	providers.Register(provider.NewMockProvider())
	roles := role.NewRegistry()

	o, err := orchestrator.New(dir, 8, providers, roles, nil)
	require.NoError(t, err)
	return o
}

func TestCreateRootAgent(t *testing.T) {
	o := newTestOrchestrator(t)

	result, err := o.CreateRootAgent(context.Background(), "lead", "coordinate work", "lead", "mock", "test-model")
	require.NoError(t, err)
	assert.NotEmpty(t, result.AgentID)
	assert.NotEmpty(t, result.SessionID)

	node, err := o.Tree().Get(result.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "lead", node.Name)
	assert.True(t, node.IsRoot())
}

func TestRunTurn_InjectsReplyIntoOriginalSender(t *testing.T) {
	o := newTestOrchestrator(t)

	root, err := o.CreateRootAgent(context.Background(), "lead", "", "lead", "mock", "test-model")
	require.NoError(t, err)

	spawned, err := o.SpawnChild(context.Background(), root.AgentID, "worker-a", "do the thing", "worker")
	require.NoError(t, err)

	// Drain the deferred provider creation for worker-a by running a
	// throwaway turn on the root agent.
	_, err = o.RunTurn(context.Background(), root.AgentID, "drain deferred work")
	require.NoError(t, err)

	_, err = o.SendMessage(context.Background(), root.AgentID, "worker-a", "please do X", true)
	require.NoError(t, err)

	response, err := o.RunTurn(context.Background(), spawned.AgentID, "working on it")
	require.NoError(t, err)
	assert.Contains(t, response, "working on it")

	// The reply should have been injected into lead's inbox rather than
	// only returned as worker-a's turn response.
	inboxResult, err := o.Tools().CheckInbox(context.Background(), root.AgentID)
	require.NoError(t, err)
	require.Len(t, inboxResult.Messages, 1)
	assert.Equal(t, spawned.AgentID, inboxResult.Messages[0].From)
	assert.Equal(t, response, inboxResult.Messages[0].Text)
}

func TestTerminateAgent_RemovesFromTree(t *testing.T) {
	o := newTestOrchestrator(t)

	root, err := o.CreateRootAgent(context.Background(), "solo", "", "worker", "mock", "test-model")
	require.NoError(t, err)

	require.NoError(t, o.TerminateAgent(root.AgentID))
	assert.False(t, o.Tree().Exists(root.AgentID))

	_, err = o.RunTurn(context.Background(), root.AgentID, "hello")
	assert.Error(t, err)
}

func TestTerminateAgent_RefusesWithLiveChildren(t *testing.T) {
	o := newTestOrchestrator(t)

	root, err := o.CreateRootAgent(context.Background(), "lead", "", "lead", "mock", "test-model")
	require.NoError(t, err)
	_, err = o.SpawnChild(context.Background(), root.AgentID, "child", "", "worker")
	require.NoError(t, err)

	err = o.TerminateAgent(root.AgentID)
	assert.Error(t, err)
}

func TestOrchestrator_PublishesAgentCreatedOnBus(t *testing.T) {
	dir := t.TempDir()
	providers := provider.NewRegistry()
	providers.Register(provider.NewMockProvider())
	roles := role.NewRegistry()
	bus := event.NewBus()

	received := make(chan event.Event, 1)
	bus.Subscribe(event.AgentCreated, func(e event.Event) { received <- e })

	o, err := orchestrator.New(dir, 8, providers, roles, bus)
	require.NoError(t, err)

	_, err = o.CreateRootAgent(context.Background(), "root", "", "worker", "mock", "test-model")
	require.NoError(t, err)

	select {
	case e := <-received:
		data, ok := e.Data.(event.AgentCreatedData)
		require.True(t, ok)
		assert.Equal(t, "root", data.Name)
	case <-time.After(time.Second):
		t.Fatal("expected agent.created to be published")
	}
}

func TestRecover_RebuildsTreeAndUndeliveredInbox(t *testing.T) {
	dir := t.TempDir()
	providers := provider.NewRegistry()
	providers.Register(provider.NewMockProvider())
	roles := role.NewRegistry()

	o1, err := orchestrator.New(dir, 8, providers, roles, nil)
	require.NoError(t, err)

	root, err := o1.CreateRootAgent(context.Background(), "lead", "", "lead", "mock", "test-model")
	require.NoError(t, err)
	child, err := o1.SpawnChild(context.Background(), root.AgentID, "worker-a", "", "worker")
	require.NoError(t, err)
	_, err = o1.RunTurn(context.Background(), root.AgentID, "drain deferred work")
	require.NoError(t, err)

	_, err = o1.SendMessage(context.Background(), root.AgentID, "worker-a", "undelivered", false)
	require.NoError(t, err)

	// Simulate a crash/restart: a fresh Orchestrator over the same
	// directory, with empty in-memory tree/inboxes, then Recover.
	o2, err := orchestrator.New(dir, 8, providers, roles, nil)
	require.NoError(t, err)
	require.NoError(t, o2.Recover())

	rootNode, err := o2.Tree().Get(root.AgentID)
	require.NoError(t, err)
	assert.True(t, rootNode.IsRoot())

	childNode, err := o2.Tree().Get(child.AgentID)
	require.NoError(t, err)
	require.NotNil(t, childNode.ParentID)
	assert.Equal(t, root.AgentID, *childNode.ParentID)

	inboxResult, err := o2.Tools().CheckInbox(context.Background(), child.AgentID)
	require.NoError(t, err)
	require.Len(t, inboxResult.Messages, 1)
	assert.Equal(t, "undelivered", inboxResult.Messages[0].Text)
}
