package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is an in-memory stand-in for the Adapter contract, used to
// drive Coordinator's state machine without a live etcd/redis backend.
type fakeAdapter struct {
	mu      sync.Mutex
	info    map[string]bool
	master  map[string]string
	inboxes map[string]bool
	queues  map[string][]RawEvent
	failRenew bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		info:    make(map[string]bool),
		master:  make(map[string]string),
		inboxes: make(map[string]bool),
		queues:  make(map[string][]RawEvent),
	}
}

func groupKey(n NodeKey) string {
	return fmt.Sprintf("%s/%s/%s/%s", n.Namespace, n.SysID, n.ModuleID, n.ServerID)
}

func masterGroupKey(ns, sys, mod string) string { return ns + "/" + sys + "/" + mod }

func (f *fakeAdapter) RenewInfo(ctx context.Context, node NodeKey, appName string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRenew {
		return false, fmt.Errorf("renew failed")
	}
	created := !f.info[groupKey(node)]
	f.info[groupKey(node)] = true
	return created, nil
}

func (f *fakeAdapter) DeregisterInfo(ctx context.Context, node NodeKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.info, groupKey(node))
	return nil
}

func (f *fakeAdapter) TryOwnMaster(ctx context.Context, node NodeKey, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := masterGroupKey(node.Namespace, node.SysID, node.ModuleID)
	current, ok := f.master[key]
	if !ok || current == node.ServerID {
		f.master[key] = node.ServerID
		return true, nil
	}
	return false, nil
}

func (f *fakeAdapter) ReleaseMaster(ctx context.Context, node NodeKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := masterGroupKey(node.Namespace, node.SysID, node.ModuleID)
	if f.master[key] == node.ServerID {
		delete(f.master, key)
	}
	return nil
}

func (f *fakeAdapter) GetMaster(ctx context.Context, namespace, sysID, moduleID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.master[masterGroupKey(namespace, sysID, moduleID)], nil
}

func (f *fakeAdapter) ListNodes(ctx context.Context, namespace, sysID, moduleID string) ([]NodeKey, error) {
	return nil, nil
}

func (f *fakeAdapter) EnsureEventInbox(ctx context.Context, node NodeKey, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxes[groupKey(node)] = true
	return nil
}

func (f *fakeAdapter) Emit(ctx context.Context, from, target NodeKey, event string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.inboxes[groupKey(target)] {
		return fmt.Errorf("target not accepting events")
	}
	f.queues[groupKey(target)] = append(f.queues[groupKey(target)], RawEvent{From: from, Type: "emit", Event: event, Payload: payload})
	return nil
}

func (f *fakeAdapter) Broadcast(ctx context.Context, from NodeKey, namespace, sysID, moduleID, event string, payload []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delivered := 0
	for key := range f.inboxes {
		f.queues[key] = append(f.queues[key], RawEvent{From: from, Type: "broadcast", Event: event, Payload: payload})
		delivered++
	}
	return delivered, nil
}

func (f *fakeAdapter) PopEvents(ctx context.Context, node NodeKey, maxItems int) ([]RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := groupKey(node)
	queue := f.queues[key]
	if len(queue) == 0 {
		return nil, nil
	}
	n := maxItems
	if n > len(queue) {
		n = len(queue)
	}
	popped := queue[:n]
	f.queues[key] = queue[n:]
	return popped, nil
}

func (f *fakeAdapter) Close() error { return nil }

func testNode(srv string) NodeKey {
	return NodeKey{Namespace: "ns1", SysID: "sys1", ModuleID: "mod1", ServerID: srv}
}

func TestRegisterFiresAfterRegisterOnce(t *testing.T) {
	adapter := newFakeAdapter()
	calls := 0
	c := New(adapter, Config{
		Node: testNode("01"), AppName: "app", HeartBeat: 5 * time.Millisecond,
		Hooks: Hooks{AfterRegister: func() { calls++ }},
	})

	require.NoError(t, c.Register(context.Background()))
	assert.True(t, c.Registered())
	assert.Equal(t, 1, calls)

	require.NoError(t, c.Deregister(context.Background()))
	assert.False(t, c.Registered())
}

func TestRegisterTwiceFails(t *testing.T) {
	adapter := newFakeAdapter()
	c := New(adapter, Config{Node: testNode("01"), AppName: "app", HeartBeat: time.Second})
	require.NoError(t, c.Register(context.Background()))
	err := c.Register(context.Background())
	assert.Error(t, err)
	require.NoError(t, c.Deregister(context.Background()))
}

func TestSingleMasterAmongTwoNodes(t *testing.T) {
	adapter := newFakeAdapter()
	var masters int
	var mu sync.Mutex

	c1 := New(adapter, Config{Node: testNode("01"), AppName: "app", HeartBeat: time.Second,
		Hooks: Hooks{AfterOwnMaster: func() { mu.Lock(); masters++; mu.Unlock() }}})
	c2 := New(adapter, Config{Node: testNode("02"), AppName: "app", HeartBeat: time.Second,
		Hooks: Hooks{AfterOwnMaster: func() { mu.Lock(); masters++; mu.Unlock() }}})

	require.NoError(t, c1.Register(context.Background()))
	require.NoError(t, c2.Register(context.Background()))

	assert.Equal(t, 1, masters, "at most one node should become master")
	assert.True(t, c1.Master() != c2.Master())

	require.NoError(t, c1.Deregister(context.Background()))
	require.NoError(t, c2.Deregister(context.Background()))
}

func TestLostMasterFiresHookOnDeregister(t *testing.T) {
	adapter := newFakeAdapter()
	lost := 0
	c := New(adapter, Config{Node: testNode("01"), AppName: "app", HeartBeat: time.Second,
		Hooks: Hooks{AfterLostMaster: func() { lost++ }}})

	require.NoError(t, c.Register(context.Background()))
	assert.True(t, c.Master())

	require.NoError(t, c.Deregister(context.Background()))
	assert.Equal(t, 1, lost)
}

func TestEmitFailsWithoutInbox(t *testing.T) {
	adapter := newFakeAdapter()
	c := New(adapter, Config{Node: testNode("01"), AppName: "app"})
	err := c.Emit(context.Background(), testNode("02"), "ping", nil)
	assert.Error(t, err)
}

func TestEmitAndPopViaEventLoop(t *testing.T) {
	adapter := newFakeAdapter()
	received := make(chan string, 1)

	target := New(adapter, Config{
		Node: testNode("02"), AppName: "app", HeartBeat: time.Second,
		EnableEvent: true, EventInterval: 5 * time.Millisecond,
	})
	require.NoError(t, target.RegisterEvent("ping", func(ctx context.Context, evCtx EventContext, event string, payload []byte) {
		received <- string(payload)
	}))
	require.NoError(t, target.Register(context.Background()))
	defer target.Deregister(context.Background())

	require.NoError(t, target.Emit(context.Background(), testNode("02"), "ping", []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("event was never delivered")
	}
}

func TestBroadcastDeliversToAllInboxes(t *testing.T) {
	adapter := newFakeAdapter()
	require.NoError(t, adapter.EnsureEventInbox(context.Background(), testNode("01"), time.Second))
	require.NoError(t, adapter.EnsureEventInbox(context.Background(), testNode("02"), time.Second))

	c := New(adapter, Config{Node: testNode("01"), AppName: "app"})
	delivered, err := c.Broadcast(context.Background(), "sys1", "mod1", "shutdown", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
}

func TestDeregisterWithoutRegisterFails(t *testing.T) {
	adapter := newFakeAdapter()
	c := New(adapter, Config{Node: testNode("01"), AppName: "app"})
	err := c.Deregister(context.Background())
	assert.Error(t, err)
}

// TestClusterElectionWithThreeNodes is scenario 4: bring up three nodes,
// the first to register becomes master; once it deregisters, exactly one
// of the remaining two takes over within a couple of heartbeats.
func TestClusterElectionWithThreeNodes(t *testing.T) {
	adapter := newFakeAdapter()
	ctx := context.Background()

	c1 := New(adapter, Config{Node: testNode("01"), AppName: "app", Expire: 3 * time.Second, HeartBeat: 10 * time.Millisecond})
	c2 := New(adapter, Config{Node: testNode("02"), AppName: "app", Expire: 3 * time.Second, HeartBeat: 10 * time.Millisecond})
	c3 := New(adapter, Config{Node: testNode("03"), AppName: "app", Expire: 3 * time.Second, HeartBeat: 10 * time.Millisecond})

	require.NoError(t, c1.Register(ctx))
	require.NoError(t, c2.Register(ctx))
	require.NoError(t, c3.Register(ctx))

	assert.True(t, c1.Master(), "first node to register should be master")
	assert.False(t, c2.Master())
	assert.False(t, c3.Master())

	require.NoError(t, c1.Deregister(ctx))

	require.Eventually(t, func() bool {
		return c2.Master() != c3.Master()
	}, time.Second, 5*time.Millisecond, "exactly one of the remaining nodes should take over mastership")
	assert.True(t, c2.Master() || c3.Master())

	require.NoError(t, c2.Deregister(ctx))
	require.NoError(t, c3.Deregister(ctx))
}

// TestEventEmitAndBroadcastAcrossThreeNodes is scenario 5: node A emits an
// event to node B and only B observes it with context.from=A; node A then
// broadcasts and all three nodes (A included, since A also holds an inbox)
// observe it.
func TestEventEmitAndBroadcastAcrossThreeNodes(t *testing.T) {
	adapter := newFakeAdapter()
	ctx := context.Background()

	var receivedA, receivedB, receivedC []EventContext
	var mu sync.Mutex
	record := func(dst *[]EventContext) EventHandler {
		return func(ctx context.Context, evCtx EventContext, event string, payload []byte) {
			mu.Lock()
			*dst = append(*dst, evCtx)
			mu.Unlock()
		}
	}

	a := New(adapter, Config{Node: testNode("A"), AppName: "app", EnableEvent: true, EventInterval: 5 * time.Millisecond})
	b := New(adapter, Config{Node: testNode("B"), AppName: "app", EnableEvent: true, EventInterval: 5 * time.Millisecond})
	c := New(adapter, Config{Node: testNode("C"), AppName: "app", EnableEvent: true, EventInterval: 5 * time.Millisecond})

	require.NoError(t, a.RegisterEvent("ev1", record(&receivedA)))
	require.NoError(t, b.RegisterEvent("ev1", record(&receivedB)))
	require.NoError(t, c.RegisterEvent("ev1", record(&receivedC)))
	require.NoError(t, a.RegisterEvent("ev2", record(&receivedA)))
	require.NoError(t, b.RegisterEvent("ev2", record(&receivedB)))
	require.NoError(t, c.RegisterEvent("ev2", record(&receivedC)))

	require.NoError(t, a.Register(ctx))
	require.NoError(t, b.Register(ctx))
	require.NoError(t, c.Register(ctx))
	defer a.Deregister(ctx)
	defer b.Deregister(ctx)
	defer c.Deregister(ctx)

	require.NoError(t, a.Emit(ctx, testNode("B"), "ev1", []byte("hello")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(receivedB) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, testNode("A"), receivedB[0].From)
	assert.Empty(t, receivedA)
	assert.Empty(t, receivedC)
	mu.Unlock()

	delivered, err := a.Broadcast(ctx, "sys1", "mod1", "ev2", []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(receivedA) == 1 && len(receivedB) == 2 && len(receivedC) == 1
	}, time.Second, time.Millisecond)
}

func TestRegisterEventDuplicateFails(t *testing.T) {
	adapter := newFakeAdapter()
	c := New(adapter, Config{Node: testNode("01"), AppName: "app"})
	require.NoError(t, c.RegisterEvent("ping", func(context.Context, EventContext, string, []byte) {}))
	err := c.RegisterEvent("ping", func(context.Context, EventContext, string, []byte) {})
	assert.Error(t, err)
}
