// Package cluster implements the framework's Cluster Adapter contract
// (component C7): within a namespace/sys/module group, multiple server
// instances coexist, elect exactly one master, and exchange point-to-point
// or broadcast events over a shared lease-backed key/value store.
package cluster

import (
	"context"
	"sync"
	"time"
)

// EventContext accompanies every delivered event, carrying its kind and the
// coordinates of whoever sent it.
type EventContext struct {
	Type string // "emit" or "broadcast"
	From NodeKey
}

// NodeKey identifies one node within a cluster.
type NodeKey struct {
	Namespace string
	SysID     string
	ModuleID  string
	ServerID  string
}

// EventHandler processes one delivered event.
type EventHandler func(ctx context.Context, evCtx EventContext, event string, payload []byte)

// Hooks are fired on state transitions, never on repeated confirmations of
// the same state.
type Hooks struct {
	AfterRegister   func()
	AfterDeregister func()
	AfterOwnMaster  func()
	AfterLostMaster func()
}

// Adapter is the Cluster Adapter contract. A concrete backend (etcd, redis)
// implements the low-level KV primitives below it; Coordinator (in this
// package) drives the heartbeat/election/event state machine the same way
// regardless of backend.
type Adapter interface {
	// RenewInfo creates or renews the cluster_info(ns,sys,mod,srv) key with
	// the given lease TTL. Returns created=true when the key did not exist
	// before this call (i.e. it had to be (re)created rather than renewed).
	RenewInfo(ctx context.Context, node NodeKey, appName string, ttl time.Duration) (created bool, err error)

	// DeregisterInfo removes the cluster_info key immediately.
	DeregisterInfo(ctx context.Context, node NodeKey) error

	// TryOwnMaster attempts to set cluster_master(ns,sys,mod) to serverID
	// with a not-exists guard; if it already holds the value, extends the
	// lease instead. Returns true when this node is (or remains) master.
	TryOwnMaster(ctx context.Context, node NodeKey, ttl time.Duration) (isMaster bool, err error)

	// ReleaseMaster clears the cluster_master key iff it currently names
	// this node.
	ReleaseMaster(ctx context.Context, node NodeKey) error

	// GetMaster returns the server_id currently holding mastership for the
	// (ns, sys, mod) group, or "" if there is none.
	GetMaster(ctx context.Context, namespace, sysID, moduleID string) (string, error)

	// ListNodes returns every registered node under the namespace, optionally
	// narrowed to a sys_id and/or module_id.
	ListNodes(ctx context.Context, namespace, sysID, moduleID string) ([]NodeKey, error)

	// EnsureEventInbox creates/renews the event_exists marker and the event
	// list key for this node, with the given lease TTL.
	EnsureEventInbox(ctx context.Context, node NodeKey, ttl time.Duration) error

	// Emit right-pushes one event onto the target's event list, failing if
	// the target's event_exists marker is absent. from identifies the
	// sending node, carried into the delivered EventContext.
	Emit(ctx context.Context, from, target NodeKey, event string, payload []byte) error

	// Broadcast enumerates every event_exists marker matching the given
	// namespace (and optional sys_id/module_id) prefix and pushes the event
	// to each. from identifies the sending node.
	Broadcast(ctx context.Context, from NodeKey, namespace, sysID, moduleID string, event string, payload []byte) (delivered int, err error)

	// PopEvents pops up to maxItems entries from this node's own event list.
	PopEvents(ctx context.Context, node NodeKey, maxItems int) ([]RawEvent, error)

	// Close releases any connections held by the adapter.
	Close() error
}

// RawEvent is one undecoded entry popped from a node's event list.
type RawEvent struct {
	From    NodeKey
	Type    string
	Event   string
	Payload []byte
}

// Config configures a Coordinator.
type Config struct {
	Node           NodeKey
	AppName        string
	Expire         time.Duration // lease TTL, default 10s
	HeartBeat      time.Duration // renewal period, default 4s
	EnableEvent    bool
	EventInterval  time.Duration // default 2s
	EventEachGet   int           // default 10
	Hooks          Hooks
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Expire <= 0 {
		out.Expire = 10 * time.Second
	}
	if out.HeartBeat <= 0 {
		out.HeartBeat = 4 * time.Second
	}
	if out.EventInterval <= 0 {
		out.EventInterval = 2 * time.Second
	}
	if out.EventEachGet <= 0 {
		out.EventEachGet = 10
	}
	return out
}

// Coordinator drives the register/heartbeat/mastership/event state machine
// described by the framework's cluster contract over a pluggable Adapter.
// State transitions are guarded by two reentrant-in-spirit mutexes
// (registration, mastership) so hooks fire exactly once per transition,
// mirroring the contract's concurrency guarantee.
type Coordinator struct {
	adapter Adapter
	cfg     Config

	eventFuncs  map[string]EventHandler
	eventFuncMu sync.RWMutex

	regMu      sync.Mutex
	registered bool

	masterMu sync.Mutex
	isMaster bool

	startHeartbeat bool
	stopHeartbeat  context.CancelFunc
	stopEvents     context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Coordinator. The heartbeat (and, if enabled, event) timers
// are started by Register, not by New.
func New(adapter Adapter, cfg Config) *Coordinator {
	return &Coordinator{
		adapter:    adapter,
		cfg:        cfg.withDefaults(),
		eventFuncs: make(map[string]EventHandler),
	}
}

// Registered reports whether the node currently holds its cluster_info lease.
func (c *Coordinator) Registered() bool {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return c.registered
}

// Master reports whether this node currently holds (ns, sys, mod) mastership.
func (c *Coordinator) Master() bool {
	c.masterMu.Lock()
	defer c.masterMu.Unlock()
	return c.isMaster
}

// RegisterEvent associates an event name with a handler. Duplicate
// registration of the same event name fails.
func (c *Coordinator) RegisterEvent(event string, handler EventHandler) error {
	c.eventFuncMu.Lock()
	defer c.eventFuncMu.Unlock()
	if _, exists := c.eventFuncs[event]; exists {
		return errAlreadyRegistered(event)
	}
	c.eventFuncs[event] = handler
	return nil
}

// DeregisterEvent removes an event handler.
func (c *Coordinator) DeregisterEvent(event string) {
	c.eventFuncMu.Lock()
	defer c.eventFuncMu.Unlock()
	delete(c.eventFuncs, event)
}

// Register performs the initial cluster registration, then starts the
// background heartbeat (and event, if enabled) timers. Calling Register
// again while already started is a no-op error, matching the contract's
// "server is registered" guard.
func (c *Coordinator) Register(ctx context.Context) error {
	if c.startHeartbeat {
		return errAlreadyStarted()
	}

	if !c.registerOnce(ctx) {
		return errRegisterFailed()
	}
	c.startHeartbeat = true
	c.tryOwnMaster(ctx)

	hbCtx, cancel := context.WithCancel(context.Background())
	c.stopHeartbeat = cancel
	c.wg.Add(1)
	go c.heartbeatLoop(hbCtx)

	if c.cfg.EnableEvent {
		evCtx, evCancel := context.WithCancel(context.Background())
		c.stopEvents = evCancel
		if err := c.adapter.EnsureEventInbox(ctx, c.cfg.Node, c.cfg.Expire); err != nil {
			return err
		}
		c.wg.Add(1)
		go c.eventLoop(evCtx)
	}

	return nil
}

// Deregister stops the heartbeat/event loops, releases mastership and
// removes the node's cluster_info key. An error from removing cluster_info
// is returned; the loops stay stopped and the node is marked unregistered
// either way.
func (c *Coordinator) Deregister(ctx context.Context) error {
	if !c.startHeartbeat {
		return errNotStarted()
	}
	c.startHeartbeat = false

	if c.stopHeartbeat != nil {
		c.stopHeartbeat()
	}
	if c.stopEvents != nil {
		c.stopEvents()
	}
	c.wg.Wait()

	c.releaseMaster(ctx)
	return c.deregisterOnce(ctx)
}

// Emit sends one event to a specific node, identifying this coordinator's
// own node as the sender.
func (c *Coordinator) Emit(ctx context.Context, target NodeKey, event string, payload []byte) error {
	return c.adapter.Emit(ctx, c.cfg.Node, target, event, payload)
}

// Broadcast sends one event to every node matching the namespace (and
// optional sys/module) prefix, identifying this coordinator's own node as
// the sender.
func (c *Coordinator) Broadcast(ctx context.Context, sysID, moduleID, event string, payload []byte) (int, error) {
	return c.adapter.Broadcast(ctx, c.cfg.Node, c.cfg.Node.Namespace, sysID, moduleID, event, payload)
}

// GetClusterMaster reports the current master's coordinates and app name
// (app name is only known locally, so only server_id/master are populated
// here; callers that need app_name should resolve it via ListNodes/info).
func (c *Coordinator) GetClusterMaster(ctx context.Context, namespace, sysID, moduleID string) (serverID string, err error) {
	return c.adapter.GetMaster(ctx, namespace, sysID, moduleID)
}

// GetClusterList returns every node registered under namespace, optionally
// narrowed by sys/module id.
func (c *Coordinator) GetClusterList(ctx context.Context, namespace, sysID, moduleID string) ([]NodeKey, error) {
	return c.adapter.ListNodes(ctx, namespace, sysID, moduleID)
}

func (c *Coordinator) registerOnce(ctx context.Context) bool {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	_, err := c.adapter.RenewInfo(ctx, c.cfg.Node, c.cfg.AppName, c.cfg.Expire)
	ok := err == nil

	if ok && !c.registered {
		c.registered = true
		if c.cfg.Hooks.AfterRegister != nil {
			c.cfg.Hooks.AfterRegister()
		}
	} else if !ok && c.registered {
		c.registered = false
		if c.cfg.Hooks.AfterDeregister != nil {
			c.cfg.Hooks.AfterDeregister()
		}
	}
	return ok
}

func (c *Coordinator) deregisterOnce(ctx context.Context) error {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	if !c.registered {
		return nil
	}
	err := c.adapter.DeregisterInfo(ctx, c.cfg.Node)
	c.registered = false
	if c.cfg.Hooks.AfterDeregister != nil {
		c.cfg.Hooks.AfterDeregister()
	}
	return err
}

func (c *Coordinator) tryOwnMaster(ctx context.Context) {
	c.masterMu.Lock()
	defer c.masterMu.Unlock()

	isMaster, err := c.adapter.TryOwnMaster(ctx, c.cfg.Node, c.cfg.Expire)
	if err != nil {
		isMaster = false
	}

	if isMaster && !c.isMaster {
		c.isMaster = true
		if c.cfg.Hooks.AfterOwnMaster != nil {
			c.cfg.Hooks.AfterOwnMaster()
		}
	} else if !isMaster && c.isMaster {
		c.isMaster = false
		if c.cfg.Hooks.AfterLostMaster != nil {
			c.cfg.Hooks.AfterLostMaster()
		}
	}
}

func (c *Coordinator) releaseMaster(ctx context.Context) {
	c.masterMu.Lock()
	defer c.masterMu.Unlock()

	if !c.isMaster {
		return
	}
	_ = c.adapter.ReleaseMaster(ctx, c.cfg.Node)
	c.isMaster = false
	if c.cfg.Hooks.AfterLostMaster != nil {
		c.cfg.Hooks.AfterLostMaster()
	}
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartBeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.startHeartbeat {
				return
			}
			if c.registerOnce(ctx) {
				c.tryOwnMaster(ctx)
				if c.cfg.EnableEvent {
					_ = c.adapter.EnsureEventInbox(ctx, c.cfg.Node, c.cfg.Expire)
				}
			}
		}
	}
}

func (c *Coordinator) eventLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.EventInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := c.adapter.PopEvents(ctx, c.cfg.Node, c.cfg.EventEachGet)
			if err != nil || len(events) == 0 {
				continue
			}
			for _, ev := range events {
				c.dispatch(ctx, ev)
			}
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, ev RawEvent) {
	c.eventFuncMu.RLock()
	handler, ok := c.eventFuncs[ev.Event]
	c.eventFuncMu.RUnlock()
	if !ok {
		return
	}
	handler(ctx, EventContext{Type: ev.Type, From: ev.From}, ev.Event, ev.Payload)
}
