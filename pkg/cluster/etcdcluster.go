package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd is the reference Cluster Adapter backend: cluster_info / cluster_master
// / cluster_event_exists / cluster_event live as leased etcd keys, grounded
// on the same client wiring pattern used by pkg/naming's etcd adapter
// (Grant/Put/KeepAlive over clientv3).
type Etcd struct {
	client *clientv3.Client
	log    *slog.Logger
}

// NewEtcd wraps an etcd client as a cluster.Adapter.
func NewEtcd(client *clientv3.Client, log *slog.Logger) *Etcd {
	if log == nil {
		log = slog.Default()
	}
	return &Etcd{client: client, log: log}
}

func (e *Etcd) grantLease(ctx context.Context, ttl time.Duration) (clientv3.LeaseID, error) {
	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	grant, err := e.client.Grant(ctx, seconds)
	if err != nil {
		return 0, err
	}
	return grant.ID, nil
}

// RenewInfo creates or renews the cluster_info key for node. There is no
// server-side "renew in place" for an arbitrary value in plain etcd, so
// renewal is implemented as re-Put under a freshly granted lease; "created"
// reports whether the key was previously absent.
func (e *Etcd) RenewInfo(ctx context.Context, node NodeKey, appName string, ttl time.Duration) (bool, error) {
	key := etcdInfoKey(node)

	existing, err := e.client.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cluster: get info: %w", err)
	}
	created := len(existing.Kvs) == 0

	leaseID, err := e.grantLease(ctx, ttl)
	if err != nil {
		return created, fmt.Errorf("cluster: grant info lease: %w", err)
	}
	if _, err := e.client.Put(ctx, key, appName, clientv3.WithLease(leaseID)); err != nil {
		return created, fmt.Errorf("cluster: put info: %w", err)
	}
	return created, nil
}

// DeregisterInfo deletes the cluster_info key immediately.
func (e *Etcd) DeregisterInfo(ctx context.Context, node NodeKey) error {
	_, err := e.client.Delete(ctx, etcdInfoKey(node))
	return err
}

// TryOwnMaster implements the not-exists-guarded master election: a
// transaction that Puts the master key with our server_id only if the key's
// create revision is zero (absent); on failure, reads the existing value
// and, if it already names this node, extends the lease instead.
func (e *Etcd) TryOwnMaster(ctx context.Context, node NodeKey, ttl time.Duration) (bool, error) {
	key := etcdMasterKey(node.Namespace, node.SysID, node.ModuleID)
	leaseID, err := e.grantLease(ctx, ttl)
	if err != nil {
		return false, fmt.Errorf("cluster: grant master lease: %w", err)
	}

	txn := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, node.ServerID, clientv3.WithLease(leaseID)))
	resp, err := txn.Commit()
	if err != nil {
		return false, fmt.Errorf("cluster: master txn: %w", err)
	}
	if resp.Succeeded {
		return true, nil
	}

	current, err := e.client.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cluster: get master: %w", err)
	}
	if len(current.Kvs) == 0 {
		return false, nil
	}
	if string(current.Kvs[0].Value) != node.ServerID {
		return false, nil
	}

	// already master: extend the lease by re-putting under a fresh one.
	if _, err := e.client.Put(ctx, key, node.ServerID, clientv3.WithLease(leaseID)); err != nil {
		return false, fmt.Errorf("cluster: extend master lease: %w", err)
	}
	return true, nil
}

// ReleaseMaster clears the master key iff it currently names this node.
func (e *Etcd) ReleaseMaster(ctx context.Context, node NodeKey) error {
	key := etcdMasterKey(node.Namespace, node.SysID, node.ModuleID)
	current, err := e.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("cluster: get master for release: %w", err)
	}
	if len(current.Kvs) == 0 || string(current.Kvs[0].Value) != node.ServerID {
		return nil
	}
	_, err = e.client.Delete(ctx, key)
	return err
}

// GetMaster returns the server_id currently holding mastership, or "".
func (e *Etcd) GetMaster(ctx context.Context, namespace, sysID, moduleID string) (string, error) {
	resp, err := e.client.Get(ctx, etcdMasterKey(namespace, sysID, moduleID))
	if err != nil {
		return "", fmt.Errorf("cluster: get master: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// ListNodes enumerates every cluster_info key under the namespace (and
// optional sys/module) prefix. The distinct "cluster_info" group token
// already scopes the scan away from the master/event_exists/event
// families, which live under their own group tokens.
func (e *Etcd) ListNodes(ctx context.Context, namespace, sysID, moduleID string) ([]NodeKey, error) {
	prefix := etcdInfoPrefix(namespace, sysID, moduleID)
	resp, err := e.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("cluster: list nodes: %w", err)
	}

	var nodes []NodeKey
	for _, kv := range resp.Kvs {
		segments := strings.Split(strings.TrimPrefix(string(kv.Key), "/"), "/")
		// cluster_info/ns/sys/mod/srv
		if len(segments) != 5 {
			continue
		}
		nodes = append(nodes, NodeKey{
			Namespace: segments[1],
			SysID:     segments[2],
			ModuleID:  segments[3],
			ServerID:  segments[4],
		})
	}
	return nodes, nil
}

// EnsureEventInbox (re)creates the event_exists marker and the (possibly
// already populated) event list key under a fresh lease.
func (e *Etcd) EnsureEventInbox(ctx context.Context, node NodeKey, ttl time.Duration) error {
	leaseID, err := e.grantLease(ctx, ttl)
	if err != nil {
		return fmt.Errorf("cluster: grant event lease: %w", err)
	}
	if _, err := e.client.Put(ctx, etcdEventExistsKey(node), "1", clientv3.WithLease(leaseID)); err != nil {
		return fmt.Errorf("cluster: put event_exists: %w", err)
	}

	existing, err := e.client.Get(ctx, etcdEventListKey(node))
	if err != nil {
		return fmt.Errorf("cluster: get event list: %w", err)
	}
	payload := "[]"
	if len(existing.Kvs) > 0 {
		payload = string(existing.Kvs[0].Value)
	}
	if _, err := e.client.Put(ctx, etcdEventListKey(node), payload, clientv3.WithLease(leaseID)); err != nil {
		return fmt.Errorf("cluster: put event list: %w", err)
	}
	return nil
}

// Emit right-pushes one event onto target's list, refreshing its TTL on the
// first push. Fails when target's event_exists marker is absent (not
// accepting events).
func (e *Etcd) Emit(ctx context.Context, from, target NodeKey, event string, payload []byte) error {
	exists, err := e.client.Get(ctx, etcdEventExistsKey(target))
	if err != nil {
		return fmt.Errorf("cluster: check event_exists: %w", err)
	}
	if len(exists.Kvs) == 0 {
		return fmt.Errorf("cluster: target %s/%s/%s/%s is not accepting events", target.Namespace, target.SysID, target.ModuleID, target.ServerID)
	}

	queue, err := e.loadQueue(ctx, target)
	if err != nil {
		return err
	}
	queue = append(queue, encodeRaw(from, "emit", event, payload))
	return e.storeQueue(ctx, target, queue, exists.Kvs[0].Lease)
}

// Broadcast pushes the event to every matched event_exists marker's queue.
func (e *Etcd) Broadcast(ctx context.Context, from NodeKey, namespace, sysID, moduleID, event string, payload []byte) (int, error) {
	prefix := etcdEventExistsPrefix(namespace, sysID, moduleID)
	resp, err := e.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("cluster: enumerate event_exists: %w", err)
	}

	delivered := 0
	for _, kv := range resp.Kvs {
		node, ok := nodeFromEventExistsKey(string(kv.Key))
		if !ok {
			continue
		}
		queue, err := e.loadQueue(ctx, node)
		if err != nil {
			e.log.Warn("cluster: broadcast load queue failed", "node", node, "error", err)
			continue
		}
		queue = append(queue, encodeRaw(from, "broadcast", event, payload))
		if err := e.storeQueue(ctx, node, queue, kv.Lease); err != nil {
			e.log.Warn("cluster: broadcast store queue failed", "node", node, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// PopEvents pops up to maxItems entries from this node's own event list.
func (e *Etcd) PopEvents(ctx context.Context, node NodeKey, maxItems int) ([]RawEvent, error) {
	resp, err := e.client.Get(ctx, etcdEventListKey(node))
	if err != nil {
		return nil, fmt.Errorf("cluster: get events: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	queue := decodeQueue(resp.Kvs[0].Value)
	if len(queue) == 0 {
		return nil, nil
	}

	n := maxItems
	if n > len(queue) {
		n = len(queue)
	}
	popped := queue[:n]
	remaining := queue[n:]

	if _, err := e.client.Put(ctx, etcdEventListKey(node), encodeQueue(remaining), clientv3.WithLease(resp.Kvs[0].Lease)); err != nil {
		return nil, fmt.Errorf("cluster: rewrite events after pop: %w", err)
	}

	out := make([]RawEvent, 0, len(popped))
	for _, raw := range popped {
		out = append(out, raw.toEvent())
	}
	return out, nil
}

// Close closes the underlying etcd client.
func (e *Etcd) Close() error {
	return e.client.Close()
}

func (e *Etcd) loadQueue(ctx context.Context, node NodeKey) ([]rawEnvelope, error) {
	resp, err := e.client.Get(ctx, etcdEventListKey(node))
	if err != nil {
		return nil, fmt.Errorf("cluster: load queue: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return decodeQueue(resp.Kvs[0].Value), nil
}

func (e *Etcd) storeQueue(ctx context.Context, node NodeKey, queue []rawEnvelope, lease clientv3.LeaseID) error {
	opts := []clientv3.OpOption{}
	if lease != 0 {
		opts = append(opts, clientv3.WithLease(lease))
	}
	_, err := e.client.Put(ctx, etcdEventListKey(node), encodeQueue(queue), opts...)
	return err
}

func nodeFromEventExistsKey(key string) (NodeKey, bool) {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	// cluster_event_exists/ns/sys/mod/srv
	if len(segments) != 5 {
		return NodeKey{}, false
	}
	return NodeKey{
		Namespace: segments[1],
		SysID:     segments[2],
		ModuleID:  segments[3],
		ServerID:  segments[4],
	}, true
}
