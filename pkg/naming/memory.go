package naming

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"microcore/pkg/cache"
	"microcore/pkg/types"
)

// instanceKey identifies one instance within a service/group bucket.
type instanceKey struct {
	ip   string
	port int
}

// bucket holds every known instance of one service_name/group_name pair.
type bucket struct {
	mu        sync.RWMutex
	instances map[instanceKey]*types.Instance
}

// Memory is the in-memory reference Naming Adapter: the default used when
// no naming adapter is configured for a service (registry semantics held
// in process memory, heartbeats and subscriptions run as goroutines).
type Memory struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket // key: group/service
	subs     map[string]context.CancelFunc
	rng      *rand.Rand
	rngMu    sync.Mutex
	unhealthyAfter time.Duration

	// snapshot, when set, persists every bucket's instance list to a shared
	// cache.Cache after each mutation and restores it on construction --
	// so a process restart doesn't lose registrations a Redis/cluster-backed
	// deployment needs to survive.
	snapshot    cache.Cache
	snapshotTTL time.Duration
}

const snapshotIndexKey = "naming:index"

// NewMemory creates an in-memory Naming Adapter. unhealthyAfter is the
// duration of missed heartbeats after which an instance is treated as
// unhealthy; zero disables automatic health decay.
func NewMemory(unhealthyAfter time.Duration) *Memory {
	return &Memory{
		buckets:        make(map[string]*bucket),
		subs:           make(map[string]context.CancelFunc),
		rng:            rand.New(rand.NewSource(1)),
		unhealthyAfter: unhealthyAfter,
	}
}

// NewMemoryWithSnapshot is NewMemory plus a cache.Cache-backed persistence
// layer: every AddInstance/RemoveInstance mutation is mirrored to snapshot
// under a deterministic key, and the constructor restores whatever was
// there already (e.g. a previous run's registrations, when snapshot is a
// Redis-backed cache.Cache shared across restarts).
func NewMemoryWithSnapshot(unhealthyAfter time.Duration, snapshot cache.Cache, ttl time.Duration) *Memory {
	m := NewMemory(unhealthyAfter)
	m.snapshot = snapshot
	m.snapshotTTL = ttl
	m.restoreSnapshot(context.Background())
	return m
}

func (m *Memory) restoreSnapshot(ctx context.Context) {
	if m.snapshot == nil {
		return
	}
	raw, err := m.snapshot.Get(ctx, snapshotIndexKey)
	if err != nil {
		return
	}
	var keys []string
	if json.Unmarshal(raw, &keys) != nil {
		return
	}
	for _, key := range keys {
		raw, err := m.snapshot.Get(ctx, "naming:"+key)
		if err != nil {
			continue
		}
		var instances []*types.Instance
		if json.Unmarshal(raw, &instances) != nil {
			continue
		}
		b := &bucket{instances: make(map[instanceKey]*types.Instance, len(instances))}
		for _, inst := range instances {
			b.instances[instanceKey{inst.Host, inst.Port}] = inst
		}
		m.buckets[key] = b
	}
}

// persistBucket mirrors one bucket's current instance list to the snapshot
// cache, best-effort -- a failed write only means the next restart misses
// this bucket's registrations, not a correctness issue for the running
// process. Caller must hold at least a read lock on b.
func (m *Memory) persistBucket(ctx context.Context, key string, b *bucket) {
	if m.snapshot == nil {
		return
	}
	instances := make([]*types.Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		instances = append(instances, inst)
	}
	data, err := json.Marshal(instances)
	if err != nil {
		return
	}
	_ = m.snapshot.Set(ctx, "naming:"+key, data, m.snapshotTTL)
	m.addToIndex(ctx, key)
}

func (m *Memory) addToIndex(ctx context.Context, key string) {
	raw, err := m.snapshot.Get(ctx, snapshotIndexKey)
	var keys []string
	if err == nil {
		_ = json.Unmarshal(raw, &keys)
	}
	for _, k := range keys {
		if k == key {
			return
		}
	}
	keys = append(keys, key)
	if data, err := json.Marshal(keys); err == nil {
		_ = m.snapshot.Set(ctx, snapshotIndexKey, data, 0)
	}
}

func bucketKey(serviceName, groupName string) string {
	if groupName == "" {
		groupName = "DEFAULT_GROUP"
	}
	return groupName + "/" + serviceName
}

func (m *Memory) getOrCreateBucket(serviceName, groupName string) *bucket {
	key := bucketKey(serviceName, groupName)
	m.mu.RLock()
	b, ok := m.buckets[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[key]; ok {
		return b
	}
	b = &bucket{instances: make(map[instanceKey]*types.Instance)}
	m.buckets[key] = b
	return b
}

// AddInstance registers or refreshes one instance.
func (m *Memory) AddInstance(ctx context.Context, serviceName, ip string, port int, groupName string, metadata map[string]string) (bool, error) {
	b := m.getOrCreateBucket(serviceName, groupName)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.instances[instanceKey{ip, port}] = &types.Instance{
		ServiceID: serviceName,
		GroupName: groupName,
		Host:      ip,
		Port:      port,
		Weight:    1.0,
		Healthy:   true,
		Metadata:  metadata,
		UpdatedAt: time.Now(),
	}
	m.persistBucket(ctx, bucketKey(serviceName, groupName), b)
	return true, nil
}

// RemoveInstance deregisters an instance, or every instance of the group
// when ip/port are zero-valued.
func (m *Memory) RemoveInstance(ctx context.Context, serviceName, groupName, ip string, port int) (bool, error) {
	b := m.getOrCreateBucket(serviceName, groupName)
	b.mu.Lock()
	defer b.mu.Unlock()

	if ip == "" && port == 0 {
		b.instances = make(map[instanceKey]*types.Instance)
	} else {
		delete(b.instances, instanceKey{ip, port})
	}
	m.persistBucket(ctx, bucketKey(serviceName, groupName), b)
	return true, nil
}

// ListInstance returns every instance, filtered to healthy ones when asked.
func (m *Memory) ListInstance(ctx context.Context, serviceName, groupName string, healthyOnly bool) ([]*types.Instance, error) {
	b := m.getOrCreateBucket(serviceName, groupName)
	b.mu.Lock()
	defer b.mu.Unlock()

	m.decayHealth(b)

	out := make([]*types.Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		if healthyOnly && !inst.Healthy {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// GetInstance picks one instance by weighted random among healthy
// instances, falling back to the unhealthy pool when none are healthy and
// healthyOnly is false.
func (m *Memory) GetInstance(ctx context.Context, serviceName, groupName string, healthyOnly bool) (*types.Instance, error) {
	b := m.getOrCreateBucket(serviceName, groupName)
	b.mu.Lock()
	defer b.mu.Unlock()

	m.decayHealth(b)

	healthy := make([]*types.Instance, 0, len(b.instances))
	unhealthy := make([]*types.Instance, 0)
	for _, inst := range b.instances {
		if inst.Healthy {
			healthy = append(healthy, inst)
		} else {
			unhealthy = append(unhealthy, inst)
		}
	}

	if len(healthy) > 0 {
		return m.weightedPick(healthy), nil
	}
	if healthyOnly || len(unhealthy) == 0 {
		return nil, nil
	}
	return m.weightedPick(unhealthy), nil
}

// decayHealth marks instances unhealthy once they've gone silent longer
// than unhealthyAfter. Caller must hold b's write lock: it mutates
// inst.Healthy in place, so a read lock would race every other reader
// doing the same under -race.
func (m *Memory) decayHealth(b *bucket) {
	if m.unhealthyAfter <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.unhealthyAfter)
	for _, inst := range b.instances {
		if inst.UpdatedAt.Before(cutoff) {
			inst.Healthy = false
		}
	}
}

func (m *Memory) weightedPick(candidates []*types.Instance) *types.Instance {
	total := 0.0
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1.0
		}
		total += w
	}

	m.rngMu.Lock()
	r := m.rng.Float64() * total
	m.rngMu.Unlock()

	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1.0
		}
		if r < w {
			return c
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

// AddSubscribe is a no-op refresh loop for the in-memory adapter: instances
// already live in this process's memory, so there's nothing to mirror.
// Implemented for interface conformance and so callers can treat every
// Naming Adapter uniformly.
func (m *Memory) AddSubscribe(ctx context.Context, serviceName, groupName string, interval time.Duration) error {
	key := bucketKey(serviceName, groupName)
	subCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if old, ok := m.subs[key]; ok {
		old()
	}
	m.subs[key] = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// RemoveSubscribe cancels a subscription's refresh loop.
func (m *Memory) RemoveSubscribe(serviceName, groupName string) error {
	key := bucketKey(serviceName, groupName)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.subs[key]; ok {
		cancel()
		delete(m.subs, key)
	}
	return nil
}

// Close cancels every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.subs {
		cancel()
	}
	m.subs = make(map[string]context.CancelFunc)
	return nil
}
