package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is an alternate Cluster Adapter backend for deployments without
// etcd: the same four key families live as Redis keys with EX TTLs, master
// election uses SET NX, and event lists are Redis lists (RPUSH/LPOP),
// mirroring the teacher's cache package's driver-select pattern of offering
// more than one backend behind one contract.
type Redis struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedis wraps a go-redis client as a cluster.Adapter.
func NewRedis(client *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, log: log}
}

func (r *Redis) RenewInfo(ctx context.Context, node NodeKey, appName string, ttl time.Duration) (bool, error) {
	key := redisInfoKey(node)
	existed, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cluster: exists info: %w", err)
	}
	if err := r.client.Set(ctx, key, appName, ttl).Err(); err != nil {
		return false, fmt.Errorf("cluster: set info: %w", err)
	}
	return existed == 0, nil
}

func (r *Redis) DeregisterInfo(ctx context.Context, node NodeKey) error {
	return r.client.Del(ctx, redisInfoKey(node)).Err()
}

func (r *Redis) TryOwnMaster(ctx context.Context, node NodeKey, ttl time.Duration) (bool, error) {
	key := redisMasterKey(node.Namespace, node.SysID, node.ModuleID)
	ok, err := r.client.SetNX(ctx, key, node.ServerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cluster: setnx master: %w", err)
	}
	if ok {
		return true, nil
	}

	current, err := r.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("cluster: get master: %w", err)
	}
	if current != node.ServerID {
		return false, nil
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("cluster: extend master ttl: %w", err)
	}
	return true, nil
}

func (r *Redis) ReleaseMaster(ctx context.Context, node NodeKey) error {
	key := redisMasterKey(node.Namespace, node.SysID, node.ModuleID)
	current, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cluster: get master for release: %w", err)
	}
	if current != node.ServerID {
		return nil
	}
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) GetMaster(ctx context.Context, namespace, sysID, moduleID string) (string, error) {
	v, err := r.client.Get(ctx, redisMasterKey(namespace, sysID, moduleID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cluster: get master: %w", err)
	}
	return v, nil
}

func (r *Redis) ListNodes(ctx context.Context, namespace, sysID, moduleID string) ([]NodeKey, error) {
	pattern := redisInfoPattern(namespace, sysID, moduleID)
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("cluster: scan info keys: %w", err)
	}

	var nodes []NodeKey
	for _, key := range keys {
		segments, ok := parseBracketedKey(key, groupInfo)
		if !ok || len(segments) != 4 {
			continue
		}
		nodes = append(nodes, NodeKey{Namespace: segments[0], SysID: segments[1], ModuleID: segments[2], ServerID: segments[3]})
	}
	return nodes, nil
}

func (r *Redis) EnsureEventInbox(ctx context.Context, node NodeKey, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisEventExistsKey(node), "1", ttl).Err(); err != nil {
		return fmt.Errorf("cluster: set event_exists: %w", err)
	}
	return r.client.Expire(ctx, redisEventListKey(node), ttl).Err()
}

func (r *Redis) Emit(ctx context.Context, from, target NodeKey, event string, payload []byte) error {
	exists, err := r.client.Exists(ctx, redisEventExistsKey(target)).Result()
	if err != nil {
		return fmt.Errorf("cluster: check event_exists: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("cluster: target %s/%s/%s/%s is not accepting events", target.Namespace, target.SysID, target.ModuleID, target.ServerID)
	}
	entry := encodeRaw(from, "emit", event, payload)
	return r.pushEntry(ctx, target, entry)
}

func (r *Redis) Broadcast(ctx context.Context, from NodeKey, namespace, sysID, moduleID, event string, payload []byte) (int, error) {
	pattern := redisEventExistsPattern(namespace, sysID, moduleID)
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, fmt.Errorf("cluster: scan event_exists keys: %w", err)
	}

	delivered := 0
	for _, key := range keys {
		segments, ok := parseBracketedKey(key, groupEventExists)
		if !ok || len(segments) != 4 {
			continue
		}
		node := NodeKey{Namespace: segments[0], SysID: segments[1], ModuleID: segments[2], ServerID: segments[3]}
		entry := encodeRaw(from, "broadcast", event, payload)
		if err := r.pushEntry(ctx, node, entry); err != nil {
			r.log.Warn("cluster: broadcast push failed", "node", node, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (r *Redis) pushEntry(ctx context.Context, node NodeKey, entry rawEnvelope) error {
	data, err := jsonMarshalEnvelope(entry)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, redisEventListKey(node), data).Err()
}

func (r *Redis) PopEvents(ctx context.Context, node NodeKey, maxItems int) ([]RawEvent, error) {
	key := redisEventListKey(node)
	var out []RawEvent
	for i := 0; i < maxItems; i++ {
		data, err := r.client.LPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, fmt.Errorf("cluster: lpop event: %w", err)
		}
		entry, err := jsonUnmarshalEnvelope(data)
		if err != nil {
			r.log.Warn("cluster: skipping malformed event entry", "error", err)
			continue
		}
		out = append(out, entry.toEvent())
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
