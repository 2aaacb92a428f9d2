package cluster

import "strings"

// Family group tokens match the original implementation's distinct key
// groups (plugins/cluster_redis.py's _cache_name/_cache_master/
// _cache_events_exists/_cache_events), rather than bucketing every family
// under one shared "cluster" group -- spec §9 calls for retaining this
// per-family layout verbatim so a reimplementation interoperates with
// existing stored state.
const (
	groupInfo        = "cluster_info"
	groupMaster      = "cluster_master"
	groupEventExists = "cluster_event_exists"
	groupEvent       = "cluster_event"
)

// bracket wraps s in the {$...$} notation the original embeds around every
// segment of a cluster key.
func bracket(s string) string { return "{$" + s + "$}" }

// redisInfoKey, redisMasterKey, redisEventExistsKey and redisEventListKey
// reproduce cluster_redis.py:97-108's literal key strings
// ({$group=<family>$}{$ns$}{$sys$}{$mod$}[{$srv$}]) verbatim, so a Go node
// and a Python node sharing one Redis instance read and write the exact
// same keys.
func redisInfoKey(n NodeKey) string {
	return bracket("group="+groupInfo) + bracket(n.Namespace) + bracket(n.SysID) + bracket(n.ModuleID) + bracket(n.ServerID)
}

func redisMasterKey(namespace, sysID, moduleID string) string {
	return bracket("group="+groupMaster) + bracket(namespace) + bracket(sysID) + bracket(moduleID)
}

func redisEventExistsKey(n NodeKey) string {
	return bracket("group="+groupEventExists) + bracket(n.Namespace) + bracket(n.SysID) + bracket(n.ModuleID) + bracket(n.ServerID)
}

func redisEventListKey(n NodeKey) string {
	return bracket("group="+groupEvent) + bracket(n.Namespace) + bracket(n.SysID) + bracket(n.ModuleID) + bracket(n.ServerID)
}

// redisInfoPattern and redisEventExistsPattern build a KEYS glob over a
// family, substituting "*" for any segment the caller left unset --
// mirroring list_clusters/broadcast's pattern construction exactly,
// including the rule that an unset sys_id forces module_id to "*" too.
func redisInfoPattern(namespace, sysID, moduleID string) string {
	sysID, moduleID = wildcardPair(sysID, moduleID)
	return bracket("group="+groupInfo) + bracket(namespace) + bracket(sysID) + bracket(moduleID) + bracket("*")
}

func redisEventExistsPattern(namespace, sysID, moduleID string) string {
	sysID, moduleID = wildcardPair(sysID, moduleID)
	return bracket("group="+groupEventExists) + bracket(namespace) + bracket(sysID) + bracket(moduleID) + bracket("*")
}

func wildcardPair(sysID, moduleID string) (string, string) {
	if sysID == "" {
		return "*", "*"
	}
	if moduleID == "" {
		return sysID, "*"
	}
	return sysID, moduleID
}

// parseBracketedKey splits a {$group=family$}{$a$}{$b$}... key into the
// segments after its group token, the same way list_clusters recovers
// sys_id/module_id/server_id from a matched key (append a trailing "{$"
// and split on "$}{$").
func parseBracketedKey(key, group string) ([]string, bool) {
	prefix := bracket("group=" + group)
	if !strings.HasPrefix(key, prefix) {
		return nil, false
	}
	rest := strings.TrimPrefix(key, prefix)
	rest = strings.TrimPrefix(rest, "{$")
	rest = strings.TrimSuffix(rest, "$}")
	if rest == "" {
		return nil, true
	}
	return strings.Split(rest, "$}{$"), true
}

// etcd has no glob-matching KEYS equivalent, only byte-range prefix scans,
// and was never one of the original's deployment backends, so there is no
// existing stored state under etcd to stay byte-compatible with. Its keys
// keep the original's distinct-group-token idea -- one prefix segment per
// family, not a shared "cluster" bucket -- translated into etcd's own
// slash-path convention instead of the {$...$} notation.
func etcdInfoKey(n NodeKey) string {
	return joinKey(groupInfo, n.Namespace, n.SysID, n.ModuleID, n.ServerID)
}

func etcdMasterKey(namespace, sysID, moduleID string) string {
	return joinKey(groupMaster, namespace, sysID, moduleID)
}

func etcdEventExistsKey(n NodeKey) string {
	return joinKey(groupEventExists, n.Namespace, n.SysID, n.ModuleID, n.ServerID)
}

func etcdEventListKey(n NodeKey) string {
	return joinKey(groupEvent, n.Namespace, n.SysID, n.ModuleID, n.ServerID)
}

// etcdInfoPrefix and etcdEventExistsPrefix build the byte-range prefix
// ListNodes/Broadcast scan under: truncated at whichever of sys_id/module_id
// is empty first, per the contract's "(ns [, sys [, mod]])" notation.
func etcdInfoPrefix(namespace, sysID, moduleID string) string {
	return truncatedPrefix(groupInfo, namespace, sysID, moduleID)
}

func etcdEventExistsPrefix(namespace, sysID, moduleID string) string {
	return truncatedPrefix(groupEventExists, namespace, sysID, moduleID)
}

func truncatedPrefix(group, namespace, sysID, moduleID string) string {
	parts := []string{group, namespace}
	if sysID != "" {
		parts = append(parts, sysID)
		if moduleID != "" {
			parts = append(parts, moduleID)
		}
	}
	return "/" + strings.Join(parts, "/") + "/"
}

func joinKey(parts ...string) string {
	return "/" + strings.Join(parts, "/")
}
