// Package types defines the wire-level and descriptor shapes shared across
// every framework component: the Standard Request/Response envelope,
// service descriptors, naming instances, cluster nodes, and plugin
// descriptors.
package types

import (
	"strconv"
	"time"
)

// Request is the Standard Request envelope passed into every handler,
// regardless of which Web Server Adapter or Caller produced it.
type Request struct {
	Network map[string]any `json:"network"`
	Headers map[string]string `json:"headers"`
	Msg     any `json:"msg"`
}

// NewRequest builds an empty Request with initialized maps.
func NewRequest() *Request {
	return &Request{
		Network: make(map[string]any),
		Headers: make(map[string]string),
	}
}

// Response is the Standard Response envelope returned by every handler.
// Network.status carries the wire-level outcome code ("00000" on success).
type Response struct {
	Network NetworkStatus `json:"network"`
	Headers map[string]string `json:"headers"`
	Msg     any `json:"msg"`
}

// NetworkStatus is the network block of a Response.
type NetworkStatus struct {
	Status string `json:"status"`
}

// NewResponse builds a successful empty Response.
func NewResponse() *Response {
	return &Response{
		Network: NetworkStatus{Status: "00000"},
		Headers: make(map[string]string),
	}
}

// ServiceDescriptor describes one service exposed or consumed by the
// framework: its identity, transport, naming behavior, and cross-cutting
// adapter configuration.
type ServiceDescriptor struct {
	ServiceID         string `koanf:"service_id" json:"service_id"`
	ServiceName       string `koanf:"service_name" json:"service_name"`
	GroupName         string `koanf:"group_name" json:"group_name"`
	Protocol          string `koanf:"protocol" json:"protocol"`
	URI               string `koanf:"uri" json:"uri"`
	LocalCallFirst    bool   `koanf:"local_call_first" json:"local_call_first"`
	IsFixedConfig     bool   `koanf:"is_fixed_config" json:"is_fixed_config"`
	Naming            string `koanf:"naming" json:"naming"`
	Formatter         string `koanf:"formatter" json:"formatter"`
	EnableTracer      bool   `koanf:"enable_tracer" json:"enable_tracer"`
	TracerInjectFormat string `koanf:"tracer_inject_format" json:"tracer_inject_format"`
	InfLogging        string `koanf:"inf_logging" json:"inf_logging"`
	InfCheck          string `koanf:"inf_check" json:"inf_check"`
	EnableService     bool   `koanf:"enable_service" json:"enable_service"`
	AllowLocalCall    bool   `koanf:"allow_local_call" json:"allow_local_call"`

	// Network, Headers, Metadata, IP and Port are only meaningful for a
	// remote service descriptor: default per-call network/header values,
	// and (when IsFixedConfig is set) the fixed instance the Remote
	// Caller should dial without a naming lookup.
	Network                 map[string]any    `koanf:"network" json:"network,omitempty"`
	Headers                 map[string]string `koanf:"headers" json:"headers,omitempty"`
	Metadata                map[string]string `koanf:"metadata" json:"metadata,omitempty"`
	IP                      string            `koanf:"ip" json:"ip,omitempty"`
	Port                    int               `koanf:"port" json:"port,omitempty"`
	NamingSubscribeInterval time.Duration     `koanf:"naming_subscribe_interval" json:"naming_subscribe_interval,omitempty"`

	// Handler resolves this service's handler function through the Plugin
	// Loader, the same way any other adapter is resolved -- only
	// meaningful for a locally-hosted service.
	Handler PluginDescriptor `koanf:"handler" json:"handler,omitempty"`

	// CommonConfig names services.yaml "common_config" fragments merged
	// into this descriptor's config, in order, before the descriptor's
	// own fields are applied on top.
	CommonConfig []string `koanf:"common_config" json:"common_config,omitempty"`
}

// WithDefaults fills in the descriptor fields the spec requires a default
// for when the config document leaves them unset.
func (d *ServiceDescriptor) WithDefaults() *ServiceDescriptor {
	if d.GroupName == "" {
		d.GroupName = "DEFAULT_GROUP"
	}
	if d.TracerInjectFormat == "" {
		d.TracerInjectFormat = "http_headers"
	}
	if d.NamingSubscribeInterval == 0 {
		d.NamingSubscribeInterval = 5 * time.Second
	}
	return d
}

// Instance is one registered, resolvable network endpoint for a service,
// as tracked by the Naming Adapter.
type Instance struct {
	ServiceID string            `json:"service_id"`
	GroupName string            `json:"group_name"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Weight    float64           `json:"weight"`
	Healthy   bool              `json:"healthy"`
	Metadata  map[string]string `json:"metadata"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Key returns the naming-adapter lookup key "group_name/service_id" used to
// bucket instances.
func (i *Instance) Key() string {
	g := i.GroupName
	if g == "" {
		g = "DEFAULT_GROUP"
	}
	return g + "/" + i.ServiceID
}

// Addr returns the "host:port" dial target for this instance.
func (i *Instance) Addr() string {
	return i.Host + ":" + strconv.Itoa(i.Port)
}

// ClusterNode is one member of a cluster group as seen through the Cluster
// Adapter: its identity, its lease/heartbeat state, and whether it currently
// holds mastership of the group.
type ClusterNode struct {
	NodeID    string    `json:"node_id"`
	GroupName string    `json:"group_name"`
	IsMaster  bool      `json:"is_master"`
	LeaseID   int64     `json:"lease_id"`
	JoinedAt  time.Time `json:"joined_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// ClusterEvent is the context dict delivered to event-timer subscribers,
// mirroring the `{type: emit|broadcast, from: {...}}` shape used by the
// Cluster Adapter's event dispatch.
type ClusterEvent struct {
	Type string         `json:"type"` // "emit" or "broadcast"
	From string         `json:"from"` // node id of the sender
	Data map[string]any `json:"data"`
}

// PluginDescriptor is the shape the Plugin Loader resolves into a concrete,
// cached adapter instance: either a registered constructor id, or a
// file/module + class reference, plus construction arguments.
type PluginDescriptor struct {
	ID          string         `koanf:"id" json:"id"`
	Type        string         `koanf:"type" json:"type"` // logger | adapter | naming | cluster | tracer | formatter | caller | webserver
	Module      string         `koanf:"module" json:"module"`
	Class       string         `koanf:"class" json:"class"`
	StandAlone  bool           `koanf:"stand_alone" json:"stand_alone"`
	Config      map[string]any `koanf:"config" json:"config"`
}
