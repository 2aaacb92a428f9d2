// Package caller implements the framework's Remote Caller (component
// C10): a service-id-keyed registry of local handlers and remote service
// descriptors, resolved per call into either a direct in-process call or a
// Caller Formatter round trip, with tracer context injected across the
// call boundary and every outbound/inbound message optionally recorded by
// an inf_logging adapter.
package caller

import (
	"context"
	"sync"

	"microcore/pkg/adapter"
	"microcore/pkg/apperror"
	"microcore/pkg/audit"
	"microcore/pkg/formatter"
	"microcore/pkg/naming"
	"microcore/pkg/tracer"
	"microcore/pkg/types"
)

// LocalHandler is a locally-registered service implementation: the same
// shape a remote service call eventually reaches on the other side of the
// wire, so the two code paths share one Caller Formatter contract.
type LocalHandler func(ctx context.Context, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error)

// LocalServiceConfig is how a process advertises one of its own handlers
// for call-with-service-id use -- including by other service ids that name
// it as their local_call_first target.
type LocalServiceConfig struct {
	ServiceName string
	GroupName   string
	Protocol    string
	URI         string
	Metadata    map[string]string
	Handler     LocalHandler
}

// resolvedInstance is the per-call merge of a remote service's static
// descriptor with a naming lookup (or a local handler), mirroring
// _get_service_instance's returned dict.
type resolvedInstance struct {
	types.ServiceDescriptor
	IsLocal bool
	Handler LocalHandler
}

func (r resolvedInstance) asInstanceInfo() formatter.InstanceInfo {
	return formatter.InstanceInfo{
		Protocol: r.Protocol,
		URI:      r.URI,
		Headers:  r.Headers,
		Metadata: r.Metadata,
		IP:       r.IP,
		Port:     r.Port,
	}
}

// RemoteCaller is the Remote Caller: CallWithSettings resolves service_id
// to either a local handler or a naming-discovered remote instance, then
// dispatches through the service's Caller Formatter.
type RemoteCaller struct {
	adapters      *adapter.Manager
	defaultNaming naming.Adapter

	mu     sync.RWMutex
	namings map[string]naming.Adapter

	tracerAdapter tracer.Adapter

	remoteMu       sync.RWMutex
	remoteServices map[string]*types.ServiceDescriptor

	localMu       sync.RWMutex
	localServices map[string]*LocalServiceConfig
}

// New builds a Remote Caller. adapters resolves "formater_caller",
// "naming" and "inf_logging" adapter instances by id; defaultNaming is
// used whenever a service descriptor leaves Naming unset; tracerAdapter
// may be nil to disable call-boundary context propagation.
func New(adapters *adapter.Manager, defaultNaming naming.Adapter, tracerAdapter tracer.Adapter) *RemoteCaller {
	return &RemoteCaller{
		adapters:       adapters,
		defaultNaming:  defaultNaming,
		namings:        make(map[string]naming.Adapter),
		tracerAdapter:  tracerAdapter,
		remoteServices: make(map[string]*types.ServiceDescriptor),
		localServices:  make(map[string]*LocalServiceConfig),
	}
}

// AddRemoteService registers a remote service descriptor under serviceID,
// subscribing it with the resolved naming adapter so instance lookups are
// served from a locally-refreshed mirror rather than a live round trip.
func (c *RemoteCaller) AddRemoteService(ctx context.Context, serviceID string, desc types.ServiceDescriptor) error {
	c.remoteMu.Lock()
	if _, exists := c.remoteServices[serviceID]; exists {
		c.remoteMu.Unlock()
		return apperror.NewWithField(apperror.CodeInvalidArgument, "service id already registered", "service_id")
	}
	desc.WithDefaults()
	c.remoteServices[serviceID] = &desc
	c.remoteMu.Unlock()

	namingAdapter, err := c.namingAdapter(desc.Naming)
	if err != nil {
		return err
	}
	if namingAdapter != nil && desc.ServiceName != "" {
		return namingAdapter.AddSubscribe(ctx, desc.ServiceName, desc.GroupName, desc.NamingSubscribeInterval)
	}
	return nil
}

// RemoveRemoteService deregisters a remote service descriptor and its
// naming subscription.
func (c *RemoteCaller) RemoveRemoteService(serviceID string) error {
	c.remoteMu.Lock()
	desc, ok := c.remoteServices[serviceID]
	delete(c.remoteServices, serviceID)
	c.remoteMu.Unlock()
	if !ok {
		return nil
	}

	namingAdapter, err := c.namingAdapter(desc.Naming)
	if err != nil {
		return err
	}
	if namingAdapter != nil && desc.ServiceName != "" {
		return namingAdapter.RemoveSubscribe(desc.ServiceName, desc.GroupName)
	}
	return nil
}

// AddLocalService registers a locally-handled service implementation.
func (c *RemoteCaller) AddLocalService(serviceID string, cfg LocalServiceConfig) {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	c.localServices[serviceID] = &cfg
}

// RemoveLocalService deregisters a local service implementation.
func (c *RemoteCaller) RemoveLocalService(serviceID string) {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	delete(c.localServices, serviceID)
}

// CallRequest is the caller-facing request shape: network/header defaults
// the formatter may still need to merge with a service's static config,
// plus the positional/keyword route arguments.
type CallRequest struct {
	Network map[string]any
	Headers map[string]string
	Msg     any
	Args    []any
	Kwargs  map[string]any
}

// Call resolves and dispatches serviceID's call with no per-call override
// of the static service config.
func (c *RemoteCaller) Call(ctx context.Context, serviceID string, req *CallRequest) (*formatter.CallResponse, error) {
	return c.CallWithSettings(ctx, serviceID, types.ServiceDescriptor{}, req)
}

// CallWithSettings resolves serviceID to a concrete instance (local
// handler, fixed remote config, or naming lookup -- in that priority
// order, matching _get_service_instance), merges in selfSettings' non-empty
// id, name, group, protocol, URI, naming, formatter and inf_logging strings,
// its Network/Headers/Metadata maps, IP and Port as a per-call override (its
// bool fields, InfCheck and TracerInjectFormat are not merged), and
// dispatches through the resolved Caller Formatter.
func (c *RemoteCaller) CallWithSettings(ctx context.Context, serviceID string, selfSettings types.ServiceDescriptor, req *CallRequest) (*formatter.CallResponse, error) {
	instance, err := c.resolveInstance(ctx, serviceID, selfSettings)
	if err != nil {
		return nil, err
	}

	callerFmt, err := c.callerFormatter(instance.Formatter)
	if err != nil {
		return nil, err
	}

	infLogging := c.infLogging(instance.InfLogging)

	callReq := &formatter.CallRequest{
		Network: mergeAnyMaps(instance.Network, req.Network),
		Headers: mergeStringMaps(instance.Headers, req.Headers),
		Msg:     req.Msg,
	}

	if instance.EnableTracer && c.tracerAdapter != nil {
		if callReq.Headers == nil {
			callReq.Headers = make(map[string]string)
		}
		c.tracerAdapter.Inject(ctx, tracer.Carrier(callReq.Headers))
	}

	instanceInfo := instance.asInstanceInfo()

	if instance.IsLocal {
		return c.callLocal(ctx, instance, instanceInfo, callerFmt, infLogging, callReq, req.Args, req.Kwargs)
	}
	return c.callRemote(ctx, instance, instanceInfo, callerFmt, infLogging, callReq, req.Args, req.Kwargs)
}

func (c *RemoteCaller) callLocal(
	ctx context.Context,
	instance resolvedInstance,
	instanceInfo formatter.InstanceInfo,
	callerFmt formatter.CallerFormatter,
	infLogging audit.Logger,
	callReq *formatter.CallRequest,
	args []any,
	kwargs map[string]any,
) (*formatter.CallResponse, error) {
	stdRequest, err := callerFmt.FormatLocalCallRequest(ctx, instanceInfo, callReq, args, kwargs)
	if err != nil {
		return nil, err
	}
	c.logCall(ctx, infLogging, "R", instance.ServiceID, stdRequest)

	callResp, callErr := instance.Handler(ctx, stdRequest, args, kwargs)

	var resp *formatter.CallResponse
	if callErr != nil {
		// A handler exception on the local (in-process) path never sent
		// anything over a wire, so it is modeled as a pre-send failure
		// (21007) -- the remote path's counterpart is 31007, applied by
		// the Caller Formatter's Call once bytes actually went out.
		resp, err = callerFmt.FormatLocalCallException(
			ctx, string(apperror.WireTransportPreSend), callErr.Error(), callErr,
			stdRequest, instanceInfo, callReq, args, kwargs,
		)
	} else {
		resp, err = callerFmt.FormatLocalCallResponse(ctx, callResp, stdRequest, instanceInfo, callReq, args, kwargs)
	}
	if err != nil {
		return nil, err
	}

	c.logCall(ctx, infLogging, "B", instance.ServiceID, resp)
	return resp, nil
}

func (c *RemoteCaller) callRemote(
	ctx context.Context,
	instance resolvedInstance,
	instanceInfo formatter.InstanceInfo,
	callerFmt formatter.CallerFormatter,
	infLogging audit.Logger,
	callReq *formatter.CallRequest,
	args []any,
	kwargs map[string]any,
) (*formatter.CallResponse, error) {
	stdRequest, err := callerFmt.FormatRemoteCallRequest(ctx, instanceInfo, callReq, args, kwargs)
	if err != nil {
		return nil, err
	}
	c.logCall(ctx, infLogging, "R", instance.ServiceID, stdRequest)

	resp, err := callerFmt.Call(ctx, instanceInfo, stdRequest, args, kwargs)
	if err != nil {
		return nil, err
	}

	c.logCall(ctx, infLogging, "B", instance.ServiceID, resp)
	return resp, nil
}

func (c *RemoteCaller) logCall(ctx context.Context, logger audit.Logger, direction, serviceID string, payload any) {
	if logger == nil {
		return
	}
	entry := audit.NewEntry().
		Service(serviceID).
		Method("call:" + direction).
		Outcome(audit.OutcomeSuccess).
		Meta("payload", payload).
		Build()
	_ = logger.Log(ctx, entry)
}

// resolveInstance mirrors _get_service_instance: local_call_first wins if
// a local handler is registered; else is_fixed_config serves the static
// descriptor verbatim; else a naming lookup resolves a live instance.
func (c *RemoteCaller) resolveInstance(ctx context.Context, serviceID string, selfSettings types.ServiceDescriptor) (resolvedInstance, error) {
	c.remoteMu.RLock()
	remote, ok := c.remoteServices[serviceID]
	c.remoteMu.RUnlock()
	if !ok {
		return resolvedInstance{}, apperror.NewWithField(apperror.CodeServiceNotFound, "remote service id is not registered", serviceID)
	}

	merged := mergeServiceDescriptor(*remote, selfSettings)

	if merged.LocalCallFirst {
		c.localMu.RLock()
		local, ok := c.localServices[serviceID]
		c.localMu.RUnlock()
		if ok {
			merged.Protocol = firstNonEmpty(merged.Protocol, local.Protocol)
			merged.URI = firstNonEmpty(merged.URI, local.URI)
			return resolvedInstance{ServiceDescriptor: merged, IsLocal: true, Handler: local.Handler}, nil
		}
	}

	if merged.IsFixedConfig {
		return resolvedInstance{ServiceDescriptor: merged, IsLocal: false}, nil
	}

	namingAdapter, err := c.namingAdapter(merged.Naming)
	if err != nil {
		return resolvedInstance{}, err
	}
	if namingAdapter == nil {
		return resolvedInstance{}, apperror.New(apperror.CodeServiceNotFound, "no naming adapter available to resolve remote instance")
	}

	svcInstance, err := namingAdapter.GetInstance(ctx, merged.ServiceName, merged.GroupName, true)
	if err != nil {
		return resolvedInstance{}, err
	}
	if svcInstance == nil {
		return resolvedInstance{}, apperror.NewWithField(
			apperror.CodeNoEnableInstance, "no enabled instance of service in the naming server", merged.ServiceName,
		)
	}

	merged.IP = svcInstance.Host
	merged.Port = svcInstance.Port
	if merged.Metadata == nil {
		merged.Metadata = svcInstance.Metadata
	}
	if merged.Protocol == "" && svcInstance.Metadata != nil {
		merged.Protocol = svcInstance.Metadata["protocol"]
	}
	if merged.URI == "" && svcInstance.Metadata != nil {
		merged.URI = svcInstance.Metadata["uri"]
	}

	return resolvedInstance{ServiceDescriptor: merged, IsLocal: false}, nil
}

func (c *RemoteCaller) namingAdapter(namingID string) (naming.Adapter, error) {
	if namingID == "" {
		return c.defaultNaming, nil
	}

	c.mu.RLock()
	cached, ok := c.namings[namingID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	inst, ok := c.adapters.Get("naming", namingID)
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeAdapterLoadFailure, "naming adapter not loaded", namingID)
	}
	namingAdapter, ok := inst.(naming.Adapter)
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeAdapterLoadFailure, "naming adapter does not implement the naming contract", namingID)
	}

	c.mu.Lock()
	c.namings[namingID] = namingAdapter
	c.mu.Unlock()
	return namingAdapter, nil
}

func (c *RemoteCaller) callerFormatter(formatterID string) (formatter.CallerFormatter, error) {
	inst, ok := c.adapters.Get("formater_caller", formatterID)
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeAdapterLoadFailure, "caller formatter not loaded", formatterID)
	}
	callerFmt, ok := inst.(formatter.CallerFormatter)
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeAdapterLoadFailure, "adapter does not implement the caller formatter contract", formatterID)
	}
	return callerFmt, nil
}

func (c *RemoteCaller) infLogging(infLoggingID string) audit.Logger {
	if infLoggingID == "" {
		return nil
	}
	inst, ok := c.adapters.Get("inf_logging", infLoggingID)
	if !ok {
		return nil
	}
	logger, ok := inst.(audit.Logger)
	if !ok {
		return nil
	}
	return logger
}

func mergeServiceDescriptor(base, override types.ServiceDescriptor) types.ServiceDescriptor {
	merged := base
	if override.ServiceID != "" {
		merged.ServiceID = override.ServiceID
	}
	if override.ServiceName != "" {
		merged.ServiceName = override.ServiceName
	}
	if override.GroupName != "" {
		merged.GroupName = override.GroupName
	}
	if override.Protocol != "" {
		merged.Protocol = override.Protocol
	}
	if override.URI != "" {
		merged.URI = override.URI
	}
	if override.Naming != "" {
		merged.Naming = override.Naming
	}
	if override.Formatter != "" {
		merged.Formatter = override.Formatter
	}
	if override.InfLogging != "" {
		merged.InfLogging = override.InfLogging
	}
	if override.Network != nil {
		merged.Network = override.Network
	}
	if override.Headers != nil {
		merged.Headers = override.Headers
	}
	if override.Metadata != nil {
		merged.Metadata = override.Metadata
	}
	if override.IP != "" {
		merged.IP = override.IP
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	return merged
}

func mergeAnyMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func mergeStringMaps(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
