// Package starter implements the Server Starter (component C12): the full
// boot sequence that wires every other component together from config and
// runs the after-start/before-stop lifecycle around a web server adapter.
package starter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"microcore/pkg/adapter"
	"microcore/pkg/apperror"
	"microcore/pkg/audit"
	"microcore/pkg/cache"
	"microcore/pkg/caller"
	"microcore/pkg/client"
	"microcore/pkg/cluster"
	"microcore/pkg/config"
	"microcore/pkg/formatter"
	"microcore/pkg/i18n"
	"microcore/pkg/logger"
	"microcore/pkg/metrics"
	"microcore/pkg/naming"
	"microcore/pkg/plugin"
	"microcore/pkg/ratelimit"
	"microcore/pkg/registry"
	"microcore/pkg/tracer"
	"microcore/pkg/types"
	"microcore/pkg/webserver"
)

// Options carries everything the boot sequence needs beyond the already
// loaded application.yaml (steps 1/4/5 of the boot sequence -- base path
// resolution and application config loading -- are the caller's job, via
// pkg/config; Starter picks up from the process lock onward).
type Options struct {
	BasePath           string
	ServicesPath       string
	RemoteServicesPath string
	AdaptersPath       string
	LockPath           string // running_data/*.lock; empty disables the single-process lock

	// NoWebServer runs the process in background mode (spec's
	// `web_server=` empty CLI value): every other component boots
	// normally, but no listener is ever bound and Start blocks on ctx
	// instead of a web server's Start.
	NoWebServer bool

	// VisitHost/VisitPort are the address this instance advertises to the
	// Naming Adapter, when it differs from the address it actually binds
	// (e.g. behind a NAT or load balancer). Left empty/zero, the web
	// server's own listen host/port is advertised instead.
	VisitHost string
	VisitPort int

	// ServiceHandlers resolves a services.yaml descriptor's handler.class
	// to the function that implements it.
	ServiceHandlers map[string]webserver.HandlerFunc

	AfterServerStart func(ctx context.Context) error
	BeforeServerStop func(ctx context.Context) error
}

// Starter owns every component instantiated by the boot sequence and the
// after-start/before-stop lifecycle around them.
type Starter struct {
	cfg  *config.Config
	opts Options

	lockFile      *os.File
	isMainProcess bool

	pluginLoader *plugin.Loader
	adapters     *adapter.Manager
	loggers      *logger.Manager
	catalog      *i18n.Catalog
	registry     *registry.Registry

	namingAdapter naming.Adapter
	tracerAdapter tracer.Adapter
	auditLogger   audit.Logger
	limiter       ratelimit.Limiter

	caller    *caller.RemoteCaller
	cluster   *cluster.Coordinator
	pipeline  *webserver.Pipeline
	webServer webserver.Adapter

	registeredServices []types.ServiceDescriptor
}

// New runs the boot sequence (steps 2-15) and returns a Starter ready for
// Start. Any step failing aborts startup; the caller is expected to have
// already resolved cfg (steps 1/4/5).
func New(cfg *config.Config, opts Options) (*Starter, error) {
	s := &Starter{cfg: cfg, opts: opts, isMainProcess: true, registry: registry.New()}

	if err := s.acquireProcessLock(); err != nil {
		return nil, fmt.Errorf("starter: process lock: %w", err)
	}

	s.pluginLoader = plugin.NewLoader(opts.BasePath)

	catalog, err := i18n.Load(cfg.I18n.CatalogPath, cfg.I18n.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("starter: i18n: %w", err)
	}
	s.catalog = catalog
	s.registry.Set("i18n.catalog", catalog)

	fallback := logger.DefaultConfig("info")
	if lc, ok := cfg.Loggers["default"]; ok {
		fallback = lc
	}
	s.loggers = logger.NewManager(cfg.Loggers, fallback)
	s.registry.LoggerManager = s.loggers

	if cfg.Metrics.Enabled {
		metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				s.loggers.Get("default").Error("metrics server stopped", "error", err)
			}
		}()
	}

	s.adapters = adapter.NewManager(s.pluginLoader)
	s.registry.AdapterManager = s.adapters
	if err := s.loadAdaptersFile(); err != nil {
		return nil, fmt.Errorf("starter: adapters.yaml: %w", err)
	}

	if err := s.buildNaming(); err != nil {
		return nil, fmt.Errorf("starter: naming adapter: %w", err)
	}
	s.registry.Naming = s.namingAdapter

	if err := s.buildTracer(); err != nil {
		return nil, fmt.Errorf("starter: tracer adapter: %w", err)
	}
	s.registry.Tracer = s.tracerAdapter

	if err := s.buildInfLoggingAndCheck(); err != nil {
		return nil, fmt.Errorf("starter: inf_logging/inf_check: %w", err)
	}
	s.registry.Set("inf_logging.default", s.auditLogger)
	s.registry.Set("inf_check.default", s.limiter)
	s.registerDefaultFormatters()

	s.caller = caller.New(s.adapters, s.namingAdapter, s.tracerAdapter)
	s.registry.Caller = s.caller

	if err := s.buildCluster(); err != nil {
		return nil, fmt.Errorf("starter: cluster adapter: %w", err)
	}
	s.registry.Cluster = s.cluster

	if !opts.NoWebServer {
		if err := s.buildWebServer(); err != nil {
			return nil, fmt.Errorf("starter: web server adapter: %w", err)
		}
		s.registry.WebServer = s.webServer
	}

	if err := s.loadServices(); err != nil {
		return nil, fmt.Errorf("starter: services.yaml: %w", err)
	}

	if err := s.loadRemoteServices(); err != nil {
		return nil, fmt.Errorf("starter: remoteServices.yaml: %w", err)
	}

	return s, nil
}

// acquireProcessLock marks this process main (lock acquired) or child (lock
// already held) -- per spec, a best-effort marker, not a hard mutex: a
// stale lock from a crashed process never blocks startup.
func (s *Starter) acquireProcessLock() error {
	if s.opts.LockPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.LockPath), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(s.opts.LockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			s.isMainProcess = false
			return nil
		}
		return err
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	s.lockFile = f
	return nil
}

func (s *Starter) releaseProcessLock() {
	if s.lockFile == nil {
		return
	}
	s.lockFile.Close()
	os.Remove(s.opts.LockPath)
}

func (s *Starter) loadAdaptersFile() error {
	if s.opts.AdaptersPath == "" {
		return nil
	}
	file, err := config.LoadAdaptersFile(s.opts.AdaptersPath)
	if err != nil {
		return err
	}
	for _, desc := range file.Adapters {
		desc := desc
		if _, err := s.adapters.Load(desc.ID, desc.Type, &desc); err != nil {
			return fmt.Errorf("adapter %s: %w", desc.ID, err)
		}
	}
	return nil
}

// buildNaming instantiates the default naming adapter: etcd-backed when
// clustering is enabled (sharing the cluster's etcd endpoints), or an
// in-memory adapter otherwise, registered under adapter id "default" so
// service descriptors that leave `naming` empty resolve to it through the
// Adapter Manager like any adapters.yaml-declared one.
func (s *Starter) buildNaming() error {
	if !s.cfg.Cluster.Enabled {
		// A memory-backed cache.Cache would be just as ephemeral as Memory
		// itself, so the snapshot layer only earns its keep with an actually
		// shared backend -- Redis.
		if s.cfg.Cache.Driver == cache.BackendRedis {
			snapshot, err := cache.New(cache.FromConfig(&s.cfg.Cache))
			if err != nil {
				return err
			}
			s.namingAdapter = naming.NewMemoryWithSnapshot(30*time.Second, snapshot, s.cfg.Cache.DefaultTTL)
		} else {
			s.namingAdapter = naming.NewMemory(30 * time.Second)
		}
		return s.registerNamingInstance("default", s.namingAdapter)
	}

	etcd, err := etcdClient(s.cfg.Cluster.Endpoints, s.cfg.Cluster.DialTimeout)
	if err != nil {
		return err
	}
	s.namingAdapter = naming.NewEtcd(etcd, "/"+s.cfg.Cluster.Namespace+"/naming", s.cfg.Cluster.LeaseTTLSeconds, slog.Default())
	return s.registerNamingInstance("default", s.namingAdapter)
}

func (s *Starter) registerNamingInstance(id string, n naming.Adapter) error {
	s.pluginLoader.Register("naming", "builtin."+id, func(map[string]any) (any, error) { return n, nil })
	_, err := s.adapters.Load(id, "naming", &types.PluginDescriptor{Module: "builtin", Class: id})
	return err
}

// buildTracer always builds an Otel-backed adapter: NewOtel itself
// no-ops the exporter when tracing is disabled, so every component gets a
// consistent non-nil tracer.Adapter to call.
func (s *Starter) buildTracer() error {
	otelAdapter, err := tracer.NewOtel(context.Background(), tracer.Config{
		Enabled: s.cfg.Tracing.Enabled, Endpoint: s.cfg.Tracing.Endpoint, ServiceName: s.cfg.Tracing.ServiceName,
		Version: s.cfg.App.Version, Environment: s.cfg.App.Environment, SampleRate: s.cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	s.tracerAdapter = otelAdapter
	return nil
}

// buildInfLoggingAndCheck registers the default audit logger and rate
// limiter as the "default" inf_logging/inf_check adapters.
func (s *Starter) buildInfLoggingAndCheck() error {
	auditLogger, err := audit.New(&audit.Config{
		Enabled: s.cfg.Audit.Enabled, Backend: s.cfg.Audit.Backend, FilePath: s.cfg.Audit.FilePath,
		BufferSize: s.cfg.Audit.BufferSize, FlushPeriod: s.cfg.Audit.FlushPeriod,
		ExcludeMethods: s.cfg.Audit.ExcludeMethods, IncludeRequest: s.cfg.Audit.IncludeRequest,
		IncludeResponse: s.cfg.Audit.IncludeResponse,
	})
	if err != nil {
		return err
	}
	s.auditLogger = auditLogger
	s.pluginLoader.Register("inf_logging", "builtin.default", func(map[string]any) (any, error) { return auditLogger, nil })
	if _, err := s.adapters.Load("default", "inf_logging", &types.PluginDescriptor{Module: "builtin", Class: "default"}); err != nil {
		return err
	}

	limiter, err := ratelimit.New(&ratelimit.Config{
		Requests: s.cfg.RateLimit.Requests, Window: s.cfg.RateLimit.Window, Strategy: s.cfg.RateLimit.Strategy,
		Backend: s.cfg.RateLimit.Backend, BurstSize: s.cfg.RateLimit.BurstSize,
		CleanupInterval: s.cfg.RateLimit.CleanupInterval, RedisAddr: s.cfg.RateLimit.RedisAddr,
	})
	if err != nil {
		return err
	}
	s.limiter = limiter
	checker := ratelimit.NewRateLimitChecker(limiter)
	s.pluginLoader.Register("inf_check", "builtin.default", func(map[string]any) (any, error) { return checker, nil })
	_, err = s.adapters.Load("default", "inf_check", &types.PluginDescriptor{Module: "builtin", Class: "default"})
	return err
}

// registerDefaultFormatters registers the framework's two stock server
// formatters ("default" -> plain JSON, "hivenet" -> HiveNet-std envelope)
// and its caller formatters, so service descriptors can reference them by
// id without an adapters.yaml entry.
func (s *Starter) registerDefaultFormatters() {
	httpServer := formatter.NewHTTPServerFormatter()
	s.pluginLoader.Register("formater_server", "builtin.default", func(map[string]any) (any, error) { return httpServer, nil })
	s.adapters.Load("default", "formater_server", &types.PluginDescriptor{Module: "builtin", Class: "default"})

	hivenetServer := formatter.NewHiveNetServerFormatter(s.cfg.Cluster.System, s.cfg.Cluster.Module)
	s.pluginLoader.Register("formater_server", "builtin.hivenet", func(map[string]any) (any, error) { return hivenetServer, nil })
	s.adapters.Load("hivenet", "formater_server", &types.PluginDescriptor{Module: "builtin", Class: "hivenet"})

	httpCaller := formatter.NewHTTPCallerFormatter(10*time.Second, nil)
	s.pluginLoader.Register("formater_caller", "builtin.default", func(map[string]any) (any, error) { return httpCaller, nil })
	s.adapters.Load("default", "formater_caller", &types.PluginDescriptor{Module: "builtin", Class: "default"})

	grpcCaller := caller.NewGRPCCallerFormatter(client.ClientConfig{
		Timeout: 10 * time.Second, MaxRetries: s.cfg.Retry.MaxAttempts, RetryBackoff: s.cfg.Retry.InitialBackoff,
	})
	s.pluginLoader.Register("formater_caller", "builtin.grpc", func(map[string]any) (any, error) { return grpcCaller, nil })
	s.adapters.Load("grpc", "formater_caller", &types.PluginDescriptor{Module: "builtin", Class: "grpc"})
}

func (s *Starter) buildCluster() error {
	if !s.cfg.Cluster.Enabled {
		return nil
	}

	var backend cluster.Adapter
	switch s.cfg.Cache.Driver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: s.cfg.Cache.Address(), Password: s.cfg.Cache.Password, DB: s.cfg.Cache.DB})
		backend = cluster.NewRedis(rdb, slog.Default())
	default:
		etcd, err := etcdClient(s.cfg.Cluster.Endpoints, s.cfg.Cluster.DialTimeout)
		if err != nil {
			return err
		}
		backend = cluster.NewEtcd(etcd, slog.Default())
	}

	node := cluster.NodeKey{Namespace: s.cfg.Cluster.Namespace, SysID: s.cfg.Cluster.System, ModuleID: s.cfg.Cluster.Module, ServerID: s.cfg.App.ServerID}
	s.cluster = cluster.New(backend, cluster.Config{
		Node: node, AppName: s.cfg.App.Name, Expire: time.Duration(s.cfg.Cluster.LeaseTTLSeconds) * time.Second,
		HeartBeat: s.cfg.Cluster.HeartbeatInterval, EnableEvent: true, EventInterval: s.cfg.Cluster.EventInterval,
	})
	return nil
}

func (s *Starter) buildWebServer() error {
	s.pipeline = webserver.NewPipeline(s.adapters, s.tracerAdapter, s.loggers.Get("default"))

	switch s.cfg.WebServer.Kind {
	case "grpc":
		s.webServer = webserver.NewGRPCServer(webserver.GRPCConfig{
			AppName: s.cfg.App.Name, Host: s.cfg.WebServer.Host, Port: s.cfg.WebServer.Port,
			MaxRecvMsgSize: s.cfg.WebServer.MaxRecvMsgSize, MaxSendMsgSize: s.cfg.WebServer.MaxSendMsgSize,
			KeepAliveMaxIdle: s.cfg.WebServer.KeepAlive.MaxConnectionIdle, KeepAliveMaxAge: s.cfg.WebServer.KeepAlive.MaxConnectionAge,
			KeepAliveMaxAgeGrace: s.cfg.WebServer.KeepAlive.MaxConnectionAgeGrace, KeepAliveTime: s.cfg.WebServer.KeepAlive.Time,
			KeepAliveTimeout: s.cfg.WebServer.KeepAlive.Timeout, Development: s.cfg.IsDevelopment(),
		}, s.pipeline)
	case "", "http":
		origins := ""
		if len(s.cfg.WebServer.CORS.AllowedOrigins) > 0 {
			origins = s.cfg.WebServer.CORS.AllowedOrigins[0]
		}
		s.webServer = webserver.NewFiberServer(webserver.FiberConfig{
			AppName: s.cfg.App.Name, Host: s.cfg.WebServer.Host, Port: s.cfg.WebServer.Port, AllowOrigins: origins,
		}, s.pipeline)
	default:
		return fmt.Errorf("unknown web_server.kind %q", s.cfg.WebServer.Kind)
	}
	return nil
}

// loadServices resolves services.yaml, merges each descriptor with its
// named common_config fragments (fragment fields applied only where the
// descriptor left its own field unset, so the descriptor always wins),
// wraps each handler with the pipeline, and registers it on the web server
// and/or the Remote Caller as configured.
func (s *Starter) loadServices() error {
	if s.opts.ServicesPath == "" {
		return nil
	}
	file, err := config.LoadServicesFile(s.opts.ServicesPath)
	if err != nil {
		return err
	}

	for _, raw := range file.Services {
		desc := *mergeCommonConfig(raw, file.CommonConfig).WithDefaults()

		handler, ok := s.opts.ServiceHandlers[desc.Handler.Class]
		if !ok {
			return fmt.Errorf("service %s: no handler registered for %q", desc.ServiceID, desc.Handler.Class)
		}

		svcCfg := webserver.ServiceConfig{
			URI: desc.URI, Formatter: desc.Formatter, InfLogging: desc.InfLogging, InfCheck: desc.InfCheck,
			EnableTracer: desc.EnableTracer, TracerInjectFormat: desc.TracerInjectFormat,
		}

		if desc.EnableService && s.webServer != nil {
			if err := s.webServer.AddService(desc.URI, handler, svcCfg); err != nil {
				return fmt.Errorf("service %s: %w", desc.ServiceID, err)
			}
		}

		if desc.AllowLocalCall {
			s.caller.AddLocalService(desc.ServiceID, caller.LocalServiceConfig{
				ServiceName: desc.ServiceName, GroupName: desc.GroupName, Protocol: desc.Protocol,
				URI: desc.URI, Metadata: desc.Metadata, Handler: asLocalHandler(handler),
			})
		}

		s.registeredServices = append(s.registeredServices, desc)
	}
	return nil
}

// asLocalHandler bridges a webserver.HandlerFunc into the Remote Caller's
// LocalHandler shape, so a service hosted on the web server can also be
// reached in-process by another service's local_call_first path without a
// second handler implementation. LocalHandler carries positional/keyword
// args as explicit parameters (mirroring a remote call's URI/query
// placeholders); HandlerFunc has no such parameter, so they're stashed onto
// the standard request's network block under "args"/"kwargs" for the
// handler to read back, the same place http_caller.go already keeps
// call-level metadata like method/host/path.
func asLocalHandler(h webserver.HandlerFunc) caller.LocalHandler {
	return func(ctx context.Context, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error) {
		network := make(map[string]any, len(req.Network)+2)
		for k, v := range req.Network {
			network[k] = v
		}
		if len(args) > 0 {
			network["args"] = args
		}
		if len(kwargs) > 0 {
			network["kwargs"] = kwargs
		}

		stdReq := &types.Request{Network: network, Headers: req.Headers, Msg: req.Msg}
		resp, err := h(ctx, stdReq)
		if err != nil {
			return nil, err
		}

		status := 200
		if resp.Network.Status != "" && resp.Network.Status != string(apperror.WireSuccess) {
			status = 500
		}
		return &formatter.CallResponse{
			Network: map[string]any{"status": status},
			Headers: resp.Headers,
			Msg:     resp.Msg,
		}, nil
	}
}

func (s *Starter) loadRemoteServices() error {
	if s.opts.RemoteServicesPath == "" {
		return nil
	}
	file, err := config.LoadRemoteServicesFile(s.opts.RemoteServicesPath)
	if err != nil {
		return err
	}
	for _, raw := range file.RemoteServices {
		desc := *raw.WithDefaults()
		if err := s.caller.AddRemoteService(context.Background(), desc.ServiceID, desc); err != nil {
			return fmt.Errorf("remote service %s: %w", desc.ServiceID, err)
		}
	}
	return nil
}

// Start runs the after-start callback and then blocks in the web server's
// Start (or, in "no web" background mode, until ctx is canceled).
func (s *Starter) Start(ctx context.Context) error {
	if err := s.afterStart(ctx); err != nil {
		return fmt.Errorf("starter: after-start: %w", err)
	}

	if s.webServer == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.webServer.Start(ctx)
}

func (s *Starter) afterStart(ctx context.Context) error {
	if s.webServer != nil && s.isMainProcess {
		host, port := s.visitAddr()
		for _, desc := range s.registeredServices {
			metadata := map[string]string{}
			for k, v := range desc.Metadata {
				metadata[k] = v
			}
			metadata["uri"] = desc.URI
			if _, err := s.namingAdapter.AddInstance(ctx, desc.ServiceName, host, port, desc.GroupName, metadata); err != nil {
				slog.Default().Error("failed to register service instance", "service", desc.ServiceID, "error", err)
			}
		}
	}

	if s.cluster != nil {
		if err := s.cluster.Register(ctx); err != nil {
			return fmt.Errorf("cluster register: %w", err)
		}
	}

	if s.opts.AfterServerStart != nil {
		return s.opts.AfterServerStart(ctx)
	}
	return nil
}

// Stop runs the before-stop callback, in the order spec'd: the app task,
// then cluster deregistration (log on failure), then naming
// deregistration (log on failure per service), then tracer release, then
// the web server itself.
func (s *Starter) Stop(ctx context.Context) error {
	if s.opts.BeforeServerStop != nil {
		if err := s.opts.BeforeServerStop(ctx); err != nil {
			slog.Default().Error("before-stop task failed", "error", err)
		}
	}

	if s.cluster != nil {
		if err := s.cluster.Deregister(ctx); err != nil {
			slog.Default().Error("cluster deregister failed", "error", err)
		}
	}

	host, port := s.visitAddr()
	for _, desc := range s.registeredServices {
		if _, err := s.namingAdapter.RemoveInstance(ctx, desc.ServiceName, desc.GroupName, host, port); err != nil {
			slog.Default().Error("naming deregister failed", "service", desc.ServiceID, "error", err)
		}
	}

	if s.tracerAdapter != nil {
		if err := s.tracerAdapter.Close(ctx); err != nil {
			slog.Default().Error("tracer close failed", "error", err)
		}
	}

	if s.webServer != nil {
		if err := s.webServer.Stop(ctx); err != nil {
			slog.Default().Error("web server stop failed", "error", err)
		}
	}

	s.releaseProcessLock()
	return nil
}

// Catalog returns the loaded i18n message catalog.
func (s *Starter) Catalog() *i18n.Catalog { return s.catalog }

// Caller returns the Remote Caller, for a handler that needs to call
// another service.
func (s *Starter) Caller() *caller.RemoteCaller { return s.caller }

// Registry returns the Global Registry populated with every singleton
// built during boot, for code that's handed the registry rather than the
// Starter itself (the registry is what spec.md §4.5 calls GlobalManager).
func (s *Starter) Registry() *registry.Registry { return s.registry }

// visitAddr returns the host/port this instance advertises to the Naming
// Adapter: Options.VisitHost/VisitPort when set (the instance sits behind
// a NAT or load balancer and its dial-in address differs from what it
// binds), otherwise the web server's own listen address.
func (s *Starter) visitAddr() (string, int) {
	host, port := s.cfg.WebServer.Host, s.cfg.WebServer.Port
	if s.opts.VisitHost != "" {
		host = s.opts.VisitHost
	}
	if s.opts.VisitPort != 0 {
		port = s.opts.VisitPort
	}
	return host, port
}

// mergeCommonConfig overlays desc.CommonConfig's named fragments onto desc,
// in list order, so a later fragment overrides an earlier one wherever both
// set the same field -- the descriptor's own explicit config, captured in
// own before any fragment is applied, always wins over every fragment.
func mergeCommonConfig(desc types.ServiceDescriptor, fragments map[string]map[string]any) *types.ServiceDescriptor {
	own := desc
	for _, name := range desc.CommonConfig {
		frag, ok := fragments[name]
		if !ok {
			continue
		}
		applyFragment(&desc, own, frag)
	}
	return &desc
}

// applyFragment overlays one common_config fragment's fields onto desc,
// skipping any field own (the descriptor before any fragment was applied)
// already set explicitly.
func applyFragment(desc *types.ServiceDescriptor, own types.ServiceDescriptor, frag map[string]any) {
	if own.Formatter == "" {
		if v, ok := frag["formatter"].(string); ok {
			desc.Formatter = v
		}
	}
	if own.InfLogging == "" {
		if v, ok := frag["inf_logging"].(string); ok {
			desc.InfLogging = v
		}
	}
	if own.InfCheck == "" {
		if v, ok := frag["inf_check"].(string); ok {
			desc.InfCheck = v
		}
	}
	if own.Naming == "" {
		if v, ok := frag["naming"].(string); ok {
			desc.Naming = v
		}
	}
	if !own.EnableTracer {
		if v, ok := frag["enable_tracer"].(bool); ok {
			desc.EnableTracer = v
		}
	}
}

func etcdClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: dialTimeout})
}
