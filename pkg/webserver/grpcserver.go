package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// grpcRawJSONCodec mirrors pkg/caller's client-side rawJSONCodec:
// it lets a generic, schema-less gRPC service carry an arbitrary `any`
// payload, so a handler registered once can be reached over either
// transport without a compiled protobuf message per method.
type grpcRawJSONCodec struct{}

func (grpcRawJSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (grpcRawJSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (grpcRawJSONCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(grpcRawJSONCodec{})
}

// GRPCServer is the alternate Web Server Adapter: services are exposed as
// unary gRPC calls instead of HTTP routes. Because the framework's services
// have no compiled .proto, every call is caught by an UnknownServiceHandler
// and dispatched by full method name to whichever pipeline AddService
// registered under that name -- the keepalive/health/reflection wiring
// itself is carried over from the teacher's fixed-proto gRPC server almost
// verbatim.
type GRPCServer struct {
	server      *grpc.Server
	health      *health.Server
	pipeline    *Pipeline
	appName     string
	addr        string
	development bool

	mu       sync.RWMutex
	handlers map[string]func(ctx context.Context, raw any) (any, error)
}

// GRPCConfig configures a GRPCServer.
type GRPCConfig struct {
	AppName               string
	Host                  string
	Port                  int
	MaxRecvMsgSize        int
	MaxSendMsgSize        int
	MaxConcurrentStreams  int
	KeepAliveMaxIdle      time.Duration
	KeepAliveMaxAge       time.Duration
	KeepAliveMaxAgeGrace  time.Duration
	KeepAliveTime         time.Duration
	KeepAliveTimeout      time.Duration
	Development           bool // enables reflection
}

// NewGRPCServer builds a GRPCServer bound to cfg.Host:cfg.Port, hosting every
// service AddService registers through pipeline.
func NewGRPCServer(cfg GRPCConfig, pipeline *Pipeline) *GRPCServer {
	s := &GRPCServer{
		appName:     cfg.AppName,
		addr:        hostPort(cfg.Host, cfg.Port),
		development: cfg.Development,
		pipeline:    pipeline,
		handlers:    make(map[string]func(ctx context.Context, raw any) (any, error)),
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     cfg.KeepAliveMaxIdle,
		MaxConnectionAge:      cfg.KeepAliveMaxAge,
		MaxConnectionAgeGrace: cfg.KeepAliveMaxAgeGrace,
		Time:                  cfg.KeepAliveTime,
		Timeout:               cfg.KeepAliveTimeout,
	}
	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.UnknownServiceHandler(s.handleUnknownService),
	}
	if cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize))
	}
	if cfg.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(cfg.MaxSendMsgSize))
	}
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.MaxConcurrentStreams)))
	}

	s.server = grpc.NewServer(opts...)

	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.server, s.health)

	if cfg.Development {
		reflection.Register(s.server)
	}

	return s
}

func (s *GRPCServer) Name() string   { return s.appName }
func (s *GRPCServer) NativeApp() any { return s.server }

// AddService registers handler as the gRPC method named serviceURI. A
// client dials and calls conn.Invoke(ctx, serviceURI, req, &reply, ...)
// exactly as pkg/caller's GRPCCallerFormatter does.
func (s *GRPCServer) AddService(serviceURI string, handler HandlerFunc, cfg ServiceConfig) error {
	cfg.URI = serviceURI
	wrapped := s.pipeline.Wrap(cfg, handler)

	s.mu.Lock()
	s.handlers[serviceURI] = wrapped
	s.mu.Unlock()
	return nil
}

func (s *GRPCServer) handleUnknownService(srv any, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.Method(stream.Context())
	if !ok {
		return status.Error(codes.Internal, "webserver: cannot determine method name")
	}

	s.mu.RLock()
	wrapped, ok := s.handlers[fullMethod]
	s.mu.RUnlock()
	if !ok {
		return status.Errorf(codes.Unimplemented, "webserver: method %s not registered", fullMethod)
	}

	var reqMsg any
	if err := stream.RecvMsg(&reqMsg); err != nil {
		return status.Errorf(codes.InvalidArgument, "webserver: failed to decode request: %v", err)
	}

	result, err := wrapped(stream.Context(), reqMsg)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(result)
}

// Start begins serving and blocks until the listener returns.
func (s *GRPCServer) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("webserver: failed to listen: %w", err)
	}

	s.health.SetServingStatus(s.appName, grpc_health_v1.HealthCheckResponse_SERVING)
	return s.server.Serve(lis)
}

// Stop gracefully stops the server, forcing it once ctx is done.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.health.SetServingStatus(s.appName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}
