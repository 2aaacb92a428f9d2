package webserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"microcore/pkg/formatter"
)

// FiberServer is the default (HTTP) Web Server Adapter, grounded on the
// fiber.New + cors + logger wiring used to stand up the framework's other
// HTTP services: a plain app.New with request logging and permissive CORS,
// one route per registered service.
type FiberServer struct {
	app      *fiber.App
	pipeline *Pipeline
	appName  string
	addr     string
}

// FiberConfig configures a FiberServer.
type FiberConfig struct {
	AppName      string
	Host         string
	Port         int
	AllowOrigins string // cors.Config.AllowOrigins, "*" if empty
	BodyLimit    int    // bytes, fiber default if zero
}

// NewFiberServer builds a FiberServer bound to cfg.Host:cfg.Port.
func NewFiberServer(cfg FiberConfig, pipeline *Pipeline) *FiberServer {
	fiberCfg := fiber.Config{
		AppName:       cfg.AppName,
		StrictRouting: false,
	}
	if cfg.BodyLimit > 0 {
		fiberCfg.BodyLimit = cfg.BodyLimit
	}

	app := fiber.New(fiberCfg)
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	allowOrigins := cfg.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,HEAD,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	return &FiberServer{
		app:      app,
		pipeline: pipeline,
		appName:  cfg.AppName,
		addr:     hostPort(cfg.Host, cfg.Port),
	}
}

func (s *FiberServer) Name() string   { return s.appName }
func (s *FiberServer) NativeApp() any { return s.app }

// Start begins serving; it blocks until the listener returns (error or
// a graceful Stop-triggered shutdown).
func (s *FiberServer) Start(ctx context.Context) error {
	return s.app.Listen(s.addr)
}

// Stop shuts the fiber app down, waiting for in-flight requests to drain.
func (s *FiberServer) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// AddService registers handler at serviceURI for every HTTP method (the
// formatter, not the route, is what actually interprets the request);
// matches services.yaml's convention of one uri per service regardless of
// verb.
func (s *FiberServer) AddService(serviceURI string, handler HandlerFunc, cfg ServiceConfig) error {
	cfg.URI = serviceURI
	wrapped := s.pipeline.Wrap(cfg, handler)

	s.app.All(serviceURI, func(c *fiber.Ctx) error {
		httpReq, err := toHTTPRequest(c)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		result, err := wrapped(c.UserContext(), httpReq)
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		wire, ok := result.(formatter.WireResponse)
		if !ok {
			return c.JSON(result)
		}

		for k, v := range wire.Headers {
			c.Set(k, v)
		}
		return c.Status(wire.Status).Send(wire.Body)
	})

	return nil
}

// toHTTPRequest adapts fiber's fasthttp-backed request into a *http.Request
// so the common HTTPServerFormatter can read it without any fiber-specific
// formatter implementation.
func toHTTPRequest(c *fiber.Ctx) (*http.Request, error) {
	httpReq, err := http.NewRequest(string(c.Method()), c.OriginalURL(), nil)
	if err != nil {
		return nil, err
	}
	if err := fasthttpadaptor.ConvertRequest(c.Context(), httpReq, true); err != nil {
		return nil, err
	}
	httpReq.RemoteAddr = c.IP()
	return httpReq.WithContext(c.UserContext()), nil
}

func hostPort(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + strconv.Itoa(port)
}
