// Command microcore is the framework's process entrypoint: start_service,
// the single CLI verb spec.md §6 defines, parses a flat set of key=value
// arguments (no subcommand framework -- only a handful of well-known keys
// are ever needed) and runs the Server Starter's full boot sequence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"microcore/pkg/config"
	"microcore/pkg/starter"
	"microcore/services/demo"
)

const usage = `usage: microcore start_service [key=value ...]

  help=y              print this message and exit
  base_path=PATH       directory containing application.yaml, services.yaml,
                       remoteServices.yaml and adapters.yaml (default: .)
  logs_path=PATH       write the default logger to PATH/microcore.log
  web_server=ID        web server kind to boot ("http" or "grpc");
                       web_server= (empty) boots in background mode with no
                       listener at all
  visit_host=HOST      address advertised to the Naming Adapter, if it
                       differs from the bind host
  visit_port=PORT      port advertised to the Naming Adapter
  host=HOST            override the web server's bind host
  port=PORT            override the web server's bind port
  server_id=ID         override this instance's server_id
`

// args is the parsed key=value command line; a key present with an empty
// value (e.g. "web_server=") is distinct from the key being absent.
type args map[string]string

func (a args) has(key string) bool {
	_, ok := a[key]
	return ok
}

func parseArgs(raw []string) args {
	a := make(args, len(raw))
	for _, tok := range raw {
		if tok == "start_service" {
			continue
		}
		key, value, _ := splitKV(tok)
		a[key] = value
	}
	return a
}

func splitKV(tok string) (key, value string, ok bool) {
	for i := 0; i < len(tok); i++ {
		if tok[i] == '=' {
			return tok[:i], tok[i+1:], true
		}
	}
	return tok, "", false
}

func main() {
	a := parseArgs(os.Args[1:])

	if a["help"] == "y" {
		fmt.Print(usage)
		os.Exit(0)
	}

	basePath := a["base_path"]
	if basePath == "" {
		basePath = "."
	}

	cfg, err := config.NewLoader(config.WithConfigPaths(filepath.Join(basePath, "application.yaml"))).Load()
	if err != nil {
		slog.Error("failed to load application.yaml", "error", err)
		os.Exit(1)
	}
	cfg.App.BasePath = basePath

	applyOverrides(cfg, a)

	opts := starter.Options{
		BasePath:           basePath,
		ServicesPath:       filepath.Join(basePath, "services.yaml"),
		RemoteServicesPath: filepath.Join(basePath, "remoteServices.yaml"),
		AdaptersPath:       filepath.Join(basePath, "adapters.yaml"),
		LockPath:           filepath.Join(basePath, "running_data", cfg.App.Name+".lock"),
		ServiceHandlers:    demo.Handlers(),
	}

	if a.has("web_server") {
		if a["web_server"] == "" {
			opts.NoWebServer = true
		} else {
			cfg.WebServer.Kind = a["web_server"]
		}
	}
	if v := a["visit_host"]; v != "" {
		opts.VisitHost = v
	}
	if v, err := strconv.Atoi(a["visit_port"]); err == nil {
		opts.VisitPort = v
	}

	s, err := starter.New(cfg, opts)
	if err != nil {
		slog.Error("failed to boot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down")
	case err := <-startErr:
		if err != nil && err != context.Canceled {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := s.Stop(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// applyOverrides maps the CLI's flat key=value arguments onto the loaded
// config document -- everything but web_server/visit_host/visit_port,
// which are starter.Options fields rather than config ones.
func applyOverrides(cfg *config.Config, a args) {
	if v := a["logs_path"]; v != "" {
		if lc, ok := cfg.Loggers["default"]; ok {
			lc.FilePath = filepath.Join(v, "microcore.log")
			lc.Output = "file"
			cfg.Loggers["default"] = lc
		}
	}
	if v := a["host"]; v != "" {
		cfg.WebServer.Host = v
	}
	if v, err := strconv.Atoi(a["port"]); err == nil {
		cfg.WebServer.Port = v
	}
	if v := a["server_id"]; v != "" {
		cfg.App.ServerID = v
	}
}
