package starter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"microcore/pkg/caller"
	"microcore/pkg/config"
	"microcore/pkg/types"
	"microcore/pkg/webserver"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}
	cfg.WebServer.Port = 0
	cfg.Metrics.Enabled = false
	cfg.Audit.Backend = "stdout"
	return cfg
}

func writeServicesFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "services.yaml")
	content := `
services:
  - service_id: demo.ping
    service_name: demo
    uri: /demo/ping
    enable_service: true
    allow_local_call: true
    handler:
      class: ping
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write services.yaml: %v", err)
	}
	return path
}

func pingHandler(ctx context.Context, req *types.Request) (*types.Response, error) {
	resp := types.NewResponse()
	resp.Msg = "pong"
	return resp, nil
}

// TestMergeCommonConfigOrderIsC1ThenC2ThenOwn proves common_config: [c1, c2]
// merges c1 first, lets c2 override any field c1 also set, and never
// overrides a field the service descriptor already set itself.
func TestMergeCommonConfigOrderIsC1ThenC2ThenOwn(t *testing.T) {
	desc := types.ServiceDescriptor{
		CommonConfig: []string{"c1", "c2"},
		InfCheck:     "explicit",
	}
	fragments := map[string]map[string]any{
		"c1": {"formatter": "grpc", "naming": "from-c1"},
		"c2": {"formatter": "http", "inf_check": "from-c2"},
	}

	merged := mergeCommonConfig(desc, fragments)

	if merged.Formatter != "http" {
		t.Fatalf("Formatter = %q, want %q (c2 should override c1)", merged.Formatter, "http")
	}
	if merged.Naming != "from-c1" {
		t.Fatalf("Naming = %q, want %q (only c1 set it)", merged.Naming, "from-c1")
	}
	if merged.InfCheck != "explicit" {
		t.Fatalf("InfCheck = %q, want %q (own descriptor value must win over every fragment)", merged.InfCheck, "explicit")
	}
}

func TestNewBootsWithoutClusterOrServices(t *testing.T) {
	cfg := baseConfig(t)
	s, err := New(cfg, Options{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.webServer == nil {
		t.Fatal("expected a default web server adapter to be built")
	}
	if s.namingAdapter == nil {
		t.Fatal("expected a default naming adapter to be built")
	}
	if s.caller == nil {
		t.Fatal("expected a Remote Caller to be built")
	}
}

func TestNewRegistersServicesFromServicesFile(t *testing.T) {
	cfg := baseConfig(t)
	dir := t.TempDir()
	servicesPath := writeServicesFile(t, dir)

	s, err := New(cfg, Options{
		BasePath:     dir,
		ServicesPath: servicesPath,
		ServiceHandlers: map[string]webserver.HandlerFunc{
			"ping": pingHandler,
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(s.registeredServices) != 1 {
		t.Fatalf("expected 1 registered service, got %d", len(s.registeredServices))
	}
	if s.registeredServices[0].ServiceID != "demo.ping" {
		t.Errorf("expected service_id 'demo.ping', got %s", s.registeredServices[0].ServiceID)
	}

	resp, err := s.caller.Call(context.Background(), "demo.ping", &caller.CallRequest{})
	if err != nil {
		t.Fatalf("local call through Remote Caller failed: %v", err)
	}
	if resp.Msg != "pong" {
		t.Errorf("expected msg 'pong', got %v", resp.Msg)
	}
}

func TestNewMissingHandlerFailsFast(t *testing.T) {
	cfg := baseConfig(t)
	dir := t.TempDir()
	servicesPath := writeServicesFile(t, dir)

	_, err := New(cfg, Options{BasePath: dir, ServicesPath: servicesPath})
	if err == nil {
		t.Fatal("expected New to fail when a service's handler.class has no registered handler")
	}
}

func TestStopRunsBeforeStopHookEvenWithoutWebServer(t *testing.T) {
	cfg := baseConfig(t)
	called := false
	s, err := New(cfg, Options{
		BasePath:    t.TempDir(),
		NoWebServer: true,
		BeforeServerStop: func(ctx context.Context) error {
			called = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !called {
		t.Error("expected BeforeServerStop hook to run")
	}
}

func TestAcquireProcessLockMarksSecondProcessAsChild(t *testing.T) {
	cfg := baseConfig(t)
	lockPath := filepath.Join(t.TempDir(), "microcore.lock")

	main, err := New(cfg, Options{BasePath: t.TempDir(), LockPath: lockPath})
	if err != nil {
		t.Fatalf("New failed for main process: %v", err)
	}
	if !main.isMainProcess {
		t.Error("expected the first process to acquire the lock and be main")
	}

	child, err := New(cfg, Options{BasePath: t.TempDir(), LockPath: lockPath})
	if err != nil {
		t.Fatalf("New failed for child process: %v", err)
	}
	if child.isMainProcess {
		t.Error("expected the second process to observe the lock held and be non-main")
	}
}
