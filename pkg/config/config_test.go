package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "weftmesh" {
		t.Fatalf("app_name = %q", cfg.AppName)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("log defaults: %+v", cfg.Log)
	}
	if len(cfg.Echo.Listeners) != 1 || cfg.Echo.Listeners[0] != "ws://0.0.0.0:7787" {
		t.Fatalf("echo defaults: %+v", cfg.Echo)
	}
	if cfg.Probe.Count != 4 || cfg.Probe.Encoding != "cbor" || cfg.Probe.IPVersion != "both" {
		t.Fatalf("probe defaults: %+v", cfg.Probe)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("WEFTMESH_LOG_LEVEL", "debug")
	t.Setenv("WEFTMESH_PROBE_ENCODING", "json")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Probe.Encoding != "json" {
		t.Fatalf("probe.encoding = %q", cfg.Probe.Encoding)
	}
}

func TestFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weftmesh.yaml")
	body := []byte("app_name: testapp\necho:\n  listeners:\n    - tcp://127.0.0.1:9000\n    - quic://127.0.0.1:9001\nprobe:\n  target: ws://127.0.0.1:9000\n  count: 2\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "testapp" {
		t.Fatalf("app_name = %q", cfg.AppName)
	}
	if len(cfg.Echo.Listeners) != 2 || cfg.Echo.Listeners[0] != "tcp://127.0.0.1:9000" {
		t.Fatalf("echo.listeners = %+v", cfg.Echo.Listeners)
	}
	if cfg.Probe.Target != "ws://127.0.0.1:9000" || cfg.Probe.Count != 2 {
		t.Fatalf("probe = %+v", cfg.Probe)
	}
	// untouched fields keep their defaults
	if cfg.Probe.PayloadLen != 56 {
		t.Fatalf("probe.payload_len = %d", cfg.Probe.PayloadLen)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := map[string]string{
		"WEFTMESH_LOG_LEVEL":        "loud",
		"WEFTMESH_PROBE_ENCODING":   "msgpack",
		"WEFTMESH_PROBE_IP_VERSION": "5",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if _, err := Load(""); err == nil {
				t.Fatalf("%s=%s accepted", env, val)
			}
		})
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit missing config accepted")
	}
}
