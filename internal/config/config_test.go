package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pool-server/internal/logger"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

func intPtr(n int) *int {
	return &n
}

func TestLoadFileYAML(t *testing.T) {
	content := `
server:
  addr: 0.0.0.0:8000
  max_conns: 16
  read_timeout: 2s
  static_dir: /srv/www
  routes:
    - request_line: "GET / HTTP/1.1"
      status: "HTTP/1.1 200 OK"
      file: hello.html
    - request_line: "GET /about HTTP/1.1"
      status: "HTTP/1.1 200 OK"
      file: about.html
  not_found:
    status: "HTTP/1.1 404 NOT FOUND"
    file: missing.html
pool:
  size: 8
  respawn: true
  health_interval: 500ms
admin:
  enabled: true
  addr: 127.0.0.1:9999
log:
  level: debug
`
	cfg, err := LoadFile(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:8000" {
		t.Errorf("expected addr 0.0.0.0:8000, got '%s'", cfg.Server.Addr)
	}
	if cfg.Pool.Size != 8 {
		t.Errorf("expected pool size 8, got %d", cfg.Pool.Size)
	}
	if !cfg.Pool.Respawn {
		t.Error("expected respawn to be enabled")
	}
	if len(cfg.Server.Routes) != 2 {
		t.Errorf("expected 2 routes, got %d", len(cfg.Server.Routes))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadFileJSON(t *testing.T) {
	content := `{
  "server": {
    "addr": "127.0.0.1:7000"
  },
  "pool": {
    "size": 2
  },
  "log": {
    "level": "warn"
  }
}`
	cfg, err := LoadFile(writeConfig(t, "config.json", content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Pool.Size != 2 {
		t.Errorf("expected pool size 2, got %d", cfg.Pool.Size)
	}
	level, err := cfg.LogLevel()
	if err != nil || level != logger.LevelWarn {
		t.Errorf("expected warn level, got %v (%v)", level, err)
	}
	// ファイルにない項目はデフォルトのまま
	if cfg.Admin.Addr != DefaultAdminAddr {
		t.Errorf("expected default admin addr, got '%s'", cfg.Admin.Addr)
	}
}

func TestLoadFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "config.yml", "log:\n  level: error\n"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Pool.Size != DefaultPoolSize {
		t.Errorf("expected default pool size %d, got %d", DefaultPoolSize, cfg.Pool.Size)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	if _, err := LoadFile("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFileUnsupportedFormat(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "config.txt", "test")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "config.yaml", "pool: [size")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestToServerConfig(t *testing.T) {
	cfg := Default()
	cfg.Server = ServerConfig{
		Addr:        "127.0.0.1:8080",
		MaxConns:    intPtr(10),
		ReadTimeout: "750ms",
		StaticDir:   "www",
		Routes: []RouteConfig{
			{RequestLine: "GET /a HTTP/1.1", Status: "HTTP/1.1 200 OK", File: "a.html"},
		},
		NotFound: &RouteConfig{Status: "HTTP/1.1 404 NOT FOUND", File: "nope.html"},
	}

	serverCfg, err := cfg.ToServerConfig()
	if err != nil {
		t.Fatalf("failed to convert config: %v", err)
	}

	if serverCfg.Addr != "127.0.0.1:8080" {
		t.Errorf("expected addr 127.0.0.1:8080, got %s", serverCfg.Addr)
	}
	if serverCfg.MaxConns != 10 {
		t.Errorf("expected max conns 10, got %d", serverCfg.MaxConns)
	}
	if serverCfg.ReadTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", serverCfg.ReadTimeout)
	}
	if len(serverCfg.Routes) != 1 || serverCfg.Routes[0].File != "a.html" {
		t.Errorf("unexpected routes: %+v", serverCfg.Routes)
	}
	if serverCfg.NotFound.File != "nope.html" {
		t.Errorf("expected nope.html, got %s", serverCfg.NotFound.File)
	}
}

func TestToServerConfigUnlimitedConns(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "config.yaml", "server:\n  max_conns: 0\n"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	serverCfg, err := cfg.ToServerConfig()
	if err != nil {
		t.Fatalf("failed to convert config: %v", err)
	}
	if serverCfg.MaxConns != 0 {
		t.Errorf("expected explicit 0 to disable the cap, got %d", serverCfg.MaxConns)
	}
}

func TestToServerConfigDefaults(t *testing.T) {
	serverCfg, err := Default().ToServerConfig()
	if err != nil {
		t.Fatalf("failed to convert config: %v", err)
	}

	if serverCfg.Addr != "127.0.0.1:7878" {
		t.Errorf("expected default addr, got %s", serverCfg.Addr)
	}
	if len(serverCfg.Routes) != 1 || serverCfg.Routes[0].RequestLine != "GET / HTTP/1.1" {
		t.Errorf("unexpected default routes: %+v", serverCfg.Routes)
	}
	if serverCfg.NotFound.File != "404.html" {
		t.Errorf("expected 404.html, got %s", serverCfg.NotFound.File)
	}
}

func TestToServerConfigInvalidDuration(t *testing.T) {
	cfg := Default()
	cfg.Server.ReadTimeout = "invalid"

	if _, err := cfg.ToServerConfig(); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestToSupervisorConfig(t *testing.T) {
	cfg := Default()
	cfg.Pool.Respawn = true
	cfg.Pool.HealthInterval = "200ms"
	cfg.Pool.RespawnDelay = "1s"
	cfg.Pool.MaxRetries = 7

	sup, err := cfg.ToSupervisorConfig()
	if err != nil {
		t.Fatalf("failed to convert config: %v", err)
	}

	if !sup.AutoRespawn {
		t.Error("expected respawn to be enabled")
	}
	if sup.HealthCheckInterval != 200*time.Millisecond {
		t.Errorf("expected 200ms, got %v", sup.HealthCheckInterval)
	}
	if sup.RecoveryDelay != time.Second {
		t.Errorf("expected 1s, got %v", sup.RecoveryDelay)
	}
	if sup.MaxRetries != 7 {
		t.Errorf("expected 7 retries, got %d", sup.MaxRetries)
	}

	cfg.Pool.HealthInterval = "soon"
	if _, err := cfg.ToSupervisorConfig(); err == nil {
		t.Error("expected error for invalid health_interval")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*FileConfig)
		wantErr bool
	}{
		{"default", func(c *FileConfig) {}, false},
		{"zero pool size", func(c *FileConfig) { c.Pool.Size = 0 }, true},
		{"negative pool size", func(c *FileConfig) { c.Pool.Size = -1 }, true},
		{"negative max retries", func(c *FileConfig) { c.Pool.MaxRetries = -1 }, true},
		{"negative max conns", func(c *FileConfig) { c.Server.MaxConns = intPtr(-1) }, true},
		{"route without request line", func(c *FileConfig) {
			c.Server.Routes = []RouteConfig{{Status: "HTTP/1.1 200 OK", File: "a.html"}}
		}, true},
		{"route without file", func(c *FileConfig) {
			c.Server.Routes = []RouteConfig{{RequestLine: "GET / HTTP/1.1", Status: "HTTP/1.1 200 OK"}}
		}, true},
		{"incomplete not_found", func(c *FileConfig) {
			c.Server.NotFound = &RouteConfig{Status: "HTTP/1.1 404 NOT FOUND"}
		}, true},
		{"admin without addr", func(c *FileConfig) {
			c.Admin.Enabled = true
			c.Admin.Addr = ""
		}, true},
		{"unknown log level", func(c *FileConfig) { c.Log.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
