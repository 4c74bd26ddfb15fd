package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pool-server/internal/httpd"
	"pool-server/internal/logger"
	"pool-server/internal/recovery"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Pool   PoolConfig   `yaml:"pool" json:"pool"`
	Admin  AdminConfig  `yaml:"admin" json:"admin"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// ServerConfig はTCPフロントエンドの設定
type ServerConfig struct {
	Addr        string        `yaml:"addr" json:"addr"`
	MaxConns    *int          `yaml:"max_conns" json:"max_conns"` // 0 で無制限、未指定ならデフォルト
	ReadTimeout string        `yaml:"read_timeout" json:"read_timeout"`
	StaticDir   string        `yaml:"static_dir" json:"static_dir"`
	Routes      []RouteConfig `yaml:"routes" json:"routes"`
	NotFound    *RouteConfig  `yaml:"not_found" json:"not_found"`
}

// RouteConfig はリクエスト行とレスポンスの対応
type RouteConfig struct {
	RequestLine string `yaml:"request_line" json:"request_line"`
	Status      string `yaml:"status" json:"status"`
	File        string `yaml:"file" json:"file"`
}

// PoolConfig はワーカープールと監視の設定
type PoolConfig struct {
	Size           int    `yaml:"size" json:"size"`
	Respawn        bool   `yaml:"respawn" json:"respawn"`
	HealthInterval string `yaml:"health_interval" json:"health_interval"`
	RespawnDelay   string `yaml:"respawn_delay" json:"respawn_delay"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
}

// AdminConfig は管理用HTTPサーバーの設定
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// DefaultPoolSize は設定がないときのワーカー数
const DefaultPoolSize = 4

// DefaultAdminAddr は管理サーバーのデフォルトアドレス
const DefaultAdminAddr = "127.0.0.1:9090"

// Default はファイルなしで使うデフォルト設定を返す
func Default() *FileConfig {
	return &FileConfig{
		Pool:  PoolConfig{Size: DefaultPoolSize},
		Admin: AdminConfig{Addr: DefaultAdminAddr},
		Log:   LogConfig{Level: "info"},
	}
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return config, nil
}

// ToServerConfig はFileConfigをhttpd.Configに変換する
func (f *FileConfig) ToServerConfig() (httpd.Config, error) {
	sc := f.Server

	// デフォルト値の設定
	config := httpd.DefaultConfig()

	if sc.Addr != "" {
		config.Addr = sc.Addr
	}
	if sc.MaxConns != nil {
		config.MaxConns = *sc.MaxConns
	}
	if sc.ReadTimeout != "" {
		d, err := time.ParseDuration(sc.ReadTimeout)
		if err != nil {
			return config, fmt.Errorf("invalid read_timeout: %w", err)
		}
		config.ReadTimeout = d
	}
	if sc.StaticDir != "" {
		config.StaticDir = sc.StaticDir
	}
	if len(sc.Routes) > 0 {
		config.Routes = make([]httpd.Route, 0, len(sc.Routes))
		for _, r := range sc.Routes {
			config.Routes = append(config.Routes, httpd.Route(r))
		}
	}
	if sc.NotFound != nil {
		config.NotFound = httpd.Route{Status: sc.NotFound.Status, File: sc.NotFound.File}
	}

	return config, nil
}

// ToSupervisorConfig はFileConfigをrecovery.Configに変換する
func (f *FileConfig) ToSupervisorConfig() (recovery.Config, error) {
	pc := f.Pool

	config := recovery.DefaultConfig()
	config.AutoRespawn = pc.Respawn

	if pc.HealthInterval != "" {
		d, err := time.ParseDuration(pc.HealthInterval)
		if err != nil {
			return config, fmt.Errorf("invalid health_interval: %w", err)
		}
		config.HealthCheckInterval = d
	}
	if pc.RespawnDelay != "" {
		d, err := time.ParseDuration(pc.RespawnDelay)
		if err != nil {
			return config, fmt.Errorf("invalid respawn_delay: %w", err)
		}
		config.RecoveryDelay = d
	}
	if pc.MaxRetries > 0 {
		config.MaxRetries = pc.MaxRetries
	}

	return config, nil
}

// LogLevel はログレベルを返す
func (f *FileConfig) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(f.Log.Level)
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be positive")
	}

	if f.Pool.MaxRetries < 0 {
		return fmt.Errorf("pool.max_retries must be non-negative")
	}

	if f.Server.MaxConns != nil && *f.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must be non-negative")
	}

	for i, r := range f.Server.Routes {
		if r.RequestLine == "" {
			return fmt.Errorf("server.routes[%d].request_line is required", i)
		}
		if r.Status == "" || r.File == "" {
			return fmt.Errorf("server.routes[%d] needs status and file", i)
		}
	}

	if nf := f.Server.NotFound; nf != nil && (nf.Status == "" || nf.File == "") {
		return fmt.Errorf("server.not_found needs status and file")
	}

	if f.Admin.Enabled && f.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required when admin is enabled")
	}

	if _, err := f.LogLevel(); err != nil {
		return err
	}

	return nil
}
