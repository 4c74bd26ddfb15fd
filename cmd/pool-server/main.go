// Package main is the entry point for pool-server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pool-server/internal/api"
	"pool-server/internal/client"
	"pool-server/internal/config"
	"pool-server/internal/events"
	"pool-server/internal/httpd"
	"pool-server/internal/logger"
	"pool-server/internal/metrics"
	"pool-server/internal/recovery"
	"pool-server/internal/worker"
)

var (
	version = "dev"
)

// flags はコマンドライン引数
type flags struct {
	configFile    string
	addr          string
	workers       int
	staticDir     string
	adminAddr     string
	logLevel      string
	respawn       bool
	bench         bool
	benchRequests uint64
	benchDuration time.Duration
	benchWorkers  int
}

func main() {
	var f flags
	showVersion := flag.Bool("version", false, "バージョンを表示")
	flag.StringVar(&f.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&f.addr, "addr", "", "待ち受けアドレス (例: 127.0.0.1:7878)")
	flag.IntVar(&f.workers, "workers", 0, "ワーカー数")
	flag.StringVar(&f.staticDir, "static", "", "静的ファイルのディレクトリ")
	flag.StringVar(&f.adminAddr, "admin", "", "管理サーバーのアドレス (指定すると有効化)")
	flag.StringVar(&f.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flag.BoolVar(&f.respawn, "respawn", false, "終了したワーカーを自動で再生成")
	flag.BoolVar(&f.bench, "bench", false, "サーバーに負荷をかけて結果を表示")
	flag.Uint64Var(&f.benchRequests, "bench-requests", 1000, "負荷生成のリクエスト数 (0で -bench-duration まで)")
	flag.DurationVar(&f.benchDuration, "bench-duration", 10*time.Second, "負荷生成の実行時間")
	flag.IntVar(&f.benchWorkers, "bench-workers", 0, "負荷生成のワーカー数 (0でCPU数)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `pool-server - static responses served by a fixed worker pool

Usage:
  pool-server [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # デフォルト設定で起動 (127.0.0.1:7878, 4 workers)
  pool-server

  # 設定ファイルから起動
  pool-server --config pool-server.yaml

  # 管理APIつきで起動
  pool-server --workers 8 --admin 127.0.0.1:9090

  # 起動中のサーバーに負荷をかける
  pool-server --bench --addr 127.0.0.1:7878 --bench-requests 5000
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("pool-server version %s\n", version)
		return
	}

	cfg, err := buildConfig(f)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	level, _ := cfg.LogLevel()
	logger.Default.SetLevel(level)

	if f.bench {
		if err := runBench(cfg, f); err != nil {
			logger.Error("", "負荷生成エラー: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		logger.Error("", "サーバーエラー: %v", err)
		os.Exit(1)
	}
}

// buildConfig は設定ファイルとフラグから設定を組み立てる
func buildConfig(f flags) (*config.FileConfig, error) {
	cfg := config.Default()

	if f.configFile != "" {
		loaded, err := config.LoadFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		cfg = loaded
	}

	// フラグでオーバーライド
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.workers > 0 {
		cfg.Pool.Size = f.workers
	}
	if f.staticDir != "" {
		cfg.Server.StaticDir = f.staticDir
	}
	if f.adminAddr != "" {
		cfg.Admin.Enabled = true
		cfg.Admin.Addr = f.adminAddr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.respawn {
		cfg.Pool.Respawn = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return cfg, nil
}

// runServer はシグナルを受けるまでサーバーを動かし、プールを停止する
func runServer(cfg *config.FileConfig) error {
	serverCfg, err := cfg.ToServerConfig()
	if err != nil {
		return err
	}
	supervisorCfg, err := cfg.ToSupervisorConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("", "Shutdown signal received")
		cancel()
	}()

	bus := events.NewBus()
	defer bus.Close()

	pool := worker.NewWithConfig(worker.PoolConfig{
		Size:   cfg.Pool.Size,
		Events: bus,
	})

	front := httpd.New(pool, serverCfg)
	if err := front.Listen(); err != nil {
		return joinShutdown(err, pool.Shutdown())
	}

	supervisor := recovery.New(pool, supervisorCfg)
	supervisor.SetEventBus(bus)
	if supervisorCfg.AutoRespawn {
		supervisor.Start(ctx)
	}

	if cfg.Admin.Enabled {
		admin := api.NewServer(cfg.Admin.Addr, pool, bus)
		admin.SetFrontend(front)
		admin.SetSupervisor(supervisor)
		go func() {
			if err := admin.Start(ctx); err != nil {
				logger.Error("admin", "Admin server failed: %v", err)
			}
		}()
	}

	serveErr := front.Serve(ctx)

	// 受付停止 → 監視停止 → キューを閉じて全ワーカーを待つ
	supervisor.Stop()
	return joinShutdown(serveErr, pool.Shutdown())
}

func joinShutdown(serveErr, shutdownErr error) error {
	switch {
	case serveErr != nil && shutdownErr != nil:
		return fmt.Errorf("%w (shutdown: %v)", serveErr, shutdownErr)
	case serveErr != nil:
		return serveErr
	case shutdownErr != nil:
		return fmt.Errorf("worker pool shutdown: %w", shutdownErr)
	}
	return nil
}

// runBench は起動中のサーバーに負荷をかけ、結果を表示する
func runBench(cfg *config.FileConfig, f flags) error {
	serverCfg, err := cfg.ToServerConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	clientCfg := client.DefaultConfig()
	clientCfg.NumWorkers = f.benchWorkers
	c := client.New(serverCfg.Addr, clientCfg)

	fmt.Printf("Benchmarking %s\n", serverCfg.Addr)
	fmt.Println("====================================================")

	var snap *metrics.Snapshot
	if f.benchRequests > 0 {
		snap = c.RunRequests(ctx, f.benchRequests)
	} else {
		snap = c.RunFor(ctx, f.benchDuration)
	}

	fmt.Printf("Requests:   %d (ok %d, failed %d)\n", snap.TotalJobs, snap.SuccessJobs, snap.FailedJobs)
	fmt.Printf("Throughput: %.1f req/s\n", snap.Throughput)
	fmt.Printf("Latency:    avg %v, p99 %v\n", snap.AverageLatency, snap.P99Latency)
	fmt.Printf("Error rate: %.2f%%\n", snap.ErrorRate*100)

	if snap.TotalJobs > 0 && snap.SuccessJobs == 0 {
		return fmt.Errorf("no successful requests against %s", serverCfg.Addr)
	}
	return nil
}
