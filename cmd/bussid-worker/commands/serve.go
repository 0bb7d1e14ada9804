package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"bussid/internal/config"
	"bussid/internal/domain"
	"bussid/internal/interface/clients"
	"bussid/internal/interface/handler"
	"bussid/internal/interface/network"
	"bussid/internal/interface/repository/cache"
	"bussid/internal/interface/repository/live"
	"bussid/internal/interface/repository/metrics"
	"bussid/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker front and the admin server",
	Long: `Run the worker front and the admin server.

On start the configured generation is installed and activated: the shell
is pre-cached, older cache stores are deleted and connected pages are told
to reload. A new generation can be rolled out at runtime with
POST /lifecycle/deploy on the admin server.

Examples:
  # Start with defaults
  bussid-worker serve

  # Serve a new generation with a JSON log
  bussid-worker serve --generation 1.2.4 --log-format json

  # Override settings from the environment
  BUSSID_STORAGE_BACKEND=file bussid-worker serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("script-url", "", "Worker script URL the scope is derived from (required, must not be served by --listen)")
	f.String("generation", "", "Cache generation to install")
	f.String("listen", "", "Worker front listen address")
	f.String("admin", "", "Admin server listen address")
	f.String("storage", "", "Storage backend (badger, file, memory)")
	f.String("cache-dir", "", "Cache directory")
	f.String("live-file", "", "Always-live hosts file")
	f.String("log-dir", "", "Log directory (empty for stderr)")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.String("log-format", "", "Log format (text, json)")
	f.String("metrics-file", "", "Metrics snapshot file")
	f.Duration("fetch-timeout", 0, "Network fetch timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := prepareDirectories(cfg); err != nil {
		return fmt.Errorf("failed to prepare directories: %w", err)
	}

	// ロガーの初期化
	loggerRepo, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer loggerRepo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 常時ライブのホスト一覧
	liveRepo, err := live.New(cfg.Live.File, loggerRepo)
	if err != nil {
		loggerRepo.Error("Failed to load live hosts", err, nil)
		return err
	}
	if cfg.Live.Watch {
		go func() {
			if err := liveRepo.Watch(ctx); err != nil {
				loggerRepo.Error("Live hosts watcher stopped", err, nil)
			}
		}()
	}

	// キャッシュストレージの初期化
	storage, closeStorage, err := cache.New(cfg.Storage.Backend, cfg.Storage.Dir)
	if err != nil {
		loggerRepo.Error("Failed to initialize cache storage", err, nil)
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			loggerRepo.Error("Failed to close cache storage", err, nil)
		}
	}()

	// メトリクスの初期化
	metricsRepo := metrics.New(cfg.Metrics.File)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metricsRepo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metricsUseCase := usecase.NewMetricsUseCase(
		metricsRepo,
		loggerRepo,
		usecase.MetricsConfig{SaveInterval: cfg.Metrics.SaveInterval},
	)
	metricsUseCase.Start()
	defer metricsUseCase.Stop()

	scope := cfg.Scope()
	hub := clients.NewHub(metricsRepo, loggerRepo)
	fetcher := network.NewFetcher(scope, cfg.Network.Timeout,
		network.WithMaxBodySize(cfg.Network.MaxBodySize))

	host := domain.Host{
		Scope:   scope,
		Caches:  storage,
		Clients: hub,
		Network: fetcher,
		Live:    liveRepo,
		Metrics: metricsRepo,
		Logger:  loggerRepo,
	}
	registration := usecase.NewRegistration(host)

	// ハンドラーの作成
	clientsHandler := handler.NewClientsHandler(hub, loggerRepo)
	workerHandler := handler.NewWorkerHandler(
		registration,
		usecase.NewTunnelUseCase(metricsRepo, loggerRepo),
		fetcher,
		scope,
		clientsHandler,
		loggerRepo,
	)
	adminRouter := handler.NewAdminRouter(
		handler.NewMetricsHandler(metricsUseCase, loggerRepo),
		handler.NewLifecycleHandler(registration, storage, hub, liveRepo, loggerRepo),
		registry,
		loggerRepo,
	)

	workerServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           workerHandler,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE購読はシャットダウン時に ctx の終了で切断する
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	adminServer := &http.Server{
		Addr:              cfg.Server.Admin,
		Handler:           adminRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	// サーバーの起動
	go func() {
		loggerRepo.Info("Starting worker front", map[string]interface{}{
			"addr":  cfg.Server.Listen,
			"scope": scope.String(),
		})
		if err := workerServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			loggerRepo.Error("Worker front error", err, nil)
			cancel()
		}
	}()

	go func() {
		loggerRepo.Info("Starting admin server", map[string]interface{}{"addr": cfg.Server.Admin})
		if err := adminServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			loggerRepo.Error("Admin server error", err, nil)
			cancel()
		}
	}()

	// 起動時の世代を登録
	go func() {
		result, err := registration.Register(ctx, domain.Generation(cfg.Worker.Generation))
		if err != nil {
			loggerRepo.Error("Failed to register worker", err, map[string]interface{}{
				"generation": cfg.Worker.Generation,
			})
			return
		}
		fields := map[string]interface{}{"generation": result.Generation}
		if result.Install != nil {
			fields["cached"] = len(result.Install.Cached)
			fields["failed"] = len(result.Install.Failed)
		}
		if result.Activation != nil {
			fields["purged_prior"] = result.Activation.PurgedPrior
			fields["deleted"] = len(result.Activation.Deleted)
		}
		loggerRepo.Info("Worker registered", fields)
	}()

	// シグナル待機
	select {
	case <-signalChan:
		loggerRepo.Info("Shutdown signal received", nil)
	case <-ctx.Done():
		loggerRepo.Info("Shutdown initiated", nil)
	}
	cancel()

	// グレースフルシャットダウン
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := workerServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down worker front", err, nil)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down admin server", err, nil)
	}

	loggerRepo.Info("Shutdown complete", nil)
	return nil
}

func prepareDirectories(cfg *config.Config) error {
	dirs := []string{filepath.Dir(cfg.Live.File)}
	if cfg.Logging.Dir != "" {
		dirs = append(dirs, cfg.Logging.Dir)
	}
	if cfg.Metrics.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Metrics.File))
	}
	if cfg.Storage.Backend != cache.BackendMemory {
		dirs = append(dirs, cfg.Storage.Dir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
