package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bussid/internal/domain"
)

// NewAdminRouter は管理用のHTTPルーターを作成する.
//
// Routes:
//   - GET /health - ヘルスチェック
//   - GET /metrics - Prometheus形式のメトリクス
//   - GET /stats - JSON形式の統計情報
//   - GET /status - ワーカー, ストア, クライアントの状態
//   - GET /stores - ストアごとのエントリ数
//   - POST /lifecycle/deploy - 新しい世代の登録
func NewAdminRouter(
	metrics *MetricsHandler,
	lifecycle *LifecycleHandler,
	gatherer prometheus.Gatherer,
	logger domain.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", metrics.HandleHealth)
	r.Get("/stats", metrics.HandleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/status", lifecycle.HandleStatus)
	r.Get("/stores", lifecycle.HandleStores)
	r.Route("/lifecycle", func(r chi.Router) {
		// デプロイはリクエストのキャンセルと切り離して最後まで実行する
		r.Use(middleware.NoCache)
		r.Post("/deploy", lifecycle.HandleDeploy)
	})

	return r
}

// requestLogger はリクエストの完了をロガーへ記録する.
// ヘルスチェックとメトリクスの取得はDEBUGに落とす.
func requestLogger(logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				logger.Debug("Admin request completed", fields)
				return
			}
			logger.Info("Admin request completed", fields)
		})
	}
}
