package usecase

import (
	"context"
	"net/http"
	"strings"

	"bussid/internal/domain"
)

// Decision はリクエストの分類結果を表す.
type Decision int

const (
	// DecisionCacheFirst はキャッシュ優先でネットワーク補充する.
	DecisionCacheFirst Decision = iota
	// DecisionBypassMethod はGET以外のため横取りしない.
	DecisionBypassMethod
	// DecisionBypassExtension はブラウザ拡張スキームのため横取りしない.
	DecisionBypassExtension
	// DecisionBypassLive は常時ライブのエンドポイントのため横取りしない.
	DecisionBypassLive
	// DecisionNotActive はワーカーがまだ(またはもう)制御していない.
	DecisionNotActive
)

func (d Decision) String() string {
	switch d {
	case DecisionCacheFirst:
		return "cache-first"
	case DecisionBypassMethod:
		return "method"
	case DecisionBypassExtension:
		return "extension"
	case DecisionBypassLive:
		return "live"
	case DecisionNotActive:
		return "not-active"
	default:
		return "unknown"
	}
}

// Intercepts はこの分類でワーカーがレスポンスを生成するかどうかを返す.
func (d Decision) Intercepts() bool {
	return d == DecisionCacheFirst
}

// extensionSchemes はブラウザ拡張のURLスキーム.
var extensionSchemes = []string{
	"chrome-extension",
	"moz-extension",
	"safari-web-extension",
	"ms-browser-extension",
}

// Outcome はルーティング結果を表す.
// 横取りしなかった場合 Response は nil で, ホストの既定のネットワーク経路に任せる.
type Outcome struct {
	Decision  Decision
	Response  *domain.Response
	FromCache bool
}

// Intercepted はワーカーがレスポンスを返したかどうか.
func (o *Outcome) Intercepted() bool {
	return o.Decision.Intercepts()
}

// Router はリクエストを分類し, キャッシュ優先経路かネットワークへ振り分ける.
type Router struct {
	generation domain.Generation
	caches     domain.CacheStorage
	network    domain.Fetcher
	live       domain.LiveEndpoints
	metrics    domain.MetricsCollector
	logger     domain.Logger
}

// NewRouter は新しいRouterインスタンスを作成
func NewRouter(generation domain.Generation, host domain.Host) *Router {
	return &Router{
		generation: generation,
		caches:     host.Caches,
		network:    host.Network,
		live:       host.Live,
		metrics:    host.Metrics,
		logger:     host.Logger,
	}
}

// Classify はリクエストを分類する. 最初に一致した規則が優先される.
func (r *Router) Classify(req *domain.Request) Decision {
	if req.Method != http.MethodGet {
		return DecisionBypassMethod
	}

	scheme := strings.ToLower(req.URL.Scheme)
	for _, s := range extensionSchemes {
		if scheme == s {
			return DecisionBypassExtension
		}
	}

	if r.live != nil && r.live.IsLive(req.URL) {
		return DecisionBypassLive
	}

	return DecisionCacheFirst
}

// Handle はリクエストを分類し, 横取り対象ならキャッシュ優先で応答する.
// キャッシュミス時のネットワークエラーはそのまま呼び出し元へ返す.
func (r *Router) Handle(ctx context.Context, req *domain.Request) (*Outcome, error) {
	r.metrics.RecordRequest()

	decision := r.Classify(req)
	if !decision.Intercepts() {
		r.metrics.RecordBypass(decision.String())
		return &Outcome{Decision: decision}, nil
	}

	resp, hit, err := r.cacheFirst(ctx, req)
	if err != nil {
		r.metrics.RecordError()
		return nil, err
	}

	r.metrics.AddBytesServed(int64(len(resp.Body)))
	return &Outcome{Decision: decision, Response: resp, FromCache: hit}, nil
}

// cacheFirst はアクティブストアを検索し, ミスした場合はネットワークから取得して補充する.
func (r *Router) cacheFirst(
	ctx context.Context, req *domain.Request,
) (*domain.Response, bool, error) {
	name := r.generation.CacheName()

	// ストアを開けない場合はミス扱いで, 保存もしない
	store, err := r.caches.Open(ctx, name)
	if err != nil {
		r.logger.Warn("Cache store unavailable, serving from network", map[string]interface{}{
			"store": name,
			"url":   req.URL.String(),
			"error": err.Error(),
		})
		store = nil
	}

	if store != nil {
		cached, ok, err := store.Match(ctx, req)
		if err != nil {
			r.logger.Warn("Cache lookup failed", map[string]interface{}{
				"store": name,
				"url":   req.URL.String(),
				"error": err.Error(),
			})
		} else if ok {
			r.metrics.RecordCacheHit()
			return cached, true, nil
		}
	}

	r.metrics.RecordCacheMiss()

	resp, err := r.network.Fetch(ctx, req.Clone())
	if err != nil {
		return nil, false, err
	}

	if store == nil || !domain.Cacheable(req, resp) {
		return resp, false, nil
	}

	if err := store.Put(ctx, req, resp.Clone()); err != nil {
		r.logger.Error("Failed to store response", err, map[string]interface{}{
			"store": name,
			"url":   req.URL.String(),
		})
		return resp, false, nil
	}

	r.metrics.RecordStored()
	return resp, false, nil
}
