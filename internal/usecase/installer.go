package usecase

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"bussid/internal/domain"
)

// defaultInstallConcurrency はシェル取得の同時実行数.
const defaultInstallConcurrency = 4

// Promoter は待機状態からの即時昇格を受け付ける.
type Promoter interface {
	SkipWaiting()
}

// InstallReport はインストール結果を表す.
type InstallReport struct {
	Store  string            `json:"store"`
	Cached []string          `json:"cached"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Installer は世代のキャッシュストアにアプリケーションシェルを事前投入する.
type Installer struct {
	generation  domain.Generation
	scope       domain.Scope
	caches      domain.CacheStorage
	network     domain.Fetcher
	metrics     domain.MetricsCollector
	logger      domain.Logger
	promoter    Promoter
	concurrency int
}

// NewInstaller は新しいInstallerインスタンスを作成
func NewInstaller(
	generation domain.Generation, host domain.Host, promoter Promoter,
) *Installer {
	return &Installer{
		generation:  generation,
		scope:       host.Scope,
		caches:      host.Caches,
		network:     host.Network,
		metrics:     host.Metrics,
		logger:      host.Logger,
		promoter:    promoter,
		concurrency: defaultInstallConcurrency,
	}
}

// Install はシェルの各URLを個別にキャッシュする.
// 個々の失敗はログに記録して破棄し, インストール自体は常に成功とする.
func (i *Installer) Install(ctx context.Context) *InstallReport {
	name := i.generation.CacheName()
	urls := i.scope.ShellURLs()
	report := &InstallReport{Store: name, Cached: []string{}}

	defer func() {
		if i.promoter != nil {
			i.promoter.SkipWaiting()
		}
	}()

	store, err := i.caches.Open(ctx, name)
	if err != nil {
		openErr := &domain.ErrStoreOpen{Name: name, Err: err}
		i.logger.Error("Failed to open cache store for install", openErr, nil)
		report.Failed = make(map[string]string, len(urls))
		for _, u := range urls {
			report.Failed[u.String()] = openErr.Error()
			i.metrics.RecordPrecache(false)
		}
		return report
	}

	results := make([]error, len(urls))

	g := new(errgroup.Group)
	g.SetLimit(i.concurrency)
	for idx, u := range urls {
		g.Go(func() error {
			results[idx] = i.add(ctx, store, u.String())
			return nil
		})
	}
	_ = g.Wait()

	for idx, u := range urls {
		key := u.String()
		if err := results[idx]; err != nil {
			i.logger.Warn("Failed to precache shell entry", map[string]interface{}{
				"store": name,
				"url":   key,
				"error": err.Error(),
			})
			i.metrics.RecordPrecache(false)

			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[key] = err.Error()
			continue
		}
		i.metrics.RecordPrecache(true)
		report.Cached = append(report.Cached, key)
	}

	i.logger.Info("Shell precached", map[string]interface{}{
		"store":  name,
		"cached": len(report.Cached),
		"failed": len(report.Failed),
	})

	return report
}

// add は1件のシェルURLを取得して保存する.
func (i *Installer) add(ctx context.Context, store domain.Cache, rawURL string) error {
	req, err := domain.NewRequest(http.MethodGet, rawURL)
	if err != nil {
		return err
	}

	resp, err := i.network.Fetch(ctx, req.Clone())
	if err != nil {
		return &domain.ErrFetch{URL: rawURL, Err: err}
	}

	if !domain.Cacheable(req, resp) {
		return &domain.ErrNotCacheable{
			URL:    rawURL,
			Method: req.Method,
			Status: resp.Status,
			Type:   resp.Type,
		}
	}

	return store.Put(ctx, req, resp)
}
