package usecase

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"bussid/internal/domain"
)

// ActivationReport はアクティベーション結果を表す.
type ActivationReport struct {
	Store        string            `json:"store"`
	PurgedPrior  bool              `json:"purged_prior"`
	Deleted      []string          `json:"deleted"`
	DeleteFailed map[string]string `json:"delete_failed,omitempty"`
	Notified     []string          `json:"notified"`
	NotifyFailed map[string]string `json:"notify_failed,omitempty"`
}

// Activator は旧世代のストアを削除し, クライアントを制御下に置き,
// 必要ならリロード指示を配信する.
type Activator struct {
	generation domain.Generation
	caches     domain.CacheStorage
	clients    domain.Clients
	metrics    domain.MetricsCollector
	logger     domain.Logger
}

// NewActivator は新しいActivatorインスタンスを作成
func NewActivator(generation domain.Generation, host domain.Host) *Activator {
	return &Activator{
		generation: generation,
		caches:     host.Caches,
		clients:    host.Clients,
		metrics:    host.Metrics,
		logger:     host.Logger,
	}
}

// Activate はアクティベーションの各段階を順に実行する.
// 各段階の失敗はログに記録され, 残りの段階の実行を妨げない.
func (a *Activator) Activate(ctx context.Context) *ActivationReport {
	current := a.generation.CacheName()
	report := &ActivationReport{
		Store:    current,
		Deleted:  []string{},
		Notified: []string{},
	}

	names, err := a.caches.Keys(ctx)
	if err != nil {
		a.logger.Error("Failed to enumerate cache stores", err, nil)
	}

	var stale []string
	for _, name := range names {
		if name != current {
			stale = append(stale, name)
		}
	}
	// 削除の成否に関わらず, 旧ストアを観測したかどうかで決まる
	report.PurgedPrior = len(stale) > 0

	a.purge(ctx, stale, report)

	if err := a.clients.Claim(ctx, a.generation); err != nil {
		a.logger.Error("Failed to claim clients", err, nil)
	}

	if report.PurgedPrior {
		a.broadcast(ctx, report)
	}

	a.logger.Info("Worker activated", map[string]interface{}{
		"store":        current,
		"purged_prior": report.PurgedPrior,
		"deleted":      len(report.Deleted),
		"notified":     len(report.Notified),
	})

	return report
}

// purge は旧世代のストアを並行に削除し, 全ての完了を待つ.
func (a *Activator) purge(ctx context.Context, stale []string, report *ActivationReport) {
	var mu sync.Mutex
	g := new(errgroup.Group)

	for _, name := range stale {
		g.Go(func() error {
			_, err := a.caches.Delete(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Error("Failed to delete stale cache store", err, map[string]interface{}{
					"store": name,
				})
				if report.DeleteFailed == nil {
					report.DeleteFailed = make(map[string]string)
				}
				report.DeleteFailed[name] = err.Error()
				return nil
			}
			a.metrics.RecordStoreDeleted()
			report.Deleted = append(report.Deleted, name)
			return nil
		})
	}

	_ = g.Wait()
}

// broadcast は制御下の全クライアントへリロード指示を送る.
// 送信失敗はクライアント単位で扱う.
func (a *Activator) broadcast(ctx context.Context, report *ActivationReport) {
	clients, err := a.clients.MatchAll(ctx)
	if err != nil {
		a.logger.Error("Failed to enumerate clients", err, nil)
		return
	}

	msg := domain.ForceReload(a.generation)

	var mu sync.Mutex
	g := new(errgroup.Group)

	for _, c := range clients {
		g.Go(func() error {
			err := c.PostMessage(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Warn("Failed to post reload message", map[string]interface{}{
					"client": c.ID(),
					"error":  err.Error(),
				})
				if report.NotifyFailed == nil {
					report.NotifyFailed = make(map[string]string)
				}
				report.NotifyFailed[c.ID()] = err.Error()
				return nil
			}
			a.metrics.RecordReloadSent()
			report.Notified = append(report.Notified, c.ID())
			return nil
		})
	}

	_ = g.Wait()
}
