package domain

import "context"

// Fetcher はネットワークへのリクエスト送信を担当する.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Host はワーカーが動作するホストの能力をまとめたもの.
// ブラウザのワーカーグローバル(caches, clients, fetch)に相当する.
type Host struct {
	Scope   Scope
	Caches  CacheStorage
	Clients Clients
	Network Fetcher
	Live    LiveEndpoints
	Metrics MetricsCollector
	Logger  Logger
}
