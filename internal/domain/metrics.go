package domain

import "time"

// MetricsCollector はメトリクス収集のインターフェース
type MetricsCollector interface {
	IncrementClients()
	DecrementClients()
	AddBytesServed(bytes int64)
	RecordRequest()
	RecordCacheHit()
	RecordCacheMiss()
	RecordBypass(reason string)
	RecordStored()
	RecordPrecache(ok bool)
	RecordStoreDeleted()
	RecordReloadSent()
	RecordError()
	GetSnapshot() *MetricsSnapshot
}

// MetricsSnapshot はメトリクスのスナップショットを表す
type MetricsSnapshot struct {
	Timestamp      time.Time        `json:"timestamp"`
	StartTime      time.Time        `json:"start_time"`
	CurrentClients int64            `json:"current_clients"`
	TotalRequests  int64            `json:"total_requests"`
	BytesServed    int64            `json:"bytes_served"`
	CacheHits      int64            `json:"cache_hits"`
	CacheMisses    int64            `json:"cache_misses"`
	Bypassed       map[string]int64 `json:"bypassed"`
	Stored         int64            `json:"stored"`
	PrecacheOK     int64            `json:"precache_ok"`
	PrecacheFailed int64            `json:"precache_failed"`
	StoresDeleted  int64            `json:"stores_deleted"`
	ReloadsSent    int64            `json:"reloads_sent"`
	Errors         int64            `json:"errors"`
	Uptime         string           `json:"uptime"`
}
