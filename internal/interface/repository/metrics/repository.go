package metrics

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bussid/internal/domain"
)

const namespace = "bussid_worker"

// Repository はメトリクスのリポジトリ実装.
// カウンターは原子的に更新され, prometheus.Collector として公開される.
type Repository struct {
	mu          sync.RWMutex
	metricsFile string
	startTime   time.Time

	clients       int64
	requests      int64
	bytes         int64
	cacheHits     int64
	cacheMisses   int64
	stored        int64
	precacheOK    int64
	precacheFail  int64
	storesDeleted int64
	reloadsSent   int64
	errors        int64

	bypassMu sync.Mutex
	bypassed map[string]int64
}

// インターフェースの実装を検証
var (
	_ domain.MetricsCollector = (*Repository)(nil)
	_ prometheus.Collector    = (*Repository)(nil)
)

var (
	descClients = prometheus.NewDesc(namespace+"_clients",
		"Current number of connected clients", nil, nil)
	descRequests = prometheus.NewDesc(namespace+"_requests_total",
		"Total number of requests seen by the router", nil, nil)
	descBytes = prometheus.NewDesc(namespace+"_bytes_served_total",
		"Total number of response body bytes served", nil, nil)
	descCache = prometheus.NewDesc(namespace+"_cache_lookups_total",
		"Cache lookups by result", []string{"result"}, nil)
	descBypass = prometheus.NewDesc(namespace+"_bypassed_total",
		"Requests passed through without interception by reason", []string{"reason"}, nil)
	descStored = prometheus.NewDesc(namespace+"_responses_stored_total",
		"Network responses inserted into the active store", nil, nil)
	descPrecache = prometheus.NewDesc(namespace+"_precache_total",
		"Shell precache attempts by result", []string{"result"}, nil)
	descDeleted = prometheus.NewDesc(namespace+"_stores_deleted_total",
		"Superseded cache stores deleted on activation", nil, nil)
	descReloads = prometheus.NewDesc(namespace+"_reload_messages_total",
		"FORCE_RELOAD messages delivered to clients", nil, nil)
	descErrors = prometheus.NewDesc(namespace+"_errors_total",
		"Total number of routing errors", nil, nil)
	descUptime = prometheus.NewDesc(namespace+"_uptime_seconds",
		"Seconds since the collector started", nil, nil)
)

// New は新しいRepositoryインスタンスを作成.
// metricsFile が空の場合, SaveMetrics は何もしない.
func New(metricsFile string) *Repository {
	return &Repository{
		metricsFile: metricsFile,
		startTime:   time.Now(),
		bypassed:    make(map[string]int64),
	}
}

// SaveMetrics はメトリクスをファイルに保存
func (r *Repository) SaveMetrics(snapshot *domain.MetricsSnapshot) error {
	if r.metricsFile == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tempFile := r.metricsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempFile, r.metricsFile)
}

// 以下, MetricsCollector インターフェースの実装
func (r *Repository) IncrementClients() {
	atomic.AddInt64(&r.clients, 1)
}

func (r *Repository) DecrementClients() {
	atomic.AddInt64(&r.clients, -1)
}

func (r *Repository) AddBytesServed(bytes int64) {
	atomic.AddInt64(&r.bytes, bytes)
}

func (r *Repository) RecordRequest() {
	atomic.AddInt64(&r.requests, 1)
}

func (r *Repository) RecordCacheHit() {
	atomic.AddInt64(&r.cacheHits, 1)
}

func (r *Repository) RecordCacheMiss() {
	atomic.AddInt64(&r.cacheMisses, 1)
}

func (r *Repository) RecordBypass(reason string) {
	r.bypassMu.Lock()
	r.bypassed[reason]++
	r.bypassMu.Unlock()
}

func (r *Repository) RecordStored() {
	atomic.AddInt64(&r.stored, 1)
}

func (r *Repository) RecordPrecache(ok bool) {
	if ok {
		atomic.AddInt64(&r.precacheOK, 1)
		return
	}
	atomic.AddInt64(&r.precacheFail, 1)
}

func (r *Repository) RecordStoreDeleted() {
	atomic.AddInt64(&r.storesDeleted, 1)
}

func (r *Repository) RecordReloadSent() {
	atomic.AddInt64(&r.reloadsSent, 1)
}

func (r *Repository) RecordError() {
	atomic.AddInt64(&r.errors, 1)
}

func (r *Repository) GetSnapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{
		Timestamp:      time.Now(),
		StartTime:      r.startTime,
		CurrentClients: atomic.LoadInt64(&r.clients),
		TotalRequests:  atomic.LoadInt64(&r.requests),
		BytesServed:    atomic.LoadInt64(&r.bytes),
		CacheHits:      atomic.LoadInt64(&r.cacheHits),
		CacheMisses:    atomic.LoadInt64(&r.cacheMisses),
		Bypassed:       r.bypassSnapshot(),
		Stored:         atomic.LoadInt64(&r.stored),
		PrecacheOK:     atomic.LoadInt64(&r.precacheOK),
		PrecacheFailed: atomic.LoadInt64(&r.precacheFail),
		StoresDeleted:  atomic.LoadInt64(&r.storesDeleted),
		ReloadsSent:    atomic.LoadInt64(&r.reloadsSent),
		Errors:         atomic.LoadInt64(&r.errors),
		Uptime:         time.Since(r.startTime).String(),
	}
}

func (r *Repository) bypassSnapshot() map[string]int64 {
	r.bypassMu.Lock()
	defer r.bypassMu.Unlock()

	out := make(map[string]int64, len(r.bypassed))
	for k, v := range r.bypassed {
		out[k] = v
	}
	return out
}

// Describe は prometheus.Collector の実装
func (r *Repository) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descClients, descRequests, descBytes, descCache, descBypass,
		descStored, descPrecache, descDeleted, descReloads, descErrors, descUptime,
	} {
		ch <- d
	}
}

// Collect は prometheus.Collector の実装
func (r *Repository) Collect(ch chan<- prometheus.Metric) {
	s := r.GetSnapshot()

	ch <- prometheus.MustNewConstMetric(descClients, prometheus.GaugeValue, float64(s.CurrentClients))
	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue, float64(s.BytesServed))
	ch <- prometheus.MustNewConstMetric(descCache, prometheus.CounterValue, float64(s.CacheHits), "hit")
	ch <- prometheus.MustNewConstMetric(descCache, prometheus.CounterValue, float64(s.CacheMisses), "miss")

	reasons := make([]string, 0, len(s.Bypassed))
	for reason := range s.Bypassed {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		ch <- prometheus.MustNewConstMetric(descBypass, prometheus.CounterValue, float64(s.Bypassed[reason]), reason)
	}

	ch <- prometheus.MustNewConstMetric(descStored, prometheus.CounterValue, float64(s.Stored))
	ch <- prometheus.MustNewConstMetric(descPrecache, prometheus.CounterValue, float64(s.PrecacheOK), "ok")
	ch <- prometheus.MustNewConstMetric(descPrecache, prometheus.CounterValue, float64(s.PrecacheFailed), "failed")
	ch <- prometheus.MustNewConstMetric(descDeleted, prometheus.CounterValue, float64(s.StoresDeleted))
	ch <- prometheus.MustNewConstMetric(descReloads, prometheus.CounterValue, float64(s.ReloadsSent))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, time.Since(r.startTime).Seconds())
}
