package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"bussid/internal/domain"
	"bussid/internal/interface/clients"
	"bussid/internal/interface/network"
	"bussid/internal/interface/repository/cache"
	"bussid/internal/interface/repository/live"
	"bussid/internal/interface/repository/logger"
	"bussid/internal/interface/repository/metrics"
	"bussid/internal/usecase"
)

// testOrigin はアプリケーションの配信元を模したサーバー.
type testOrigin struct {
	*httptest.Server
	hits atomic.Int64
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	o := &testOrigin{}
	mux := http.NewServeMux()
	for _, p := range []string{"/index.html", "/manifest.json", "/icon-192.png", "/icon-512.png", "/app.js"} {
		body := "content of " + p
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			o.hits.Add(1)
			io.WriteString(w, body)
		})
	}
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		io.WriteString(w, "root")
	})
	mux.HandleFunc("POST /feedback", func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.Write(append([]byte("got "), data...))
	})
	o.Server = httptest.NewServer(mux)
	t.Cleanup(o.Close)
	return o
}

type testStack struct {
	origin       *testOrigin
	storage      domain.CacheStorage
	hub          *clients.Hub
	metrics      *metrics.Repository
	registration *usecase.Registration
	worker       *WorkerHandler
	admin        http.Handler
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	origin := newTestOrigin(t)
	log := logger.NewWithWriter(io.Discard, "error", logger.FormatText)

	scope, err := domain.NewScope(origin.URL + "/sw.js")
	require.NoError(t, err)

	storage, err := cache.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	liveRepo, err := live.New(filepath.Join(t.TempDir(), "live.yaml"), log)
	require.NoError(t, err)

	metricsRepo := metrics.New("")
	hub := clients.NewHub(metricsRepo, log)
	fetcher := network.NewFetcher(scope, 5*time.Second)

	registration := usecase.NewRegistration(domain.Host{
		Scope:   scope,
		Caches:  storage,
		Clients: hub,
		Network: fetcher,
		Live:    liveRepo,
		Metrics: metricsRepo,
		Logger:  log,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(metricsRepo)

	worker := NewWorkerHandler(
		registration,
		usecase.NewTunnelUseCase(metricsRepo, log),
		fetcher,
		scope,
		NewClientsHandler(hub, log),
		log,
	)
	admin := NewAdminRouter(
		NewMetricsHandler(usecase.NewMetricsUseCase(metricsRepo, log, usecase.MetricsConfig{}), log),
		NewLifecycleHandler(registration, storage, hub, liveRepo, log),
		registry,
		log,
	)

	return &testStack{
		origin:       origin,
		storage:      storage,
		hub:          hub,
		metrics:      metricsRepo,
		registration: registration,
		worker:       worker,
		admin:        admin,
	}
}

func (s *testStack) register(t *testing.T, g domain.Generation) *usecase.RegisterResult {
	t.Helper()
	result, err := s.registration.Register(context.Background(), g)
	require.NoError(t, err)
	return result
}
