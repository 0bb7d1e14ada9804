package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"bussid/internal/domain"
)

const testScriptURL = "https://bussid.example/tartu/sw.js"

// memStorage は呼び出しを記録するメモリ上のキャッシュストレージ.
type memStorage struct {
	mu      sync.Mutex
	stores  map[string]*memCache
	calls   int
	openErr error
	keysErr error
	delErr  map[string]error
	putErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{stores: make(map[string]*memCache), delErr: make(map[string]error)}
}

func (s *memStorage) Open(_ context.Context, name string) (domain.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.openErr != nil {
		return nil, s.openErr
	}
	c, ok := s.stores[name]
	if !ok {
		c = &memCache{name: name, storage: s}
		s.stores[name] = c
	}
	return c, nil
}

func (s *memStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.delErr[name]; err != nil {
		return false, err
	}
	c, ok := s.stores[name]
	if ok {
		c.deleted = true
		delete(s.stores, name)
	}
	return ok, nil
}

func (s *memStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.keysErr != nil {
		return nil, s.keysErr
	}
	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memStorage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *memStorage) names(t *testing.T) []string {
	t.Helper()
	names, err := s.Keys(context.Background())
	require.NoError(t, err)
	return names
}

// seed はストアへ直接エントリを書き込む.
func (s *memStorage) seed(t *testing.T, store, rawURL string, resp *domain.Response) {
	t.Helper()
	c, err := s.Open(context.Background(), store)
	require.NoError(t, err)
	req, err := domain.NewRequest(http.MethodGet, rawURL)
	require.NoError(t, err)
	require.NoError(t, c.Put(context.Background(), req, resp))
}

func (s *memStorage) entries(t *testing.T, store string) []string {
	t.Helper()
	s.mu.Lock()
	c, ok := s.stores[store]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	keys, err := c.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

type memCache struct {
	name    string
	storage *memStorage
	entries []*domain.CacheEntry
	deleted bool
}

func (c *memCache) Name() string { return c.name }

func (c *memCache) Match(_ context.Context, req *domain.Request) (*domain.Response, bool, error) {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	c.storage.calls++
	for _, e := range c.entries {
		if e.Matches(req) {
			return e.Response(), true, nil
		}
	}
	return nil, false, nil
}

func (c *memCache) Put(_ context.Context, req *domain.Request, resp *domain.Response) error {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	c.storage.calls++
	if c.storage.putErr != nil {
		return c.storage.putErr
	}
	if c.deleted {
		return domain.ErrStoreNotFound
	}
	entry := domain.NewCacheEntry(req, resp)
	for i, e := range c.entries {
		if e.Key == entry.Key {
			c.entries[i] = entry
			return nil
		}
	}
	c.entries = append(c.entries, entry)
	return nil
}

func (c *memCache) Delete(_ context.Context, req *domain.Request) (bool, error) {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	for i, e := range c.entries {
		if e.Key == req.Key() {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (c *memCache) Keys(_ context.Context) ([]string, error) {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// fakeNetwork はURLごとに用意したレスポンスを返す.
// 未登録のURLは 404 の basic レスポンス.
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string]*domain.Response
	errs      map[string]error
	requests  []*domain.Request
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		responses: make(map[string]*domain.Response),
		errs:      make(map[string]error),
	}
}

func (n *fakeNetwork) respond(rawURL string, resp *domain.Response) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[rawURL] = resp
}

func (n *fakeNetwork) fail(rawURL string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs[rawURL] = err
}

func (n *fakeNetwork) Fetch(_ context.Context, req *domain.Request) (*domain.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)

	key := req.URL.String()
	if err := n.errs[key]; err != nil {
		return nil, err
	}
	if resp, ok := n.responses[key]; ok {
		return resp.Clone(), nil
	}
	return basicResponse(http.StatusNotFound, "not found"), nil
}

func (n *fakeNetwork) fetched() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	urls := make([]string, 0, len(n.requests))
	for _, r := range n.requests {
		urls = append(urls, r.URL.String())
	}
	return urls
}

func (n *fakeNetwork) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.requests)
}

func basicResponse(status int, body string) *domain.Response {
	return &domain.Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Type:       domain.ResponseBasic,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
}

// fakeClient は受け取ったメッセージを記録する.
type fakeClient struct {
	id       string
	mu       sync.Mutex
	messages []domain.Message
	err      error
}

func (c *fakeClient) ID() string  { return c.id }
func (c *fakeClient) URL() string { return "https://bussid.example/tartu/" }

func (c *fakeClient) PostMessage(_ context.Context, msg domain.Message) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeClient) received() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.messages...)
}

type fakeClients struct {
	mu         sync.Mutex
	clients    []*fakeClient
	claimed    []domain.Generation
	matchErr   error
	claimErr   error
	storage    *memStorage
	namesAtMsg []string
}

func (f *fakeClients) MatchAll(_ context.Context) ([]domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	if f.storage != nil {
		// 配信時点のストア一覧を記録する
		names, _ := f.storage.Keys(context.Background())
		f.namesAtMsg = names
	}
	out := make([]domain.Client, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeClients) Claim(_ context.Context, g domain.Generation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = append(f.claimed, g)
	return f.claimErr
}

// fakeLive はホスト名の完全一致またはサブドメインで判定する.
type fakeLive struct {
	hosts []string
}

func (l *fakeLive) IsLive(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, h := range l.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (l *fakeLive) Fragments() []string { return l.hosts }
func (l *fakeLive) Reload() error       { return nil }

// countingMetrics は記録回数を数える.
type countingMetrics struct {
	mu       sync.Mutex
	counts   map[string]int
	bypassed map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int), bypassed: make(map[string]int)}
}

func (m *countingMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *countingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *countingMetrics) IncrementClients()    { m.inc("clients") }
func (m *countingMetrics) DecrementClients()    { m.inc("clients_left") }
func (m *countingMetrics) AddBytesServed(int64) { m.inc("bytes") }
func (m *countingMetrics) RecordRequest()       { m.inc("requests") }
func (m *countingMetrics) RecordCacheHit()      { m.inc("hits") }
func (m *countingMetrics) RecordCacheMiss()     { m.inc("misses") }
func (m *countingMetrics) RecordStored()        { m.inc("stored") }
func (m *countingMetrics) RecordStoreDeleted()  { m.inc("deleted") }
func (m *countingMetrics) RecordReloadSent()    { m.inc("reloads") }
func (m *countingMetrics) RecordError()         { m.inc("errors") }

func (m *countingMetrics) RecordBypass(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bypassed[reason]++
}

func (m *countingMetrics) RecordPrecache(ok bool) {
	if ok {
		m.inc("precache_ok")
		return
	}
	m.inc("precache_failed")
}

func (m *countingMetrics) GetSnapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{}
}

// recordingLogger はログのメッセージを記録する.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+" "+msg)
}

func (l *recordingLogger) Debug(msg string, _ map[string]interface{}) { l.add("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ map[string]interface{})  { l.add("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ map[string]interface{})  { l.add("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ error, _ map[string]interface{}) {
	l.add("ERROR", msg)
}

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

// testEnv はテスト用のホスト一式.
type testEnv struct {
	storage *memStorage
	network *fakeNetwork
	clients *fakeClients
	live    *fakeLive
	metrics *countingMetrics
	logger  *recordingLogger
	host    domain.Host
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	scope, err := domain.NewScope(testScriptURL)
	require.NoError(t, err)

	env := &testEnv{
		storage: newMemStorage(),
		network: newFakeNetwork(),
		clients: &fakeClients{},
		live: &fakeLive{hosts: []string{
			"api.digitransit.fi",
			"tile.openstreetmap.org",
			"nominatim.openstreetmap.org",
		}},
		metrics: newCountingMetrics(),
		logger:  &recordingLogger{},
	}
	env.clients.storage = env.storage
	env.host = domain.Host{
		Scope:   scope,
		Caches:  env.storage,
		Clients: env.clients,
		Network: env.network,
		Live:    env.live,
		Metrics: env.metrics,
		Logger:  env.logger,
	}
	return env
}

// serveShell は全てのシェルURLに200の basic レスポンスを返すよう設定する.
func (e *testEnv) serveShell() {
	for _, u := range e.host.Scope.ShellURLs() {
		e.network.respond(u.String(), basicResponse(http.StatusOK, "shell "+u.Path))
	}
}

func (e *testEnv) connect(ids ...string) []*fakeClient {
	out := make([]*fakeClient, 0, len(ids))
	for _, id := range ids {
		c := &fakeClient{id: id}
		e.clients.clients = append(e.clients.clients, c)
		out = append(out, c)
	}
	return out
}

func mustRequest(t *testing.T, method, rawURL string) *domain.Request {
	t.Helper()
	req, err := domain.NewRequest(method, rawURL)
	require.NoError(t, err)
	return req
}

var errNetwork = errors.New("network unreachable")
