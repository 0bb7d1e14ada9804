package domain

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// CacheStorage は名前付きキャッシュストアの集合を管理するインターフェース.
type CacheStorage interface {
	// Open は名前に対応するストアを開く. 存在しない場合は作成する.
	Open(ctx context.Context, name string) (Cache, error)
	// Delete はストアを削除する. 存在しなかった場合は false を返す.
	Delete(ctx context.Context, name string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Cache はリクエストからレスポンスへの永続マッピングを表す.
type Cache interface {
	Name() string
	Match(ctx context.Context, req *Request) (*Response, bool, error)
	Put(ctx context.Context, req *Request, resp *Response) error
	Delete(ctx context.Context, req *Request) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// CacheEntry はストアに保存される1件のエントリを表す.
type CacheEntry struct {
	Key      string              `json:"key"`
	Method   string              `json:"method"`
	URL      string              `json:"url"`
	Vary     map[string][]string `json:"vary,omitempty"`
	Status   int                 `json:"status"`
	Text     string              `json:"status_text,omitempty"`
	Type     ResponseType        `json:"type"`
	RespURL  string              `json:"response_url,omitempty"`
	Headers  map[string][]string `json:"headers,omitempty"`
	Body     []byte              `json:"body,omitempty"`
	StoredAt time.Time           `json:"stored_at"`
}

// NewCacheEntry はリクエストとレスポンスからエントリを作成する.
// レスポンスのVaryヘッダーが指すリクエストヘッダーの値を記録する.
func NewCacheEntry(req *Request, resp *Response) *CacheEntry {
	e := &CacheEntry{
		Key:      req.Key(),
		Method:   req.Method,
		URL:      req.URL.String(),
		Status:   resp.Status,
		Text:     resp.StatusText,
		Type:     resp.Type,
		RespURL:  resp.URL,
		Headers:  resp.Header.Clone(),
		Body:     append([]byte(nil), resp.Body...),
		StoredAt: time.Now(),
	}

	for _, name := range varyNames(resp.Header) {
		if e.Vary == nil {
			e.Vary = make(map[string][]string)
		}
		e.Vary[name] = req.Header.Values(name)
	}

	return e
}

// Matches はリクエストがこのエントリに一致するかを判定する.
func (e *CacheEntry) Matches(req *Request) bool {
	if e.Key != req.Key() {
		return false
	}
	for name, want := range e.Vary {
		if name == "*" {
			return false
		}
		if !equalValues(req.Header.Values(name), want) {
			return false
		}
	}
	return true
}

// Response はエントリを保存時のレスポンスに戻す.
func (e *CacheEntry) Response() *Response {
	header := http.Header(e.Headers).Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		Status:     e.Status,
		StatusText: e.Text,
		Type:       e.Type,
		URL:        e.RespURL,
		Header:     header,
		Body:       append([]byte(nil), e.Body...),
	}
}

func varyNames(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name != "*" {
				name = http.CanonicalHeaderKey(name)
			}
			names = append(names, name)
		}
	}
	return names
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
