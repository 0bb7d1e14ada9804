package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bussid/internal/domain"
)

// DefaultMaxBodySize はレスポンスボディの読み取り上限.
const DefaultMaxBodySize = 32 * 1024 * 1024

// hopHeaders は中継時に転送しないヘッダー.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fetcher はHTTPクライアントでリクエストを送信し,
// スコープのオリジンを基準にレスポンス種別を判定する.
type Fetcher struct {
	client  *http.Client
	scope   domain.Scope
	maxBody int64
}

var _ domain.Fetcher = (*Fetcher)(nil)

// Option は Fetcher の設定を変更する.
type Option func(*Fetcher)

// WithClient は使用するHTTPクライアントを差し替える.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBodySize はボディの読み取り上限を設定する.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) { f.maxBody = n }
}

// NewFetcher は新しいFetcherインスタンスを作成
func NewFetcher(scope domain.Scope, timeout time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: timeout},
		scope:   scope,
		maxBody: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch はリクエストをネットワークへ送信する.
// 接続失敗などのエラーは domain.ErrFetch で包んで返す.
func (f *Fetcher) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, &domain.ErrFetch{URL: req.URL.String(), Err: err}
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	RemoveHopHeaders(httpReq.Header)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ErrFetch{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, &domain.ErrFetch{URL: req.URL.String(), Err: err}
	}
	if int64(len(data)) > f.maxBody {
		return nil, &domain.ErrFetch{
			URL: req.URL.String(),
			Err: fmt.Errorf("response body exceeds %d bytes", f.maxBody),
		}
	}

	header := resp.Header.Clone()
	RemoveHopHeaders(header)

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &domain.Response{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Type:       f.responseType(resp),
		URL:        finalURL,
		Header:     header,
		Body:       data,
	}, nil
}

// responseType は最終的なURLのオリジンとCORSヘッダーから種別を決める.
func (f *Fetcher) responseType(resp *http.Response) domain.ResponseType {
	if resp.Request != nil && resp.Request.URL != nil && f.scope.SameOrigin(resp.Request.URL) {
		return domain.ResponseBasic
	}

	allow := strings.TrimSpace(resp.Header.Get("Access-Control-Allow-Origin"))
	origin := f.scope.Base()
	origin.Path = ""
	if allow == "*" || strings.EqualFold(allow, origin.String()) {
		return domain.ResponseCORS
	}
	return domain.ResponseOpaque
}

// RemoveHopHeaders はホップ間ヘッダーを削除する.
func RemoveHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
