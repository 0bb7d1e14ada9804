package domain

import (
	"fmt"
	"net/http"
	"net/url"
)

// Request は横取り対象となるリクエストを表す.
// ホスト側のリクエスト型を最小限の能力(複製, メソッド, URL)で扱う.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest は新しいRequestインスタンスを作成.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", rawURL, err)
	}
	return &Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
	}, nil
}

// Clone はリクエストの複製を返す. 元のリクエストはそのまま使い続けられる.
func (r *Request) Clone() *Request {
	c := &Request{
		Method: r.Method,
		Header: r.Header.Clone(),
	}
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.URL != nil {
		u := *r.URL
		c.URL = &u
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Key はキャッシュストア内でリクエストを識別するキーを返す.
// フラグメントは無視する.
func (r *Request) Key() string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return r.Method + " " + u.String()
}

// ResponseType はレスポンスの種別を表す.
type ResponseType string

const (
	ResponseBasic  ResponseType = "basic"
	ResponseCORS   ResponseType = "cors"
	ResponseOpaque ResponseType = "opaque"
	ResponseError  ResponseType = "error"
)

// Response はレスポンスのスナップショットを表す.
type Response struct {
	Status     int
	StatusText string
	Type       ResponseType
	URL        string
	Header     http.Header
	Body       []byte
}

// Clone はレスポンスの複製を返す.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// OK はステータスが2xxかどうかを返す.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Cacheable はレスポンスをアクティブストアに保存してよいかを判定する.
// 同一オリジン(basic)のGETに対するステータス200のみが対象.
func Cacheable(req *Request, resp *Response) bool {
	return req.Method == http.MethodGet &&
		resp.Status == http.StatusOK &&
		resp.Type == ResponseBasic
}
