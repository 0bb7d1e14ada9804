package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// ShellManifest はインストール時に事前キャッシュするアプリケーションシェル.
// 各URLはスコープのベースパスを基準に解決される.
var ShellManifest = []string{
	"./",
	"./index.html",
	"./manifest.json",
	"./icon-192.png",
	"./icon-512.png",
}

// Scope はワーカーが制御するURLプレフィックスを表す.
type Scope struct {
	base *url.URL
}

// NewScope はワーカースクリプトのURLからスコープを導出する.
// 最後のパス区切りまで(区切りを含む)をベースパスとする.
func NewScope(scriptURL string) (Scope, error) {
	u, err := url.Parse(scriptURL)
	if err != nil {
		return Scope{}, fmt.Errorf("invalid script url %q: %w", scriptURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return Scope{}, fmt.Errorf("script url %q must be absolute", scriptURL)
	}

	base := *u
	base.RawQuery = ""
	base.Fragment = ""
	base.RawPath = ""
	if i := strings.LastIndex(base.Path, "/"); i >= 0 {
		base.Path = base.Path[:i+1]
	} else {
		base.Path = "/"
	}

	return Scope{base: &base}, nil
}

// Base はスコープのベースURLを返す.
func (s Scope) Base() *url.URL {
	b := *s.base
	return &b
}

func (s Scope) String() string {
	return s.base.String()
}

// Resolve は相対参照をベースパス基準で解決する.
func (s Scope) Resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return s.base.ResolveReference(r), nil
}

// ShellURLs はシェルマニフェストを解決したURLを順序通りに返す.
func (s Scope) ShellURLs() []*url.URL {
	urls := make([]*url.URL, 0, len(ShellManifest))
	for _, ref := range ShellManifest {
		u, err := s.Resolve(ref)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// SameOrigin は u がスコープと同一オリジンかどうかを返す.
func (s Scope) SameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, s.base.Scheme) &&
		strings.EqualFold(u.Host, s.base.Host)
}

// Contains は u がスコープ配下にあるかどうかを返す.
func (s Scope) Contains(u *url.URL) bool {
	return s.SameOrigin(u) && strings.HasPrefix(u.Path, s.base.Path)
}
