package domain

import "net/url"

// LiveEndpoints は常にネットワークへ送る外部エンドポイントの判定を担当.
type LiveEndpoints interface {
	IsLive(u *url.URL) bool
	Fragments() []string
	Reload() error
}
