package domain

import "strings"

// DefaultGeneration はビルド時に埋め込まれる世代タグ.
// -ldflags "-X bussid/internal/domain.DefaultGeneration=1.2.4" で上書きできる.
var DefaultGeneration = "1.2.3"

// CacheNamePrefix はキャッシュストア名の接頭辞.
const CacheNamePrefix = "tartu-bussid-v"

// Generation はワーカー成果物の世代タグを表す.
// 世代タグが異なるワーカー同士は互換性がないものとして扱う.
type Generation string

// CacheName は世代に対応するキャッシュストア名を返す.
func (g Generation) CacheName() string {
	return CacheNamePrefix + string(g)
}

func (g Generation) String() string {
	return string(g)
}

// GenerationFromCacheName はストア名から世代タグを取り出す.
// 接頭辞が一致しない場合は false を返す.
func GenerationFromCacheName(name string) (Generation, bool) {
	if !strings.HasPrefix(name, CacheNamePrefix) {
		return "", false
	}
	return Generation(strings.TrimPrefix(name, CacheNamePrefix)), true
}
