package cache

import (
	"fmt"

	"bussid/internal/domain"
)

// Backend はキャッシュストレージの実装種別.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// New は backend に応じたキャッシュストレージを作成する.
// 返される close 関数で資源を解放する.
func New(backend, dir string) (domain.CacheStorage, func() error, error) {
	switch backend {
	case BackendFile:
		s, err := NewFileStorage(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case BackendBadger, "":
		s, err := NewBadgerStorage(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case BackendMemory:
		s, err := NewBadgerStorage("")
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
