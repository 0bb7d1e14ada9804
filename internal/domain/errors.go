package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreNotFound は指定されたストアが存在しない.
	ErrStoreNotFound = errors.New("cache store not found")
	// ErrInvalidTransition はワーカーの状態遷移が不正.
	ErrInvalidTransition = errors.New("invalid worker state transition")
	// ErrClientGone はメッセージ送信先のクライアントが切断済み.
	ErrClientGone = errors.New("client disconnected")
	// ErrClientBacklog はクライアントの送信キューが満杯.
	ErrClientBacklog = errors.New("client message queue full")
	// ErrNoActiveWorker はアクティブなワーカーが存在しない.
	ErrNoActiveWorker = errors.New("no active worker")
)

// ErrNotCacheable はキャッシュ不可能なレスポンスを表すエラー.
type ErrNotCacheable struct {
	URL    string
	Method string
	Status int
	Type   ResponseType
}

func (e *ErrNotCacheable) Error() string {
	return fmt.Sprintf("response for %s %s is not cacheable (status=%d type=%s)",
		e.Method, e.URL, e.Status, e.Type)
}

// ErrStoreOpen はストアを開けなかったエラー.
type ErrStoreOpen struct {
	Name string
	Err  error
}

func (e *ErrStoreOpen) Error() string {
	return fmt.Sprintf("failed to open cache store %s: %v", e.Name, e.Err)
}

func (e *ErrStoreOpen) Unwrap() error {
	return e.Err
}

// ErrFetch はネットワーク取得の失敗を表すエラー.
type ErrFetch struct {
	URL string
	Err error
}

func (e *ErrFetch) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *ErrFetch) Unwrap() error {
	return e.Err
}
