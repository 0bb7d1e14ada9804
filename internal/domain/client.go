package domain

import "context"

// MessageForceReload は世代切り替え時に制御下のページへ送るメッセージ種別.
const MessageForceReload = "FORCE_RELOAD"

// Message は制御下のページへ送る構造化メッセージを表す.
type Message struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// ForceReload は世代 g のリロード指示を作成する.
func ForceReload(g Generation) Message {
	return Message{Type: MessageForceReload, Version: g.String()}
}

// Client はスコープ配下で開かれているページを表す.
type Client interface {
	ID() string
	URL() string
	PostMessage(ctx context.Context, msg Message) error
}

// Clients は制御下のクライアント集合へのアクセスを提供する.
// 集合は保存されず, 呼び出しのたびに列挙される.
type Clients interface {
	MatchAll(ctx context.Context) ([]Client, error)
	// Claim はスコープ配下の既存ページを controller の制御下に置く.
	Claim(ctx context.Context, controller Generation) error
}
