package clients

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bussid/internal/domain"
)

// defaultBuffer は1クライアントあたりの未送信メッセージ数の上限.
const defaultBuffer = 8

// Hub は接続中のページ(クライアント)を管理する.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	controller domain.Generation
	metrics    domain.MetricsCollector
	logger     domain.Logger
}

var _ domain.Clients = (*Hub)(nil)

// NewHub は新しいHubインスタンスを作成
func NewHub(metrics domain.MetricsCollector, logger domain.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		metrics: metrics,
		logger:  logger,
	}
}

// Connect はページを登録する. アクティブなワーカーがあればその制御下に置く.
func (h *Hub) Connect(pageURL string) *Client {
	c := &Client{
		id:          uuid.NewString(),
		url:         pageURL,
		connectedAt: time.Now(),
		messages:    make(chan domain.Message, defaultBuffer),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	c.controller = h.controller
	h.clients[c.id] = c
	h.mu.Unlock()

	h.metrics.IncrementClients()
	h.logger.Debug("Client connected", map[string]interface{}{
		"client": c.id,
		"url":    pageURL,
	})
	return c
}

// Disconnect はページの登録を解除する.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.metrics.DecrementClients()
	h.logger.Debug("Client disconnected", map[string]interface{}{
		"client": c.id,
	})
}

// MatchAll は制御下のクライアントを列挙する.
func (h *Hub) MatchAll(ctx context.Context) ([]domain.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Client, 0, len(h.clients))
	for _, c := range h.sorted() {
		if c.Controller() != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// Claim は接続中の全ページを controller の制御下に置く.
func (h *Hub) Claim(ctx context.Context, controller domain.Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.controller = controller
	for _, c := range h.clients {
		c.setController(controller)
	}
	return nil
}

// ClientInfo はクライアントの状態を表す.
type ClientInfo struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Controller  string    `json:"controller,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// List は接続中のクライアント情報を返す.
func (h *Hub) List() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.sorted() {
		out = append(out, ClientInfo{
			ID:          c.id,
			URL:         c.url,
			Controller:  c.Controller().String(),
			ConnectedAt: c.connectedAt,
		})
	}
	return out
}

// sorted は h.mu を保持して呼ぶ.
func (h *Hub) sorted() []*Client {
	list := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].connectedAt.Equal(list[j].connectedAt) {
			return list[i].id < list[j].id
		}
		return list[i].connectedAt.Before(list[j].connectedAt)
	})
	return list
}

// Client は接続中の1ページ.
type Client struct {
	id          string
	url         string
	connectedAt time.Time

	mu         sync.RWMutex
	controller domain.Generation

	messages  chan domain.Message
	done      chan struct{}
	closeOnce sync.Once
}

var _ domain.Client = (*Client)(nil)

func (c *Client) ID() string {
	return c.id
}

func (c *Client) URL() string {
	return c.url
}

// Controller はこのページを制御している世代を返す.
func (c *Client) Controller() domain.Generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controller
}

// Messages は送信待ちメッセージのチャネル.
func (c *Client) Messages() <-chan domain.Message {
	return c.messages
}

// Done は切断時に閉じられる.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// PostMessage はメッセージを送信キューに入れる. 送信を待つことはない.
// 切断済みなら domain.ErrClientGone, キューが満杯なら domain.ErrClientBacklog を返す.
func (c *Client) PostMessage(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrClientGone
	default:
	}

	select {
	case c.messages <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", domain.ErrClientBacklog, c.id)
	}
}

func (c *Client) setController(g domain.Generation) {
	c.mu.Lock()
	c.controller = g
	c.mu.Unlock()
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
