package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bussid/internal/domain"
	"bussid/internal/interface/clients"
)

// ClientsPath はページがワーカーからのメッセージを購読するパス.
const ClientsPath = "/_worker/clients"

// heartbeatInterval は購読接続を維持するためのコメント送信間隔.
const heartbeatInterval = 30 * time.Second

// ClientsHandler はServer-Sent Eventsでページへメッセージを配信する.
type ClientsHandler struct {
	hub    *clients.Hub
	logger domain.Logger
}

// NewClientsHandler は新しいClientsHandlerインスタンスを作成
func NewClientsHandler(hub *clients.Hub, logger domain.Logger) *ClientsHandler {
	return &ClientsHandler{hub: hub, logger: logger}
}

func (h *ClientsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	pageURL := r.URL.Query().Get("page")
	if pageURL == "" {
		pageURL = r.Referer()
	}

	c := h.hub.Connect(pageURL)
	defer h.hub.Disconnect(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: hello\ndata: {\"client\":%q}\n\n", c.ID())
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-c.Messages():
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("Failed to encode client message", err, nil)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				h.logger.Warn("Failed to deliver client message", map[string]interface{}{
					"client": c.ID(),
					"error":  err.Error(),
				})
				return
			}
			flusher.Flush()
		}
	}
}
