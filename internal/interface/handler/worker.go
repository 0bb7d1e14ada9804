package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"bussid/internal/domain"
	"bussid/internal/interface/network"
	"bussid/internal/usecase"
)

// CacheStatusHeader はレスポンスの出所を示すヘッダー.
const CacheStatusHeader = "X-Worker-Cache"

// maxRequestBody はワーカーへ渡すリクエストボディの上限.
const maxRequestBody = 8 * 1024 * 1024

// WorkerHandler はページからのリクエストをアクティブなワーカーへ渡す.
// 横取りされなかったリクエストは既定のネットワーク経路で処理する.
type WorkerHandler struct {
	registration *usecase.Registration
	tunnel       *usecase.TunnelUseCase
	network      domain.Fetcher
	scope        domain.Scope
	clients      http.Handler
	logger       domain.Logger
}

// NewWorkerHandler は新しいWorkerHandlerインスタンスを作成
func NewWorkerHandler(
	registration *usecase.Registration,
	tunnel *usecase.TunnelUseCase,
	network domain.Fetcher,
	scope domain.Scope,
	clients http.Handler,
	logger domain.Logger,
) *WorkerHandler {
	return &WorkerHandler{
		registration: registration,
		tunnel:       tunnel,
		network:      network,
		scope:        scope,
		clients:      clients,
		logger:       logger,
	}
}

func (h *WorkerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.handleConnect(w, r)
		return
	}

	if !r.URL.IsAbs() && r.URL.Path == ClientsPath && h.clients != nil {
		h.clients.ServeHTTP(w, r)
		return
	}

	req, err := h.toDomainRequest(r)
	if err != nil {
		h.logger.Info("Rejected malformed request", map[string]interface{}{
			"method": r.Method,
			"url":    r.URL.String(),
			"error":  err.Error(),
		})
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.registration.Fetch(r.Context(), req)
	if err != nil {
		h.writeFetchError(w, req, err)
		return
	}

	if outcome.Intercepted() {
		status := "miss"
		if outcome.FromCache {
			status = "hit"
		}
		writeResponse(w, outcome.Response, status)
		return
	}

	// 既定のネットワーク経路
	resp, err := h.network.Fetch(r.Context(), req)
	if err != nil {
		h.writeFetchError(w, req, err)
		return
	}
	writeResponse(w, resp, "bypass")
}

// toDomainRequest はHTTPリクエストをワーカー用のリクエストに変換する.
// オリジン形式のリクエストはスコープのオリジンを基準に解決する.
func (h *WorkerHandler) toDomainRequest(r *http.Request) (*domain.Request, error) {
	target := *r.URL
	if !target.IsAbs() {
		base := h.scope.Base()
		target.Scheme = base.Scheme
		target.Host = base.Host
	}
	if target.Host == "" {
		return nil, errors.New("request has no target host")
	}

	var body []byte
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if len(data) > maxRequestBody {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
		}
		body = data
	}

	header := r.Header.Clone()
	network.RemoveHopHeaders(header)

	return &domain.Request{
		Method: r.Method,
		URL:    &target,
		Header: header,
		Body:   body,
	}, nil
}

// writeFetchError はネットワーク失敗をページへそのまま伝える.
// オフラインページなどの代替レスポンスは生成しない.
func (h *WorkerHandler) writeFetchError(w http.ResponseWriter, req *domain.Request, err error) {
	h.logger.Warn("Network request failed", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
		"error":  err.Error(),
	})
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func writeResponse(w http.ResponseWriter, resp *domain.Response, cacheStatus string) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(CacheStatusHeader, cacheStatus)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// handleConnect はCONNECTトンネルを横取りせずに中継する.
func (h *WorkerHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		h.logger.Error("Hijacking not supported", nil, nil)
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		h.logger.Error("Hijacking failed", err, nil)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	// 200 Connection Established レスポンスを送信
	response := []byte("HTTP/1.1 200 Connection Established\r\n\r\n")
	if _, err := clientConn.Write(response); err != nil {
		h.logger.Error("Failed to write connection established response", err, nil)
		return
	}

	if err := h.tunnel.HandleTunnel(r.Context(), clientConn, r.Host); err != nil {
		h.logger.Error("Tunnel handling failed", err, map[string]interface{}{
			"host": r.Host,
		})
	}
}
