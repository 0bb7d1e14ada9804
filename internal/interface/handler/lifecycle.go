package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"bussid/internal/domain"
	"bussid/internal/interface/clients"
	"bussid/internal/usecase"
)

// LifecycleHandler はワーカーの状態確認と世代のデプロイを提供する.
type LifecycleHandler struct {
	registration *usecase.Registration
	caches       domain.CacheStorage
	hub          *clients.Hub
	live         domain.LiveEndpoints
	logger       domain.Logger
}

// NewLifecycleHandler は新しいLifecycleHandlerインスタンスを作成
func NewLifecycleHandler(
	registration *usecase.Registration,
	caches domain.CacheStorage,
	hub *clients.Hub,
	live domain.LiveEndpoints,
	logger domain.Logger,
) *LifecycleHandler {
	return &LifecycleHandler{
		registration: registration,
		caches:       caches,
		hub:          hub,
		live:         live,
		logger:       logger,
	}
}

// StatusResponse は /status のレスポンス.
type StatusResponse struct {
	Worker    usecase.RegistrationStatus `json:"worker"`
	Stores    []string                   `json:"stores"`
	Clients   []clients.ClientInfo       `json:"clients"`
	LiveHosts []string                   `json:"live_hosts"`
}

// StoreInfo はストア1件の概要.
type StoreInfo struct {
	Name       string `json:"name"`
	Generation string `json:"generation,omitempty"`
	Current    bool   `json:"current"`
	Entries    int    `json:"entries,omitempty"`
}

type deployRequest struct {
	Generation string `json:"generation"`
}

// HandleStatus はワーカー, ストア, クライアントの状態を返す.
func (h *LifecycleHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	names, err := h.caches.Keys(r.Context())
	if err != nil {
		h.logger.Error("Failed to list cache stores", err, nil)
		writeError(w, http.StatusInternalServerError, "failed to list cache stores", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Worker:    h.registration.Status(),
		Stores:    names,
		Clients:   h.hub.List(),
		LiveHosts: h.live.Fragments(),
	}, h.logger)
}

// HandleStores はストアごとのエントリ数を返す.
func (h *LifecycleHandler) HandleStores(w http.ResponseWriter, r *http.Request) {
	names, err := h.caches.Keys(r.Context())
	if err != nil {
		h.logger.Error("Failed to list cache stores", err, nil)
		writeError(w, http.StatusInternalServerError, "failed to list cache stores", h.logger)
		return
	}
	sort.Strings(names)

	current := h.registration.Status().Active
	infos := make([]StoreInfo, 0, len(names))
	for _, name := range names {
		info := StoreInfo{Name: name}
		if g, ok := domain.GenerationFromCacheName(name); ok {
			info.Generation = g.String()
			info.Current = g.String() == current
		}

		// Open は存在しないストアを作るため, 削除され得ない現行ストアだけを数える
		if info.Current {
			if store, err := h.caches.Open(r.Context(), name); err == nil {
				if keys, err := store.Keys(r.Context()); err == nil {
					info.Entries = len(keys)
				}
			}
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, infos, h.logger)
}

// HandleDeploy は新しい世代を登録する.
func (h *LifecycleHandler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	req.Generation = strings.TrimSpace(req.Generation)
	if req.Generation == "" {
		writeError(w, http.StatusBadRequest, "generation is required", h.logger)
		return
	}

	// 呼び出し側の切断でライフサイクルを途中で止めない
	ctx := context.WithoutCancel(r.Context())
	result, err := h.registration.Register(ctx, domain.Generation(req.Generation))
	if err != nil {
		h.logger.Error("Deploy failed", err, map[string]interface{}{
			"generation": req.Generation,
		})
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidTransition) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error(), h.logger)
		return
	}

	h.logger.Info("Generation deployed", map[string]interface{}{
		"generation": result.Generation,
		"unchanged":  result.Unchanged,
	})
	writeJSON(w, http.StatusOK, result, h.logger)
}
