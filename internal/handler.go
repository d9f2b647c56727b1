package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/koopa0/system-design/14-party-room/pkg/errors"
)

// Handler HTTP 請求處理器
type Handler struct {
	manager     *Manager
	broadcaster *Broadcaster
	hub         *Hub
	cfg         GameConfig
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, broadcaster *Broadcaster, hub *Hub, cfg GameConfig, logger *slog.Logger) *Handler {
	return &Handler{
		manager:     manager,
		broadcaster: broadcaster,
		hub:         hub,
		cfg:         cfg,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間管理 API
	mux.HandleFunc("POST /api/v1/rooms", wrap(h.createRoom))
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_code}", wrap(h.getRoom))
	mux.HandleFunc("DELETE /api/v1/rooms/{room_code}", wrap(h.deleteRoom))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

type createRoomRequest struct {
	Code      string `json:"code,omitempty"`
	GameType  string `json:"gameType,omitempty"`
	MaxRounds int    `json:"maxRounds,omitempty"`
}

type roomSummary struct {
	Code             string `json:"code"`
	GameType         string `json:"gameType"`
	Phase            Phase  `json:"phase"`
	Players          int    `json:"players"`
	ConnectedPlayers int    `json:"connectedPlayers"`
	Version          int    `json:"version"`
}

// createRoom 創建房間；body 可以為空
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	if req.GameType == "" {
		req.GameType = h.cfg.GameType
	}
	if req.MaxRounds == 0 {
		req.MaxRounds = h.cfg.MaxRounds
	}
	if req.MaxRounds < 1 || req.MaxRounds > 20 {
		h.errorResponse(w, "回合數必須在 1-20 之間", http.StatusBadRequest)
		return
	}

	room, err := h.manager.CreateRoom(req.Code, req.GameType, req.MaxRounds)
	if err != nil {
		h.appErrorResponse(w, err)
		return
	}

	h.jsonResponse(w, h.broadcaster.SerializeRoom(r.Context(), room), http.StatusCreated)
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	phase := Phase(r.URL.Query().Get("phase"))

	rooms := make([]roomSummary, 0)
	for _, code := range h.manager.Rooms() {
		room, ok := h.manager.GetRoomSafe(code)
		if !ok {
			continue
		}
		if phase != "" && room.Phase() != phase {
			continue
		}
		rooms = append(rooms, roomSummary{
			Code:             room.Code(),
			GameType:         room.GameType(),
			Phase:            room.Phase(),
			Players:          room.GetPlayerCount(),
			ConnectedPlayers: room.GetConnectedPlayerCount(),
			Version:          room.Version(),
		})
	}

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

// getRoom 房間完整快照
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.PathValue("room_code"))

	room, ok := h.manager.GetRoomSafe(code)
	if !ok {
		h.appErrorResponse(w, apperrors.ErrRoomNotFound.WithDetails(code))
		return
	}

	h.jsonResponse(w, h.broadcaster.SerializeRoom(r.Context(), room), http.StatusOK)
}

// deleteRoom 關閉房間
func (h *Handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.PathValue("room_code"))

	if err := h.manager.DeleteRoom(code); err != nil {
		h.appErrorResponse(w, err)
		return
	}

	if h.hub != nil {
		if closed := h.hub.CloseRoom(code, fmt.Sprintf("Room %s closed", code)); closed > 0 {
			h.logger.Info("房間關閉，已斷開連接",
				"room_code", code,
				"connections", closed)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	if h.hub != nil {
		stats["connections"] = h.hub.ConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// appErrorResponse 依錯誤代碼決定狀態碼
func (h *Handler) appErrorResponse(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		h.logger.Error("未預期的錯誤", "error", err)
		h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"error": appErr.Message,
		"code":  appErr.Code,
	}, httpStatus(appErr.Code))
}

func httpStatus(code string) int {
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeAlreadyExists, apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
