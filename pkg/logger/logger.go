// Package logger 建立服務使用的結構化日誌
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// RoomCodeKey 房間代碼的上下文鍵
	RoomCodeKey contextKey = "room_code"
	// SocketIDKey 連接 ID 的上下文鍵
	SocketIDKey contextKey = "socket_id"
)

// New 依級別與格式建立 logger
//
// debug 級別會附帶源碼位置。處理器會從 context 取出房間代碼與連接 ID，
// 所以呼叫端應使用 InfoContext / ErrorContext 等方法。
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// ParseLevel 解析日誌級別，無法辨識時回傳 info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取資訊的處理器
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if code, ok := ctx.Value(RoomCodeKey).(string); ok && code != "" {
		r.AddAttrs(slog.String("room_code", code))
	}
	if socketID, ok := ctx.Value(SocketIDKey).(string); ok && socketID != "" {
		r.AddAttrs(slog.String("socket_id", socketID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持包裝，否則 logger.With 之後會失去上下文欄位
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 同上
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRoomCode 添加房間代碼到上下文
func WithRoomCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, RoomCodeKey, code)
}

// WithSocketID 添加連接 ID 到上下文
func WithSocketID(ctx context.Context, socketID string) context.Context {
	return context.WithValue(ctx, SocketIDKey, socketID)
}
