package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/system-design/14-party-room/pkg/errors"
	"github.com/koopa0/system-design/14-party-room/pkg/logger"
)

// 客戶端事件名稱
const (
	ClientJoin         = "join"
	ClientSubmitAnswer = "submitAnswer"
	ClientSubmitVote   = "submitVote"
	ClientStartGame    = "startGame"
	ClientPing         = "ping"
)

type joinData struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type answerData struct {
	Text string `json:"text"`
}

type voteData struct {
	ChoiceID string `json:"choiceId"`
}

// Gateway 房間的 WebSocket 入口
//
// 每個連接都是一個 socket id，連接事件交給 ConnectionManager，
// 遊戲操作交給 GameDriver，結果透過 Broadcaster 推回房間。
type Gateway struct {
	hub         *Hub
	rooms       RoomManager
	conns       *ConnectionManager
	driver      *GameDriver
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewGateway 創建 WebSocket 入口
func NewGateway(hub *Hub, rooms RoomManager, conns *ConnectionManager, driver *GameDriver, broadcaster *Broadcaster, logger *slog.Logger) *Gateway {
	return &Gateway{
		hub:         hub,
		rooms:       rooms,
		conns:       conns,
		driver:      driver,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// ServeWS 處理 GET /ws/rooms/{room_code}
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.PathValue("room_code"))
	if code == "" {
		http.Error(w, "缺少房間代碼", http.StatusBadRequest)
		return
	}

	socketID := uuid.NewString()

	// 連接的生命週期比請求長，不能沿用會被取消的 r.Context()
	ctx := logger.WithSocketID(logger.WithRoomCode(context.WithoutCancel(r.Context()), code), socketID)

	ws, err := g.hub.Upgrade(w, r)
	if err != nil {
		g.logger.WarnContext(ctx, "升級 WebSocket 失敗", "error", err)
		return
	}

	result := g.conns.HandleConnection(code, socketID)
	if !result.Success {
		g.logger.InfoContext(ctx, "拒絕連接", "reason", result.Error)
		_ = ws.WriteJSON(outboundMessage{Event: MessageError, Data: ErrorPayload{Message: result.Error}})
		ws.Close()
		return
	}

	c := g.hub.Register(socketID, code, ws, g)
	c.Start(ctx)

	g.logger.InfoContext(ctx, "WebSocket 連接建立", "reconnection", result.IsReconnection)

	if result.IsReconnection {
		g.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
			RoomCode:  code,
			Events:    []GameEvent{JoinedEvent(socketID, result), RoomUpdateEvent()},
			RoomState: result.Room,
		})
		return
	}
	if err := g.broadcaster.SendRoomTo(ctx, socketID, *result.Room); err != nil {
		g.logger.WarnContext(ctx, "初始同步失敗", "error", err)
	}
}

// HandleMessage 分派客戶端事件
func (g *Gateway) HandleMessage(ctx context.Context, c *Connection, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "處理訊息時發生 panic",
				"event", env.Event,
				"panic", r)
			g.sendError(ctx, c.SocketID, "Internal error")
		}
	}()

	var err error
	switch env.Event {
	case ClientJoin:
		err = g.handleJoin(ctx, c, env.Data)
	case ClientSubmitAnswer:
		var data answerData
		if err = decodeData(env.Data, &data); err == nil {
			err = g.driver.SubmitAnswer(ctx, c.RoomCode, c.SocketID, data.Text)
		}
	case ClientSubmitVote:
		var data voteData
		if err = decodeData(env.Data, &data); err == nil {
			err = g.driver.SubmitVote(ctx, c.RoomCode, c.SocketID, data.ChoiceID)
		}
	case ClientStartGame:
		err = g.driver.StartGame(ctx, c.RoomCode, c.SocketID)
	case ClientPing:
		err = g.hub.ToSocket(ctx, c.SocketID, MessagePong, struct{}{})
	default:
		g.logger.DebugContext(ctx, "收到未知訊息類型", "event", env.Event)
		err = apperrors.New(apperrors.ErrCodeInvalidInput, "unknown event").WithDetails(env.Event)
	}

	if err != nil {
		g.logger.DebugContext(ctx, "客戶端操作失敗", "event", env.Event, "error", err)
		g.sendError(ctx, c.SocketID, clientMessage(err))
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var data joinData
	if err := decodeData(raw, &data); err != nil {
		return err
	}

	result := g.conns.HandlePlayerJoin(c.RoomCode, c.SocketID, strings.TrimSpace(data.Name), data.Avatar)
	if !result.Success {
		g.sendError(ctx, c.SocketID, result.Error)
		return nil
	}

	g.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
		RoomCode:  c.RoomCode,
		Events:    []GameEvent{JoinedEvent(c.SocketID, result), RoomUpdateEvent()},
		RoomState: result.Room,
	})
	return nil
}

// HandleClose 連接關閉時標記玩家斷線
func (g *Gateway) HandleClose(ctx context.Context, c *Connection) {
	if !g.conns.HandleDisconnection(c.RoomCode, c.SocketID) {
		return
	}
	room, ok := g.rooms.GetRoomSafe(c.RoomCode)
	if !ok {
		return
	}
	g.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
		RoomCode:  c.RoomCode,
		Events:    []GameEvent{RoomUpdateEvent()},
		RoomState: &room,
	})
}

func (g *Gateway) sendError(ctx context.Context, socketID, message string) {
	g.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
		Events: []GameEvent{ErrorEvent(socketID, message)},
	})
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid event data")
	}
	return nil
}

// clientMessage 可以直接顯示給玩家的錯誤訊息
func clientMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal error"
}
