package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/koopa0/system-design/14-party-room/pkg/logger"
)

// 系統設計問題：
//   同一個房間有三種輸出：領域事件、完整快照、計時器。如何決定送給誰、送什麼？
//
// 核心挑戰：
//   1. 路由：全房間 / 單一連接 / 房主
//   2. 成本：完整快照需要序列化整個房間（含題庫查詢），計時器每秒都在跳
//   3. 隔離：一個事件送失敗不能擋住其他事件
//
// 設計方案：
//   ✅ roomUpdate 只當「需要快照」的旗標，每次呼叫最多序列化一次
//   ✅ 計時器只送 {timeLeft}，完全繞過序列化
//   ✅ 逐事件捕捉錯誤與 panic，記錄後繼續

// Emitter 傳輸層的房間頻道
type Emitter interface {
	// ToRoom 送給訂閱該房間的所有連接
	ToRoom(ctx context.Context, roomCode, event string, payload any) error
	// ToSocket 送給單一連接，連接不存在時不做任何事
	ToSocket(ctx context.Context, socketID, event string, payload any) error
}

// AnswerLookup 題庫的正解查詢
type AnswerLookup interface {
	GetAnswerForPrompt(ctx context.Context, promptID string) (string, error)
}

// BroadcastRequest 一次廣播的內容
type BroadcastRequest struct {
	RoomCode  string
	Events    []GameEvent
	RoomState *RoomState // 非 nil 時在所有事件之後送出一次完整快照
}

// Broadcaster 事件廣播服務
type Broadcaster struct {
	emitter Emitter
	answers AnswerLookup
	logger  *slog.Logger
}

// NewBroadcaster 創建廣播服務
func NewBroadcaster(emitter Emitter, answers AnswerLookup, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		emitter: emitter,
		answers: answers,
		logger:  logger,
	}
}

// BroadcastEvents 依 Target 分派每個事件，最後視需要送出完整快照
//
// 傳送採盡力而為：單一事件失敗只記錄日誌。
func (b *Broadcaster) BroadcastEvents(ctx context.Context, req BroadcastRequest) {
	ctx = logger.WithRoomCode(ctx, req.RoomCode)

	for _, event := range req.Events {
		if event.Type == EventRoomUpdate {
			continue
		}
		b.deliver(ctx, req.RoomCode, event)
	}

	if req.RoomState != nil {
		if err := b.BroadcastRoomUpdate(ctx, req.RoomCode, *req.RoomState); err != nil {
			b.logger.WarnContext(ctx, "廣播房間快照失敗", "error", err)
		}
	}
}

// BroadcastRoomUpdate 序列化房間並送出 room 訊息
func (b *Broadcaster) BroadcastRoomUpdate(ctx context.Context, roomCode string, room RoomState) error {
	snapshot := b.SerializeRoom(ctx, room)
	if err := b.emitter.ToRoom(ctx, roomCode, MessageRoom, snapshot); err != nil {
		return fmt.Errorf("emit room snapshot: %w", err)
	}
	return nil
}

// SendRoomTo 只把快照送給一個連接（新連接的初始同步）
func (b *Broadcaster) SendRoomTo(ctx context.Context, socketID string, room RoomState) error {
	snapshot := b.SerializeRoom(ctx, room)
	if err := b.emitter.ToSocket(ctx, socketID, MessageRoom, snapshot); err != nil {
		return fmt.Errorf("emit room snapshot to socket: %w", err)
	}
	return nil
}

// SendTimerUpdate 計時器訊息只帶 timeLeft
//
// 計時器的頻率遠高於狀態變更，絕不能走完整序列化。
func (b *Broadcaster) SendTimerUpdate(ctx context.Context, roomCode string, timeLeft int) error {
	if err := b.emitter.ToRoom(ctx, roomCode, MessageTimer, TimerUpdate{TimeLeft: timeLeft}); err != nil {
		return fmt.Errorf("emit timer: %w", err)
	}
	return nil
}

// deliver 送出單一事件，錯誤與 panic 都在這裡吸收
func (b *Broadcaster) deliver(ctx context.Context, roomCode string, event GameEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "傳送事件時發生 panic",
				"event", event.Type,
				"target", event.Target,
				"panic", r)
		}
	}()

	var err error
	switch event.Target {
	case TargetAll:
		err = b.emitter.ToRoom(ctx, roomCode, event.Type, event.Data)
	case TargetHost:
		// 尚未實作只送房主，沿用房間頻道
		err = b.emitter.ToRoom(ctx, roomCode, event.Type, event.Data)
	case TargetPlayer:
		if event.PlayerID == "" {
			b.logger.DebugContext(ctx, "PLAYER 事件缺少 playerId，略過", "event", event.Type)
			return
		}
		err = b.emitter.ToSocket(ctx, event.PlayerID, event.Type, event.Data)
	default:
		b.logger.WarnContext(ctx, "未知的事件目標，略過",
			"event", event.Type,
			"target", event.Target)
		return
	}

	if err != nil {
		b.logger.WarnContext(ctx, "傳送事件失敗",
			"event", event.Type,
			"target", event.Target,
			"error", err)
	}
}
