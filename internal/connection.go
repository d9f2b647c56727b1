package internal

import (
	"fmt"
	"log/slog"

	apperrors "github.com/koopa0/system-design/14-party-room/pkg/errors"
)

// 系統設計問題：
//   玩家網路中斷後重新連線，socket id 已經換了，如何認回原本的身份？
//
// 核心挑戰：
//   1. 身份恢復：新連接要接手舊玩家的分數，而不是變成一個新玩家
//   2. 防止重複：同名玩家不能同時在線，殘留的舊紀錄要清掉
//   3. 失敗語意：房間不存在、名稱衝突都是預期情況，回傳結果而非錯誤
//
// 設計方案：
//   ✅ 以顯示名稱作為跨連接的身份
//   ✅ 重連 = 移除舊紀錄 + 以新 ID 加入（保留 name / avatar / score）
//   ✅ 加入後執行一次重複玩家清理
//   ✅ 兩個連接搶同一個斷線身份時，只有先完成交換的一方成功

// RoomManager 房間登錄表（外部協作者）
//
// 目前房間狀態的唯一擁有者。這裡只讀取狀態或交回新狀態，
// 不保留任何可變副本。實作中的 panic 代表程式或儲存層缺陷，不在此攔截。
type RoomManager interface {
	HasRoom(code string) bool
	GetRoomSafe(code string) (RoomState, bool)
	AddPlayer(code string, player Player) bool
	RemovePlayer(code, playerID string) bool
	UpdatePlayerConnection(code, playerID string, connected bool)
	CleanupDuplicatePlayers(code string)
}

// PlayerReplacer 能在同一把房間鎖內完成「移除舊紀錄 + 加入新紀錄」的 RoomManager
//
// 舊紀錄已被其他連接認回時回傳 Conflict 類錯誤。
// 沒有實作時退回 RemovePlayer + AddPlayer 兩步。
type PlayerReplacer interface {
	ReplacePlayer(code, oldID string, player Player) error
}

// swapOutcome 身份交換的結果
type swapOutcome int

const (
	swapDone    swapOutcome = iota
	swapClaimed             // 舊身份已被其他連接認回
	swapFailed              // 新紀錄加不進去
)

// ConnectionResult 連線 / 加入的結果
type ConnectionResult struct {
	Success             bool
	Room                *RoomState // 失敗時為 nil
	IsReconnection      bool
	ReconnectedPlayerID string // 被認回的舊 ID
	Error               string
}

// 失敗訊息（會直接顯示給玩家）
const (
	errMsgRoomNotFound     = "Room not found"
	errMsgRetrieveFailed   = "Failed to create or retrieve room"
	errMsgNameTaken        = "Player name already taken"
	errMsgAddPlayerFailed  = "Failed to add player to room"
	errMsgPlayerNameNeeded = "Player name is required"
)

// ConnectionManager 把傳輸層的連線事件轉成房間狀態變更
type ConnectionManager struct {
	rooms  RoomManager
	logger *slog.Logger
}

// NewConnectionManager 創建連線管理服務
func NewConnectionManager(rooms RoomManager, logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		rooms:  rooms,
		logger: logger,
	}
}

// HandleConnection 處理新連接
//
// 連接當下還不知道玩家名稱，所以只在房間裡恰好有一位斷線玩家時，
// 才把這個連接視為該玩家回來了。零位或多位斷線玩家都當成新連接。
func (c *ConnectionManager) HandleConnection(roomCode, clientID string) ConnectionResult {
	if !c.rooms.HasRoom(roomCode) {
		return failure(fmt.Sprintf("Room %s not found", roomCode))
	}

	room, ok := c.rooms.GetRoomSafe(roomCode)
	if !ok {
		// 存在檢查與取得之間房間被刪除
		return failure(errMsgRetrieveFailed)
	}

	// 同一連接重複觸發
	if room.HasPlayer(clientID) {
		c.rooms.UpdatePlayerConnection(roomCode, clientID, true)
		return c.result(roomCode, room, "", false)
	}

	candidate, ok := reconnectCandidate(room)
	if !ok {
		return success(room, "", false)
	}

	switch c.swapIdentity(roomCode, candidate, clientID, candidate.Name, candidate.Avatar) {
	case swapClaimed:
		// 讀取快照後已有其他連接認回，這個連接當成新連接
		return c.result(roomCode, room, "", false)
	case swapFailed:
		return failure(errMsgAddPlayerFailed)
	}

	c.logger.Info("連接時認回斷線玩家",
		"room_code", roomCode,
		"old_id", candidate.ID,
		"new_id", clientID,
		"player_name", candidate.Name)

	return c.result(roomCode, room, candidate.ID, true)
}

// HandleDisconnection 標記玩家斷線，分數與身份保留
//
// 房間或玩家不存在時回傳 false，不做任何事。
func (c *ConnectionManager) HandleDisconnection(roomCode, clientID string) bool {
	room, ok := c.rooms.GetRoomSafe(roomCode)
	if !ok {
		return false
	}
	if !room.HasPlayer(clientID) {
		return false
	}

	c.rooms.UpdatePlayerConnection(roomCode, clientID, false)

	c.logger.Info("玩家斷線",
		"room_code", roomCode,
		"player_id", clientID)

	return true
}

// HandlePlayerJoin 玩家以名稱加入房間
//
// 流程：
//  1. 房間必須存在
//  2. 已連線玩家使用同名 → 拒絕
//  3. 斷線玩家使用同名 → 重連，沿用分數
//  4. 否則以新玩家加入，分數為 0
func (c *ConnectionManager) HandlePlayerJoin(roomCode, clientID, name, avatar string) ConnectionResult {
	if !c.rooms.HasRoom(roomCode) {
		return failure(errMsgRoomNotFound)
	}
	room, ok := c.rooms.GetRoomSafe(roomCode)
	if !ok {
		return failure(errMsgRoomNotFound)
	}
	if name == "" {
		return failure(errMsgPlayerNameNeeded)
	}

	var disconnected *Player
	for _, p := range room.Players() {
		if p.Name != name {
			continue
		}
		if p.Connected {
			// 連接時已經被認回的同一個連接，再送一次 join 視為成功
			if p.ID == clientID {
				return success(room, "", false)
			}
			return failure(errMsgNameTaken)
		}
		if disconnected == nil {
			found := p
			disconnected = &found
		}
	}

	if disconnected != nil {
		switch c.swapIdentity(roomCode, *disconnected, clientID, name, avatar) {
		case swapClaimed:
			return failure(errMsgNameTaken)
		case swapFailed:
			return failure(errMsgAddPlayerFailed)
		}
		c.rooms.CleanupDuplicatePlayers(roomCode)

		// 清理可能移除了剛加入的紀錄，確認身份仍屬於這個連接
		current, ok := c.rooms.GetRoomSafe(roomCode)
		if !ok || !current.HasPlayer(clientID) {
			return failure(errMsgNameTaken)
		}

		c.logger.Info("玩家重新連線",
			"room_code", roomCode,
			"old_id", disconnected.ID,
			"new_id", clientID,
			"player_name", name,
			"score", disconnected.Score)

		return c.result(roomCode, room, disconnected.ID, true)
	}

	player := Player{
		ID:        clientID,
		Name:      name,
		Avatar:    avatar,
		Connected: true,
		Score:     0,
	}
	if !c.rooms.AddPlayer(roomCode, player) {
		return failure(errMsgAddPlayerFailed)
	}

	c.logger.Info("玩家加入房間",
		"room_code", roomCode,
		"player_id", clientID,
		"player_name", name)

	return c.result(roomCode, room, "", false)
}

// swapIdentity 以新 ID 取代斷線玩家的紀錄
//
// 舊紀錄已經不在，代表其他連接先認回了這個身份。
// 兩步交換時若加入失敗，把舊紀錄放回去，避免分數遺失。
func (c *ConnectionManager) swapIdentity(roomCode string, old Player, clientID, name, avatar string) swapOutcome {
	restored := Player{
		ID:        clientID,
		Name:      name,
		Avatar:    avatar,
		Connected: true,
		Score:     old.Score,
	}

	if replacer, ok := c.rooms.(PlayerReplacer); ok {
		err := replacer.ReplacePlayer(roomCode, old.ID, restored)
		switch {
		case err == nil:
			return swapDone
		case apperrors.IsConflict(err):
			return swapClaimed
		default:
			c.logger.Warn("交換玩家身份失敗",
				"room_code", roomCode,
				"old_id", old.ID,
				"new_id", clientID,
				"error", err)
			return swapFailed
		}
	}

	if !c.rooms.RemovePlayer(roomCode, old.ID) {
		return swapClaimed
	}
	if c.rooms.AddPlayer(roomCode, restored) {
		return swapDone
	}

	if !c.rooms.AddPlayer(roomCode, old) {
		c.logger.Error("重連失敗且無法還原舊玩家紀錄",
			"room_code", roomCode,
			"old_id", old.ID,
			"player_name", old.Name)
	}
	return swapFailed
}

// result 回傳最新的房間狀態；重新讀取失敗時退回修改前的快照
func (c *ConnectionManager) result(roomCode string, fallback RoomState, reconnectedID string, reconnection bool) ConnectionResult {
	room, ok := c.rooms.GetRoomSafe(roomCode)
	if !ok {
		room = fallback
	}
	return success(room, reconnectedID, reconnection)
}

// reconnectCandidate 恰好一位有名稱的斷線玩家時回傳該玩家
func reconnectCandidate(room RoomState) (Player, bool) {
	var found []Player
	for _, p := range room.Players() {
		if !p.Connected && p.Name != "" {
			found = append(found, p)
		}
	}
	if len(found) != 1 {
		return Player{}, false
	}
	return found[0], true
}

func success(room RoomState, reconnectedID string, reconnection bool) ConnectionResult {
	return ConnectionResult{
		Success:             true,
		Room:                &room,
		IsReconnection:      reconnection,
		ReconnectedPlayerID: reconnectedID,
	}
}

func failure(message string) ConnectionResult {
	return ConnectionResult{
		Success: false,
		Error:   message,
	}
}
