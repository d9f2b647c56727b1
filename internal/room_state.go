package internal

import (
	"slices"
	"time"
)

// 系統設計問題：
//   連線事件、玩家操作、計時器三個來源同時修改同一房間，如何保持一致？
//
// 設計方案：
//   ✅ 不可變值（copy-on-write）- 每次修改都產生新實例，舊實例可被任意共享讀取
//   ✅ 版本號 - 每次修改 +1，上游（Manager）以此做樂觀併發檢查
//   ✅ 房主為弱引用 - 只存玩家 ID，一致性由 with 方法維護

// RoomState 房間在某一時間點的完整狀態
//
// 所有欄位都不對外暴露，只能透過 With* 產生新狀態。
// 玩家列表的順序即加入順序，房主轉移依此決定。
type RoomState struct {
	code         string
	gameType     string
	gameState    GameState
	players      []Player
	phase        Phase
	hostID       string // 空字串代表沒有房主（當且僅當沒有玩家）
	lastActivity time.Time
	version      int
}

// NewRoomState 創建版本為 0 的空房間
func NewRoomState(code, gameType string, gameState GameState) RoomState {
	return RoomState{
		code:         code,
		gameType:     gameType,
		gameState:    gameState,
		phase:        gameState.Phase,
		lastActivity: time.Now(),
	}
}

// next 複製一份並遞增版本
//
// 玩家列表必須複製，否則 append / 刪除會影響到舊實例。
func (s RoomState) next() RoomState {
	n := s
	n.players = slices.Clone(s.players)
	n.version = s.version + 1
	return n
}

// WithPlayerAdded 加入玩家，第一位玩家成為房主
//
// ID 已存在時不加入，但版本仍然遞增。
func (s RoomState) WithPlayerAdded(player Player) RoomState {
	n := s.next()
	if s.HasPlayer(player.ID) {
		return n
	}
	if len(n.players) == 0 {
		n.hostID = player.ID
	}
	n.players = append(n.players, player)
	return n
}

// WithPlayerRemoved 移除玩家
//
// 移除的是房主時，由最早加入的剩餘玩家接任；沒有剩餘玩家則房主為空。
func (s RoomState) WithPlayerRemoved(playerID string) RoomState {
	n := s.next()
	idx := s.indexOf(playerID)
	if idx < 0 {
		return n
	}
	n.players = slices.Delete(n.players, idx, idx+1)
	if n.hostID == playerID {
		n.hostID = ""
		if len(n.players) > 0 {
			n.hostID = n.players[0].ID
		}
	}
	return n
}

// WithPlayerUpdated 合併部分欄位到指定玩家
//
// 找不到玩家時玩家列表不變，版本仍遞增。
func (s RoomState) WithPlayerUpdated(playerID string, patch PlayerPatch) RoomState {
	n := s.next()
	idx := s.indexOf(playerID)
	if idx < 0 {
		return n
	}
	n.players[idx] = n.players[idx].apply(patch)
	return n
}

// WithGameStateUpdated 替換遊戲狀態，並從中重新取得 phase
func (s RoomState) WithGameStateUpdated(gameState GameState) RoomState {
	n := s.next()
	n.gameState = gameState
	n.phase = gameState.Phase
	return n
}

// WithPhaseUpdated 只更新房間層級的 phase，不會同步 gameState.Phase
func (s RoomState) WithPhaseUpdated(phase Phase) RoomState {
	n := s.next()
	n.phase = phase
	return n
}

// WithActivityUpdated 刷新最後活動時間
func (s RoomState) WithActivityUpdated() RoomState {
	n := s.next()
	n.lastActivity = time.Now()
	return n
}

// Code 房間代碼
func (s RoomState) Code() string { return s.code }

// GameType 遊戲類型
func (s RoomState) GameType() string { return s.gameType }

// GameState 遊戲狀態（唯讀）
func (s RoomState) GameState() GameState { return s.gameState }

// Phase 房間層級的階段
func (s RoomState) Phase() Phase { return s.phase }

// HostID 房主 ID，沒有房主時為空字串
func (s RoomState) HostID() string { return s.hostID }

// LastActivity 最後活動時間
func (s RoomState) LastActivity() time.Time { return s.lastActivity }

// Version 版本號
func (s RoomState) Version() int { return s.version }

// Players 玩家列表副本（加入順序）
func (s RoomState) Players() []Player {
	return slices.Clone(s.players)
}

// HasPlayer 玩家是否在房間內
func (s RoomState) HasPlayer(playerID string) bool {
	return s.indexOf(playerID) >= 0
}

// GetPlayer 取得玩家
func (s RoomState) GetPlayer(playerID string) (Player, bool) {
	idx := s.indexOf(playerID)
	if idx < 0 {
		return Player{}, false
	}
	return s.players[idx], true
}

// GetConnectedPlayers 已連線的玩家（加入順序）
func (s RoomState) GetConnectedPlayers() []Player {
	connected := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		if p.Connected {
			connected = append(connected, p)
		}
	}
	return connected
}

// GetPlayerCount 玩家數量（含斷線）
func (s RoomState) GetPlayerCount() int {
	return len(s.players)
}

// GetConnectedPlayerCount 已連線玩家數量
func (s RoomState) GetConnectedPlayerCount() int {
	count := 0
	for _, p := range s.players {
		if p.Connected {
			count++
		}
	}
	return count
}

// IsHost 是否為房主
func (s RoomState) IsHost(playerID string) bool {
	return playerID != "" && s.hostID == playerID
}

// IsEmpty 房間是否沒有玩家
func (s RoomState) IsEmpty() bool {
	return len(s.players) == 0
}

func (s RoomState) indexOf(playerID string) int {
	return slices.IndexFunc(s.players, func(p Player) bool {
		return p.ID == playerID
	})
}
