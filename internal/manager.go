package internal

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-party-room/pkg/errors"
)

// Manager 房間登錄表（記憶體實作）
//
// 系統設計考量：
//
//  1. 兩層鎖：
//     - mu 只保護 code → slot 的映射，查找後立即釋放
//     - 每個房間有自己的鎖，不同房間的更新互不阻塞
//
//  2. 目前狀態的唯一擁有者：
//     - slot 內只存一個 RoomState 值，外部拿到的都是不可變副本
//     - Update 以版本號做樂觀檢查，過期的更新會被拒絕
//
//  3. 資源回收：
//     - 玩家全部離開後記錄 emptySince
//     - 定期掃描，空房超過 EmptyRoomTTL 即移除
type Manager struct {
	rooms  map[string]*roomSlot
	mu     sync.RWMutex
	cfg    RoomsConfig
	logger *slog.Logger

	newCode func() string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// roomSlot 單一房間的目前狀態
type roomSlot struct {
	mu         sync.Mutex
	state      RoomState
	emptySince time.Time // 零值代表房間有人
}

// NewManager 創建房間管理器並啟動清理 goroutine
func NewManager(cfg RoomsConfig, logger *slog.Logger) *Manager {
	m := &Manager{
		rooms:   make(map[string]*roomSlot),
		cfg:     cfg,
		logger:  logger,
		newCode: generateJoinCode,
		stopCh:  make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return m
}

// 自動產生的加入碼撞到既有房間時重試的次數
const joinCodeAttempts = 5

// CreateRoom 創建房間；code 為空時自動產生加入碼
//
// 自動產生的加入碼重複時換一組再試，只有呼叫者指定的代碼才會回傳 ErrRoomAlreadyExists。
func (m *Manager) CreateRoom(code, gameType string, maxRounds int) (RoomState, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	generated := code == ""
	if !generated && !validRoomCode(code) {
		return RoomState{}, apperrors.ErrInvalidRoomCode.WithDetails(code)
	}

	attempts := 1
	if generated {
		attempts = joinCodeAttempts
	}

	for range attempts {
		if generated {
			code = m.newCode()
		}
		state, created := m.insertRoom(code, gameType, maxRounds)
		if !created {
			continue
		}

		m.logger.Info("房間已創建",
			"room_code", code,
			"game_type", gameType,
			"max_rounds", maxRounds)
		return state, nil
	}

	return RoomState{}, apperrors.ErrRoomAlreadyExists.WithDetails(code)
}

// insertRoom 代碼未被使用時寫入新房間
func (m *Manager) insertRoom(code, gameType string, maxRounds int) (RoomState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[code]; exists {
		return RoomState{}, false
	}
	state := NewRoomState(code, gameType, GameState{
		Phase:     PhaseLobby,
		MaxRounds: maxRounds,
	})
	m.rooms[code] = &roomSlot{state: state, emptySince: time.Now()}
	return state, true
}

// DeleteRoom 移除房間
func (m *Manager) DeleteRoom(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[code]; !exists {
		return apperrors.ErrRoomNotFound.WithDetails(code)
	}
	delete(m.rooms, code)

	m.logger.Info("房間已移除", "room_code", code)
	return nil
}

// HasRoom 房間是否存在
func (m *Manager) HasRoom(code string) bool {
	_, ok := m.slot(code)
	return ok
}

// GetRoomSafe 取得目前狀態，不存在時回傳 false
func (m *Manager) GetRoomSafe(code string) (RoomState, bool) {
	slot, ok := m.slot(code)
	if !ok {
		return RoomState{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.state, true
}

// AddPlayer 加入玩家；房間不存在、已滿或 ID 重複時回傳 false
func (m *Manager) AddPlayer(code string, player Player) bool {
	added := false
	_ = m.mutate(code, func(s RoomState) (RoomState, bool) {
		if s.HasPlayer(player.ID) || s.GetPlayerCount() >= m.cfg.MaxPlayers {
			return s, false
		}
		added = true
		return s.WithPlayerAdded(player), true
	})
	return added
}

// RemovePlayer 移除玩家
func (m *Manager) RemovePlayer(code, playerID string) bool {
	removed := false
	_ = m.mutate(code, func(s RoomState) (RoomState, bool) {
		if !s.HasPlayer(playerID) {
			return s, false
		}
		removed = true
		return s.WithPlayerRemoved(playerID), true
	})
	return removed
}

// ReplacePlayer 在同一把房間鎖內以新紀錄取代斷線玩家
//
// 舊紀錄已不存在或已重新連線，代表身份被其他連接搶先認回，回傳 ErrStaleState。
// 本回合的作答與投票一併轉到新 ID。
func (m *Manager) ReplacePlayer(code, oldID string, player Player) error {
	_, err := m.Update(code, func(cur RoomState) (RoomState, error) {
		old, ok := cur.GetPlayer(oldID)
		if !ok || old.Connected {
			return cur, apperrors.ErrStaleState.WithDetails("player identity already claimed: " + oldID)
		}
		if cur.HasPlayer(player.ID) {
			return cur, apperrors.New(apperrors.ErrCodeAlreadyExists, "player id already in room").WithDetails(player.ID)
		}

		next := cur.WithPlayerRemoved(oldID).WithPlayerAdded(player)
		if gs := cur.GameState(); gs.Current != nil {
			next = next.WithGameStateUpdated(RenamePlayer(gs, oldID, player.ID))
		}
		return next, nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("玩家身份已交換",
		"room_code", code,
		"old_id", oldID,
		"new_id", player.ID)
	return nil
}

// UpdatePlayerConnection 更新連線狀態；玩家不存在時不產生新版本
func (m *Manager) UpdatePlayerConnection(code, playerID string, connected bool) {
	_ = m.mutate(code, func(s RoomState) (RoomState, bool) {
		if !s.HasPlayer(playerID) {
			return s, false
		}
		return s.WithPlayerUpdated(playerID, PlayerPatch{Connected: &connected}), true
	})
}

// CleanupDuplicatePlayers 同名玩家只保留一筆
//
// 優先保留已連線的那筆（加入順序最早者），都斷線時保留最後加入的。
func (m *Manager) CleanupDuplicatePlayers(code string) {
	removed := 0
	_ = m.mutate(code, func(s RoomState) (RoomState, bool) {
		keep := make(map[string]string) // name → 保留的 ID
		for _, p := range s.Players() {
			current, seen := keep[p.Name]
			if !seen {
				keep[p.Name] = p.ID
				continue
			}
			kept, _ := s.GetPlayer(current)
			if !kept.Connected {
				keep[p.Name] = p.ID
			}
		}

		next := s
		for _, p := range s.Players() {
			if keep[p.Name] != p.ID {
				next = next.WithPlayerRemoved(p.ID)
				removed++
			}
		}
		return next, removed > 0
	})

	if removed > 0 {
		m.logger.Info("已清理重複玩家",
			"room_code", code,
			"removed", removed)
	}
}

// Update 以 fn 產生新狀態
//
// fn 必須基於傳入的目前狀態產生更新的版本，否則視為過期更新而拒絕。
// fn 回傳錯誤時狀態不變。同一房間的 Update 依序執行。
func (m *Manager) Update(code string, fn func(RoomState) (RoomState, error)) (RoomState, error) {
	slot, ok := m.slot(code)
	if !ok {
		return RoomState{}, apperrors.ErrRoomNotFound.WithDetails(code)
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	current := slot.state
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if next.Code() != current.Code() || next.Version() <= current.Version() {
		return current, apperrors.ErrStaleState.WithDetails(
			fmt.Sprintf("room %s: version %d -> %d", code, current.Version(), next.Version()))
	}

	slot.store(next)
	return next, nil
}

// mutate 內部用的無錯誤版 Update；fn 回傳 false 時不寫入
func (m *Manager) mutate(code string, fn func(RoomState) (RoomState, bool)) bool {
	slot, ok := m.slot(code)
	if !ok {
		return false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	next, changed := fn(slot.state)
	if changed {
		slot.store(next)
	}
	return changed
}

// store 寫入新狀態（需要持有 slot.mu）
func (s *roomSlot) store(next RoomState) {
	s.state = next
	switch {
	case next.IsEmpty() && s.emptySince.IsZero():
		s.emptySince = time.Now()
	case !next.IsEmpty():
		s.emptySince = time.Time{}
	}
}

func (m *Manager) slot(code string) (*roomSlot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.rooms[code]
	return slot, ok
}

// Rooms 所有房間代碼（排序後）
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.rooms))
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	phaseCount := make(map[Phase]int)
	totalPlayers := 0
	connectedPlayers := 0

	codes := m.Rooms()
	for _, code := range codes {
		room, ok := m.GetRoomSafe(code)
		if !ok {
			continue
		}
		phaseCount[room.Phase()]++
		totalPlayers += room.GetPlayerCount()
		connectedPlayers += room.GetConnectedPlayerCount()
	}

	return map[string]any{
		"total_rooms":       len(codes),
		"total_players":     totalPlayers,
		"connected_players": connectedPlayers,
		"by_phase":          phaseCount,
	}
}

// cleanupLoop 清理過期房間
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 移除空置超過 EmptyRoomTTL 的房間，回傳移除數量
func (m *Manager) Cleanup() int {
	now := time.Now()

	var expired []string
	for _, code := range m.Rooms() {
		slot, ok := m.slot(code)
		if !ok {
			continue
		}
		slot.mu.Lock()
		idle := !slot.emptySince.IsZero() && now.Sub(slot.emptySince) > m.cfg.EmptyRoomTTL
		slot.mu.Unlock()
		if idle {
			expired = append(expired, code)
		}
	}

	removed := 0
	for _, code := range expired {
		if err := m.DeleteRoom(code); err == nil {
			removed++
			m.logger.Info("空房間已過期清理", "room_code", code)
		}
	}
	return removed
}

// Stop 停止清理 goroutine
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.logger.Info("房間管理器已停止")
}

// generateJoinCode 生成簡短的加入碼
func generateJoinCode() string {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// 如果隨機讀取失敗，使用時間作為隨機源
		n := time.Now().UnixNano()
		for i := range b {
			b[i] = byte(n >> (8 * i))
		}
	}
	for i := range b {
		b[i] = chars[int(b[i])%len(chars)]
	}
	return string(b)
}

// validRoomCode 只允許大寫英數字，長度 4-12
func validRoomCode(code string) bool {
	if len(code) < 4 || len(code) > 12 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
