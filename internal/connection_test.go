package internal_test

import (
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-party-room/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnTest 房間 TEST123 已存在的連線管理服務
func newConnTest(t *testing.T, players ...internal.Player) (*internal.ConnectionManager, *internal.Manager) {
	t.Helper()
	m := newTestManager(t)
	_, err := m.CreateRoom("TEST123", "fibbage", 3)
	require.NoError(t, err)
	for _, p := range players {
		require.True(t, m.AddPlayer("TEST123", p))
	}
	return internal.NewConnectionManager(m, testLogger()), m
}

// vanishingRooms 存在檢查成功但取得失敗（檢查與取得之間房間被刪除）
type vanishingRooms struct{ *internal.Manager }

func (vanishingRooms) HasRoom(string) bool { return true }

func (vanishingRooms) GetRoomSafe(string) (internal.RoomState, bool) {
	return internal.RoomState{}, false
}

// brokenRooms 儲存層缺陷
type brokenRooms struct{ *internal.Manager }

func (brokenRooms) HasRoom(string) bool { panic("storage corrupted") }

// staleRooms 讀到快照後、回傳前先讓另一個連接執行完（只發生一次）
//
// 內嵌介面而非 *Manager，所以沒有 ReplacePlayer，走兩步交換。
type staleRooms struct {
	internal.RoomManager
	interleave func()
	once       sync.Once
}

func (s *staleRooms) GetRoomSafe(code string) (internal.RoomState, bool) {
	room, ok := s.RoomManager.GetRoomSafe(code)
	s.once.Do(s.interleave)
	return room, ok
}

// atomicStaleRooms 同樣的交錯，但交換在房間鎖內完成
type atomicStaleRooms struct {
	*staleRooms
	m *internal.Manager
}

func (a atomicStaleRooms) ReplacePlayer(code, oldID string, p internal.Player) error {
	return a.m.ReplacePlayer(code, oldID, p)
}

// racingIdentity 兩種交換方式下，另一個連接在讀取快照後搶先認回 Bob
func racingIdentity(t *testing.T, atomic bool) (*internal.ConnectionManager, *internal.Manager) {
	t.Helper()
	m := newTestManager(t)
	_, err := m.CreateRoom("TEST123", "fibbage", 3)
	require.NoError(t, err)
	require.True(t, m.AddPlayer("TEST123", player("p1", "Alice")))
	require.True(t, m.AddPlayer("TEST123", internal.Player{ID: "bob-old", Name: "Bob", Score: 300}))

	other := internal.NewConnectionManager(m, testLogger())
	stale := &staleRooms{
		RoomManager: m,
		interleave: func() {
			result := other.HandlePlayerJoin("TEST123", "sockB", "Bob", "")
			require.True(t, result.Success)
			require.True(t, result.IsReconnection)
		},
	}

	var rooms internal.RoomManager = stale
	if atomic {
		rooms = atomicStaleRooms{staleRooms: stale, m: m}
	}
	return internal.NewConnectionManager(rooms, testLogger()), m
}

// assertBobOwnedBy 身份只屬於一個連接，分數沒有重複或遺失
func assertBobOwnedBy(t *testing.T, m *internal.Manager, owner string, absent ...string) {
	t.Helper()
	room, ok := m.GetRoomSafe("TEST123")
	require.True(t, ok)

	p, ok := room.GetPlayer(owner)
	require.True(t, ok)
	assert.True(t, p.Connected)
	assert.Equal(t, 300, p.Score)
	for _, id := range absent {
		assert.False(t, room.HasPlayer(id), "%s should not be in the room", id)
	}
	assert.Equal(t, 2, room.GetPlayerCount())
}

// TestConnectionManager_JoinRaceForSameIdentity 兩個連接同時以同名認回斷線玩家
func TestConnectionManager_JoinRaceForSameIdentity(t *testing.T) {
	tests := []struct {
		name   string
		atomic bool
	}{
		{name: "atomic replace", atomic: true},
		{name: "remove then add", atomic: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, m := racingIdentity(t, tt.atomic)

			result := cm.HandlePlayerJoin("TEST123", "sockA", "Bob", "")

			assert.False(t, result.Success)
			assert.Equal(t, "Player name already taken", result.Error)
			assertBobOwnedBy(t, m, "sockB", "sockA", "bob-old")
		})
	}
}

// TestConnectionManager_ConnectRaceForSameIdentity 連接階段的候選人已被其他連接認回
func TestConnectionManager_ConnectRaceForSameIdentity(t *testing.T) {
	tests := []struct {
		name   string
		atomic bool
	}{
		{name: "atomic replace", atomic: true},
		{name: "remove then add", atomic: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, m := racingIdentity(t, tt.atomic)

			result := cm.HandleConnection("TEST123", "sockA")

			require.True(t, result.Success)
			assert.False(t, result.IsReconnection)
			assert.Empty(t, result.ReconnectedPlayerID)
			assertBobOwnedBy(t, m, "sockB", "sockA", "bob-old")
		})
	}
}

// TestConnectionManager_Disconnect 斷線保留分數與身份
func TestConnectionManager_Disconnect(t *testing.T) {
	cm, m := newConnTest(t, internal.Player{ID: "client-1", Name: "TestPlayer", Connected: true, Score: 700})

	assert.True(t, cm.HandleDisconnection("TEST123", "client-1"))

	room, ok := m.GetRoomSafe("TEST123")
	require.True(t, ok)
	p, ok := room.GetPlayer("client-1")
	require.True(t, ok)
	assert.False(t, p.Connected)
	assert.Equal(t, 700, p.Score)

	assert.False(t, cm.HandleDisconnection("TEST123", "nobody"))
	assert.False(t, cm.HandleDisconnection("MISSING", "client-1"))
}

// TestConnectionManager_JoinReconnects 斷線玩家以同名重新加入
func TestConnectionManager_JoinReconnects(t *testing.T) {
	cm, m := newConnTest(t, internal.Player{ID: "client-1", Name: "TestPlayer", Avatar: "fox", Connected: true, Score: 1500})
	require.True(t, cm.HandleDisconnection("TEST123", "client-1"))

	result := cm.HandlePlayerJoin("TEST123", "client-2", "TestPlayer", "owl")

	assert.True(t, result.Success)
	assert.True(t, result.IsReconnection)
	assert.Equal(t, "client-1", result.ReconnectedPlayerID)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.Room)

	p, ok := result.Room.GetPlayer("client-2")
	require.True(t, ok)
	assert.Equal(t, "TestPlayer", p.Name)
	assert.Equal(t, "owl", p.Avatar)
	assert.Equal(t, 1500, p.Score)
	assert.True(t, p.Connected)
	assert.False(t, result.Room.HasPlayer("client-1"))

	room, _ := m.GetRoomSafe("TEST123")
	assert.Equal(t, 1, room.GetPlayerCount())
	assert.True(t, room.IsHost("client-2"))
}

// TestConnectionManager_JoinPreservesScore 任意分數都原樣保留
func TestConnectionManager_JoinPreservesScore(t *testing.T) {
	for _, score := range []int{0, 1, 500, 123456} {
		cm, _ := newConnTest(t,
			internal.Player{ID: "host", Name: "Host", Connected: true},
			internal.Player{ID: "old", Name: "Sam", Connected: false, Score: score},
		)

		result := cm.HandlePlayerJoin("TEST123", "new", "Sam", "")
		require.True(t, result.Success)

		p, ok := result.Room.GetPlayer("new")
		require.True(t, ok)
		assert.Equal(t, score, p.Score)
		assert.True(t, result.Room.IsHost("host"), "host unchanged")
	}
}

// TestConnectionManager_JoinFailures 預期中的失敗都回傳結果，不是錯誤
func TestConnectionManager_JoinFailures(t *testing.T) {
	tests := []struct {
		name     string
		room     string
		clientID string
		player   string
		avatar   string
		wantErr  string
	}{
		{
			name:     "room missing",
			room:     "MISSING",
			clientID: "c9",
			player:   "Zed",
			wantErr:  "Room not found",
		},
		{
			name:     "name taken by connected player",
			room:     "TEST123",
			clientID: "c9",
			player:   "Alice",
			wantErr:  "Player name already taken",
		},
		{
			name:     "name taken regardless of avatar",
			room:     "TEST123",
			clientID: "c9",
			player:   "Alice",
			avatar:   "completely-different-avatar",
			wantErr:  "Player name already taken",
		},
		{
			name:     "empty name",
			room:     "TEST123",
			clientID: "c9",
			player:   "",
			wantErr:  "Player name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, _ := newConnTest(t, internal.Player{ID: "c1", Name: "Alice", Avatar: "cat", Connected: true})

			result := cm.HandlePlayerJoin(tt.room, tt.clientID, tt.player, tt.avatar)

			assert.False(t, result.Success)
			assert.Nil(t, result.Room)
			assert.Equal(t, tt.wantErr, result.Error)
		})
	}
}

// TestConnectionManager_JoinRoomFull 加入失敗時回報
func TestConnectionManager_JoinRoomFull(t *testing.T) {
	cm, _ := newConnTest(t,
		player("a", "A"), player("b", "B"), player("c", "C"), player("d", "D"),
	)

	result := cm.HandlePlayerJoin("TEST123", "e", "E", "")

	assert.False(t, result.Success)
	assert.Equal(t, "Failed to add player to room", result.Error)
}

// TestConnectionManager_JoinFresh 新玩家分數為 0，第一位成為房主
func TestConnectionManager_JoinFresh(t *testing.T) {
	cm, _ := newConnTest(t)

	first := cm.HandlePlayerJoin("TEST123", "c1", "Alice", "cat")
	require.True(t, first.Success)
	assert.False(t, first.IsReconnection)
	assert.Empty(t, first.ReconnectedPlayerID)
	assert.True(t, first.Room.IsHost("c1"))

	second := cm.HandlePlayerJoin("TEST123", "c2", "Bob", "dog")
	require.True(t, second.Success)
	assert.Equal(t, 2, second.Room.GetPlayerCount())

	p, _ := second.Room.GetPlayer("c2")
	assert.Equal(t, internal.Player{ID: "c2", Name: "Bob", Avatar: "dog", Connected: true, Score: 0}, p)

	// 同一連接重送 join
	again := cm.HandlePlayerJoin("TEST123", "c2", "Bob", "dog")
	assert.True(t, again.Success)
	assert.Equal(t, 2, again.Room.GetPlayerCount())
}

// TestConnectionManager_JoinCleansDuplicates 重連後清掉殘留的同名紀錄
func TestConnectionManager_JoinCleansDuplicates(t *testing.T) {
	cm, m := newConnTest(t,
		internal.Player{ID: "stale-1", Name: "Sam", Connected: false, Score: 200},
		internal.Player{ID: "stale-2", Name: "Sam", Connected: false, Score: 100},
	)

	result := cm.HandlePlayerJoin("TEST123", "fresh", "Sam", "")
	require.True(t, result.Success)
	assert.Equal(t, "stale-1", result.ReconnectedPlayerID)

	room, _ := m.GetRoomSafe("TEST123")
	require.Equal(t, 1, room.GetPlayerCount())
	p, _ := room.GetPlayer("fresh")
	assert.Equal(t, 200, p.Score)
}

// TestConnectionManager_Connect 連接階段的身份判斷
func TestConnectionManager_Connect(t *testing.T) {
	tests := []struct {
		name        string
		players     []internal.Player
		clientID    string
		wantReconn  bool
		wantOldID   string
		wantPlayers int
	}{
		{
			name:        "empty room is a fresh connection",
			clientID:    "c9",
			wantPlayers: 0,
		},
		{
			name: "only connected players",
			players: []internal.Player{
				player("c1", "Alice"),
			},
			clientID:    "c9",
			wantPlayers: 1,
		},
		{
			name: "exactly one disconnected player is recovered",
			players: []internal.Player{
				player("c1", "Alice"),
				{ID: "c2", Name: "Bob", Avatar: "dog", Connected: false, Score: 900},
			},
			clientID:    "c9",
			wantReconn:  true,
			wantOldID:   "c2",
			wantPlayers: 2,
		},
		{
			name: "two disconnected players are ambiguous",
			players: []internal.Player{
				{ID: "c1", Name: "Alice", Connected: false},
				{ID: "c2", Name: "Bob", Connected: false},
			},
			clientID:    "c9",
			wantPlayers: 2,
		},
		{
			name: "same socket connecting again",
			players: []internal.Player{
				{ID: "c1", Name: "Alice", Connected: false},
			},
			clientID:    "c1",
			wantPlayers: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, _ := newConnTest(t, tt.players...)

			result := cm.HandleConnection("TEST123", tt.clientID)

			require.True(t, result.Success)
			require.NotNil(t, result.Room)
			assert.Equal(t, tt.wantReconn, result.IsReconnection)
			assert.Equal(t, tt.wantOldID, result.ReconnectedPlayerID)
			assert.Equal(t, tt.wantPlayers, result.Room.GetPlayerCount())
		})
	}
}

// TestConnectionManager_ConnectRecoversScore 連接時認回的玩家保留分數
func TestConnectionManager_ConnectRecoversScore(t *testing.T) {
	cm, _ := newConnTest(t, internal.Player{ID: "c2", Name: "Bob", Avatar: "dog", Connected: false, Score: 900})

	result := cm.HandleConnection("TEST123", "c9")
	require.True(t, result.IsReconnection)

	p, ok := result.Room.GetPlayer("c9")
	require.True(t, ok)
	assert.Equal(t, internal.Player{ID: "c9", Name: "Bob", Avatar: "dog", Connected: true, Score: 900}, p)

	// 之後以同名送 join 是同一個連接，不算名稱衝突
	join := cm.HandlePlayerJoin("TEST123", "c9", "Bob", "dog")
	assert.True(t, join.Success)
}

// TestConnectionManager_ConnectMissingRoom 房間不存在
func TestConnectionManager_ConnectMissingRoom(t *testing.T) {
	cm := internal.NewConnectionManager(newTestManager(t), testLogger())

	result := cm.HandleConnection("TEST123", "client-1")

	assert.Equal(t, internal.ConnectionResult{
		Success: false,
		Room:    nil,
		Error:   "Room TEST123 not found",
	}, result)
}

// TestConnectionManager_ConnectRetrieveRace 存在檢查與取得之間房間消失
func TestConnectionManager_ConnectRetrieveRace(t *testing.T) {
	cm := internal.NewConnectionManager(vanishingRooms{newTestManager(t)}, testLogger())

	result := cm.HandleConnection("TEST123", "client-1")

	assert.False(t, result.Success)
	assert.Equal(t, "Failed to create or retrieve room", result.Error)
}

// TestConnectionManager_StoragePanicPropagates 儲存層缺陷不在這裡吞掉
func TestConnectionManager_StoragePanicPropagates(t *testing.T) {
	cm := internal.NewConnectionManager(brokenRooms{newTestManager(t)}, testLogger())

	assert.Panics(t, func() {
		cm.HandleConnection("TEST123", "client-1")
	})
	assert.Panics(t, func() {
		cm.HandlePlayerJoin("TEST123", "client-1", "Alice", "")
	})
}
