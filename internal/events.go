package internal

// Target 事件的接收對象
type Target string

const (
	TargetAll    Target = "ALL"    // 房間內所有連接
	TargetPlayer Target = "PLAYER" // 單一連接（需要 PlayerID）
	TargetHost   Target = "HOST"   // 目前與 ALL 相同，送往整個房間頻道
)

// EventRoomUpdate 表示「需要完整快照」，不會被當成單獨事件送出
const EventRoomUpdate = "roomUpdate"

// 對外訊息名稱
const (
	MessageRoom     = "room"
	MessageTimer    = "timer"
	MessagePrompt   = "prompt"
	MessageChoices  = "choices"
	MessageScores   = "scores"
	MessageGameOver = "gameOver"
	MessageJoined   = "joined"
	MessageError    = "error"
	MessagePong     = "pong"
)

// GameEvent 領域事件
type GameEvent struct {
	Type     string `json:"type"`
	Target   Target `json:"target"`
	Data     any    `json:"data,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
}

const (
	// TruthChoicePrefix 正解選項 ID 前綴，後接 promptId
	TruthChoicePrefix = "TRUE::"
	// SystemAuthor 還沒有玩家答對時正解選項的作者
	SystemAuthor = "system"
	// FallbackAnswer 題庫查詢失敗時的正解文字
	FallbackAnswer = "Correct Answer"
)

// Choice 投票階段的選項（衍生資料，不儲存）
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	By   string `json:"by"`
}

// WireBluff 傳輸格式的假答案；正確與否在揭曉時比對，這裡一律是 false
type WireBluff struct {
	ID        string `json:"id"`
	By        string `json:"by"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// WireVote 傳輸格式的投票
type WireVote struct {
	Voter string `json:"voter"`
	Vote  string `json:"vote"`
}

// RoundSnapshot 傳輸格式的回合資料
type RoundSnapshot struct {
	PromptID             string      `json:"promptId"`
	Prompt               string      `json:"prompt"`
	Answer               string      `json:"answer"`
	RoundNumber          int         `json:"roundNumber"`
	Phase                Phase       `json:"phase"`
	Bluffs               []WireBluff `json:"bluffs"`
	Votes                []WireVote  `json:"votes"`
	CorrectAnswerPlayers []string    `json:"correctAnswerPlayers"`
}

// RoomSnapshot `room` 訊息的內容
type RoomSnapshot struct {
	Code      string         `json:"code"`
	GameType  string         `json:"gameType"`
	Phase     Phase          `json:"phase"`
	Round     int            `json:"round"`
	MaxRounds int            `json:"maxRounds"`
	TimeLeft  int            `json:"timeLeft"`
	Players   []Player       `json:"players"`
	Current   *RoundSnapshot `json:"current"`
	HostID    *string        `json:"hostId"`
	Choices   []Choice       `json:"choices"`
	Version   int            `json:"version"`
}

// TimerUpdate `timer` 訊息只帶剩餘時間
type TimerUpdate struct {
	TimeLeft int `json:"timeLeft"`
}

// PromptPayload `prompt` 訊息
type PromptPayload struct {
	Question string `json:"question"`
}

// ChoicesPayload `choices` 訊息
type ChoicesPayload struct {
	Choices []Choice `json:"choices"`
}

// ScoreTotal 單一玩家總分
type ScoreTotal struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

// ScoresPayload `scores` 訊息
type ScoresPayload struct {
	Totals []ScoreTotal `json:"totals"`
}

// GameOverPayload `gameOver` 訊息
type GameOverPayload struct {
	Winners []string `json:"winners"`
}

// JoinedPayload `joined` 訊息
type JoinedPayload struct {
	PlayerID            string `json:"playerId"`
	Name                string `json:"name"`
	IsHost              bool   `json:"isHost"`
	IsReconnection      bool   `json:"isReconnection"`
	ReconnectedPlayerID string `json:"reconnectedPlayerId,omitempty"`
}

// ErrorPayload `error` 訊息
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomUpdateEvent 要求在本次廣播結束時送出完整快照
func RoomUpdateEvent() GameEvent {
	return GameEvent{Type: EventRoomUpdate, Target: TargetAll}
}

// PromptEvent 新題目
func PromptEvent(question string) GameEvent {
	return GameEvent{
		Type:   MessagePrompt,
		Target: TargetAll,
		Data:   PromptPayload{Question: question},
	}
}

// ChoicesEvent 投票選項
func ChoicesEvent(choices []Choice) GameEvent {
	return GameEvent{
		Type:   MessageChoices,
		Target: TargetAll,
		Data:   ChoicesPayload{Choices: choices},
	}
}

// ScoresEvent 各玩家總分（加入順序）
func ScoresEvent(players []Player) GameEvent {
	totals := make([]ScoreTotal, 0, len(players))
	for _, p := range players {
		totals = append(totals, ScoreTotal{PlayerID: p.ID, Score: p.Score})
	}
	return GameEvent{
		Type:   MessageScores,
		Target: TargetAll,
		Data:   ScoresPayload{Totals: totals},
	}
}

// GameOverEvent 最高分的玩家（可能多位並列）
func GameOverEvent(players []Player) GameEvent {
	return GameEvent{
		Type:   MessageGameOver,
		Target: TargetAll,
		Data:   GameOverPayload{Winners: Winners(players)},
	}
}

// JoinedEvent 通知剛加入（或重連）的連接
func JoinedEvent(socketID string, result ConnectionResult) GameEvent {
	payload := JoinedPayload{
		PlayerID:            socketID,
		IsReconnection:      result.IsReconnection,
		ReconnectedPlayerID: result.ReconnectedPlayerID,
	}
	if result.Room != nil {
		if p, ok := result.Room.GetPlayer(socketID); ok {
			payload.Name = p.Name
		}
		payload.IsHost = result.Room.IsHost(socketID)
	}
	return GameEvent{
		Type:     MessageJoined,
		Target:   TargetPlayer,
		PlayerID: socketID,
		Data:     payload,
	}
}

// ErrorEvent 只送給出錯的連接
func ErrorEvent(socketID, message string) GameEvent {
	return GameEvent{
		Type:     MessageError,
		Target:   TargetPlayer,
		PlayerID: socketID,
		Data:     ErrorPayload{Message: message},
	}
}

// Winners 最高分玩家 ID（加入順序）；沒有玩家時回傳空陣列
func Winners(players []Player) []string {
	winners := []string{}
	best := 0
	for i, p := range players {
		switch {
		case i == 0 || p.Score > best:
			best = p.Score
			winners = []string{p.ID}
		case p.Score == best:
			winners = append(winners, p.ID)
		}
	}
	return winners
}
