package internal

import "maps"

// Phase 房間的粗粒度階段
//
//	lobby → prompt → choose → scoring → prompt → ... → over
type Phase string

const (
	PhaseLobby   Phase = "lobby"   // 等待玩家
	PhasePrompt  Phase = "prompt"  // 作答（提交假答案）
	PhaseChoose  Phase = "choose"  // 投票
	PhaseScoring Phase = "scoring" // 計分展示
	PhaseOver    Phase = "over"    // 遊戲結束
)

// timed 該階段是否由計時器推進
func (p Phase) timed() bool {
	return p == PhasePrompt || p == PhaseChoose || p == PhaseScoring
}

// Player 玩家
//
// ID 是連接層級的識別碼（socket id），重連後會換成新的；
// Name 才是玩家的顯示身份，同一房間內已連線的玩家不可重名。
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Connected bool   `json:"connected"`
	Score     int    `json:"score"`
}

// PlayerPatch 部分更新，nil 欄位保持原值
type PlayerPatch struct {
	Name      *string
	Avatar    *string
	Connected *bool
	Score     *int
}

func (p Player) apply(patch PlayerPatch) Player {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Avatar != nil {
		p.Avatar = *patch.Avatar
	}
	if patch.Connected != nil {
		p.Connected = *patch.Connected
	}
	if patch.Score != nil {
		p.Score = *patch.Score
	}
	return p
}

// Answer 玩家提交的答案
type Answer struct {
	PlayerID string
	Text     string
}

// Bluff 已經整理成陣列形式的假答案
//
// 有些遊戲邏輯直接產出陣列而不是 Answers 映射，兩種結構擇一使用。
type Bluff struct {
	ID   string
	By   string
	Text string
}

// RoundData 當前回合資料，結構由遊戲邏輯擁有
//
// 空字串 / 0 代表欄位不存在，序列化時會從房間層級回填。
type RoundData struct {
	PromptID    string
	Prompt      string
	Answer      string
	RoundNumber int
	Phase       Phase

	Answers              map[string]Answer   // 提交者 ID → 答案
	Bluffs               []Bluff             // Answers 為空時才使用
	Votes                map[string]string   // 投票者 ID → 選項 ID
	CorrectAnswerPlayers map[string]struct{} // 答出正解的玩家
}

// Clone 深拷貝，遊戲邏輯修改回合前必須先複製
func (r *RoundData) Clone() *RoundData {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Answers = maps.Clone(r.Answers)
	cp.Votes = maps.Clone(r.Votes)
	cp.CorrectAnswerPlayers = maps.Clone(r.CorrectAnswerPlayers)
	if r.Bluffs != nil {
		cp.Bluffs = append([]Bluff(nil), r.Bluffs...)
	}
	return &cp
}

// GameState 遊戲狀態
//
// 交給 RoomState 之後視為唯讀；要修改請先 Clone。
type GameState struct {
	Phase     Phase
	Round     int
	MaxRounds int
	TimeLeft  int
	Current   *RoundData
}

// Clone 深拷貝
func (g GameState) Clone() GameState {
	g.Current = g.Current.Clone()
	return g
}
