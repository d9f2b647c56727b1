package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/koopa0/system-design/14-party-room/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capitalAnswers = stubAnswers{answers: map[string]string{"capital-au": "Canberra"}}

// TestSerializeRoom 映射 / 集合轉成陣列
func TestSerializeRoom(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), capitalAnswers, testLogger())

	snap := b.SerializeRoom(context.Background(), promptRoom())

	assert.Equal(t, "ROOM1", snap.Code)
	assert.Equal(t, "fibbage", snap.GameType)
	assert.Equal(t, internal.PhaseChoose, snap.Phase)
	assert.Equal(t, 2, snap.Round)
	assert.Equal(t, 3, snap.MaxRounds)
	assert.Equal(t, 17, snap.TimeLeft)
	require.NotNil(t, snap.HostID)
	assert.Equal(t, "p1", *snap.HostID)
	require.Len(t, snap.Players, 2)

	require.NotNil(t, snap.Current)
	assert.Equal(t, []internal.WireBluff{
		{ID: "p1", By: "p1", Text: "Melbourne", IsCorrect: false},
		{ID: "p2", By: "p2", Text: "Sydney", IsCorrect: false},
	}, snap.Current.Bluffs)
	assert.Equal(t, []internal.WireVote{{Voter: "p2", Vote: "p1"}}, snap.Current.Votes)
	assert.Equal(t, []string{}, snap.Current.CorrectAnswerPlayers)

	// 回合資料缺少的欄位由房間層級回填
	assert.Equal(t, "What is the capital of Australia?", snap.Current.Answer)
	assert.Equal(t, 2, snap.Current.RoundNumber)
	assert.Equal(t, internal.PhaseChoose, snap.Current.Phase)

	require.Len(t, snap.Choices, 3)
	assert.Equal(t, "TRUE::capital-au", snap.Choices[0].ID)
	assert.Equal(t, "Canberra", snap.Choices[0].Text)
}

// TestSerializeRoom_ExplicitRoundFields 已有的欄位不會被覆蓋
func TestSerializeRoom_ExplicitRoundFields(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), nil, testLogger())

	room := newLobby("ROOM1").WithGameStateUpdated(internal.GameState{
		Phase: internal.PhasePrompt,
		Round: 3,
		Current: &internal.RoundData{
			PromptID:    "p",
			Prompt:      "Question",
			Answer:      "Explicit",
			RoundNumber: 9,
			Phase:       internal.PhaseScoring,
		},
	})

	snap := b.SerializeRoom(context.Background(), room)

	assert.Equal(t, "Explicit", snap.Current.Answer)
	assert.Equal(t, 9, snap.Current.RoundNumber)
	assert.Equal(t, internal.PhaseScoring, snap.Current.Phase)
	assert.Equal(t, []internal.WireBluff{}, snap.Current.Bluffs)
	assert.Equal(t, []internal.WireVote{}, snap.Current.Votes)
}

// TestSerializeRoom_Lobby 沒有玩家、沒有回合
func TestSerializeRoom_Lobby(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), nil, testLogger())

	snap := b.SerializeRoom(context.Background(), newLobby("ROOM1"))

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	for _, key := range []string{"code", "gameType", "phase", "round", "maxRounds", "timeLeft", "players", "current", "hostId", "choices", "version"} {
		assert.Contains(t, wire, key)
	}
	assert.Nil(t, wire["hostId"])
	assert.Nil(t, wire["current"])
	assert.Equal(t, []any{}, wire["players"])
	assert.Equal(t, []any{}, wire["choices"])
}

// TestSerializeRoom_LegacyBluffs 只有 bluffs 結構時使用 bluffs
func TestSerializeRoom_LegacyBluffs(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), nil, testLogger())

	room := newLobby("ROOM1").WithGameStateUpdated(internal.GameState{
		Phase: internal.PhaseChoose,
		Round: 1,
		Current: &internal.RoundData{
			PromptID: "p",
			Prompt:   "Q",
			Bluffs: []internal.Bluff{
				{ID: "b2", By: "zed", Text: "Z"},
				{ID: "b1", By: "amy", Text: "A"},
			},
		},
	})

	snap := b.SerializeRoom(context.Background(), room)

	assert.Equal(t, []internal.WireBluff{
		{ID: "b1", By: "amy", Text: "A"},
		{ID: "b2", By: "zed", Text: "Z"},
	}, snap.Current.Bluffs)
	assert.Equal(t, []internal.Choice{
		{ID: "TRUE::p", Text: internal.FallbackAnswer, By: internal.SystemAuthor},
		{ID: "b1", Text: "A", By: "amy"},
		{ID: "b2", Text: "Z", By: "zed"},
	}, snap.Choices)
}

// TestGenerateChoices_Ordering 正解第一，其餘依作者 ID
func TestGenerateChoices_Ordering(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), capitalAnswers, testLogger())

	round := &internal.RoundData{
		PromptID: "capital-au",
		Answers: map[string]internal.Answer{
			"zoe":   {PlayerID: "zoe", Text: "Perth"},
			"adam":  {PlayerID: "adam", Text: "Sydney"},
			"maria": {PlayerID: "maria", Text: "Hobart"},
		},
		CorrectAnswerPlayers: map[string]struct{}{"xena": {}, "bob": {}},
	}

	choices := b.GenerateChoices(context.Background(), round)

	assert.Equal(t, []internal.Choice{
		{ID: "TRUE::capital-au", Text: "Canberra", By: "bob"},
		{ID: "adam", Text: "Sydney", By: "adam"},
		{ID: "maria", Text: "Hobart", By: "maria"},
		{ID: "zoe", Text: "Perth", By: "zoe"},
	}, choices)
}

// TestGenerateChoices_Stable 插入順序不同也得到相同結果
func TestGenerateChoices_Stable(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), capitalAnswers, testLogger())

	ids := []string{"p7", "p3", "p9", "p1", "p5", "p2", "p8"}

	build := func(order []string) *internal.RoundData {
		answers := make(map[string]internal.Answer)
		votes := make(map[string]string)
		for _, id := range order {
			answers[id] = internal.Answer{PlayerID: id, Text: "bluff from " + id}
			votes[id] = "TRUE::capital-au"
		}
		return &internal.RoundData{PromptID: "capital-au", Answers: answers, Votes: votes}
	}

	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}

	first := b.GenerateChoices(context.Background(), build(ids))
	for range 20 {
		assert.Equal(t, first, b.GenerateChoices(context.Background(), build(reversed)))
		assert.Equal(t, first, b.GenerateChoices(context.Background(), build(ids)))
	}
	assert.Equal(t, "TRUE::capital-au", first[0].ID)
}

// TestGenerateChoices_TruthFallback 查詢失敗都退回預設文字
func TestGenerateChoices_TruthFallback(t *testing.T) {
	tests := []struct {
		name    string
		answers internal.AnswerLookup
	}{
		{name: "no catalog", answers: nil},
		{name: "lookup error", answers: stubAnswers{err: errors.New("redis down")}},
		{name: "lookup panic", answers: stubAnswers{panics: true}},
		{name: "unknown prompt", answers: stubAnswers{answers: map[string]string{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := internal.NewBroadcaster(newRecordingEmitter(), tt.answers, testLogger())

			choices := b.GenerateChoices(context.Background(), &internal.RoundData{
				PromptID: "capital-au",
				Answers:  map[string]internal.Answer{"p1": {PlayerID: "p1", Text: "Sydney"}},
			})

			require.Len(t, choices, 2)
			assert.Equal(t, internal.Choice{
				ID:   "TRUE::capital-au",
				Text: "Correct Answer",
				By:   "system",
			}, choices[0])
		})
	}
}

// TestGenerateChoices_NilRound 沒有回合時回傳空陣列
func TestGenerateChoices_NilRound(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), nil, testLogger())
	assert.Equal(t, []internal.Choice{}, b.GenerateChoices(context.Background(), nil))
}

// TestSerializeRoom_ChoicesDuringPrompt 作答階段的快照也帶選項，正解排第一
func TestSerializeRoom_ChoicesDuringPrompt(t *testing.T) {
	b := internal.NewBroadcaster(newRecordingEmitter(), capitalAnswers, testLogger())
	gs, err := internal.RecordAnswer(firstRound(), "p1", "Sydney", "Canberra")
	require.NoError(t, err)
	room := newLobby("ROOM1").WithPlayerAdded(player("p1", "Alice")).WithGameStateUpdated(gs)

	snap := b.SerializeRoom(context.Background(), room)

	assert.Equal(t, internal.PhasePrompt, snap.Phase)
	assert.Equal(t, []internal.Choice{
		{ID: "TRUE::capital-au", Text: "Canberra", By: internal.SystemAuthor},
		{ID: "p1", Text: "Sydney", By: "p1"},
	}, snap.Choices)
}
