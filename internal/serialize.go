package internal

import (
	"cmp"
	"context"
	"slices"
	"strings"
)

// SerializeRoom 把內部狀態轉成傳輸格式
//
// 映射 / 集合在這裡才轉成陣列，並依 ID 排序，
// 連續兩次序列化同一狀態得到的輸出完全相同。
func (b *Broadcaster) SerializeRoom(ctx context.Context, room RoomState) RoomSnapshot {
	gs := room.GameState()

	players := room.Players()
	if players == nil {
		players = []Player{}
	}

	snapshot := RoomSnapshot{
		Code:      room.Code(),
		GameType:  room.GameType(),
		Phase:     room.Phase(),
		Round:     gs.Round,
		MaxRounds: gs.MaxRounds,
		TimeLeft:  gs.TimeLeft,
		Players:   players,
		Choices:   []Choice{},
		Version:   room.Version(),
	}

	if hostID := room.HostID(); hostID != "" {
		snapshot.HostID = &hostID
	}

	if gs.Current != nil {
		snapshot.Current = serializeRound(gs.Current, gs.Round, room.Phase())
		// 只要有回合就附上選項（含正解文字），作答階段也一樣；
		// 客戶端在 choose 之前不顯示 choices。
		snapshot.Choices = b.GenerateChoices(ctx, gs.Current)
	}

	return snapshot
}

// serializeRound 轉換回合資料並回填舊版客戶端需要的欄位
func serializeRound(round *RoundData, roomRound int, roomPhase Phase) *RoundSnapshot {
	out := &RoundSnapshot{
		PromptID:             round.PromptID,
		Prompt:               round.Prompt,
		Answer:               round.Answer,
		RoundNumber:          round.RoundNumber,
		Phase:                round.Phase,
		Bluffs:               serializeBluffs(round),
		Votes:                serializeVotes(round.Votes),
		CorrectAnswerPlayers: sortedSet(round.CorrectAnswerPlayers),
	}

	// 扁平結構的客戶端讀 answer / roundNumber / phase
	if out.Answer == "" {
		out.Answer = round.Prompt
	}
	if out.RoundNumber == 0 {
		out.RoundNumber = roomRound
	}
	if out.Phase == "" {
		out.Phase = roomPhase
	}

	return out
}

func serializeBluffs(round *RoundData) []WireBluff {
	bluffs := make([]WireBluff, 0, len(round.Answers)+len(round.Bluffs))

	if len(round.Answers) > 0 {
		for playerID, answer := range round.Answers {
			bluffs = append(bluffs, WireBluff{
				ID:   playerID,
				By:   playerID,
				Text: answer.Text,
			})
		}
	} else {
		for _, bluff := range round.Bluffs {
			bluffs = append(bluffs, WireBluff{
				ID:   bluff.ID,
				By:   bluff.By,
				Text: bluff.Text,
			})
		}
	}

	slices.SortFunc(bluffs, func(a, b WireBluff) int {
		return cmp.Or(cmp.Compare(a.By, b.By), cmp.Compare(a.ID, b.ID))
	})
	return bluffs
}

func serializeVotes(votes map[string]string) []WireVote {
	out := make([]WireVote, 0, len(votes))
	for voter, vote := range votes {
		out = append(out, WireVote{Voter: voter, Vote: vote})
	}
	slices.SortFunc(out, func(a, b WireVote) int {
		return cmp.Compare(a.Voter, b.Voter)
	})
	return out
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// GenerateChoices 產生投票選項
//
// 正解選項永遠排第一，其餘依提交者 ID 排序。投票期間每次重新廣播
// 選項位置都不會改變，這是使用體驗上的硬性要求。
func (b *Broadcaster) GenerateChoices(ctx context.Context, round *RoundData) []Choice {
	if round == nil {
		return []Choice{}
	}

	truth := Choice{
		ID:   TruthChoicePrefix + round.PromptID,
		Text: b.truthText(ctx, round.PromptID),
		By:   SystemAuthor,
	}
	if correct := sortedSet(round.CorrectAnswerPlayers); len(correct) > 0 {
		truth.By = correct[0]
	}

	others := make([]Choice, 0, len(round.Answers)+len(round.Bluffs))
	if len(round.Answers) > 0 {
		for playerID, answer := range round.Answers {
			others = append(others, Choice{
				ID:   playerID,
				Text: answer.Text,
				By:   playerID,
			})
		}
	} else {
		for _, bluff := range round.Bluffs {
			others = append(others, Choice{
				ID:   bluff.ID,
				Text: bluff.Text,
				By:   bluff.By,
			})
		}
	}

	slices.SortFunc(others, func(a, b Choice) int {
		return cmp.Or(
			cmp.Compare(a.By, b.By),
			cmp.Compare(a.ID, b.ID),
			cmp.Compare(a.Text, b.Text),
		)
	})

	return append([]Choice{truth}, others...)
}

// truthText 查詢正解，任何失敗都退回 FallbackAnswer
func (b *Broadcaster) truthText(ctx context.Context, promptID string) (text string) {
	text = FallbackAnswer
	if b.answers == nil {
		return text
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "查詢正解時發生 panic", "prompt_id", promptID, "panic", r)
			text = FallbackAnswer
		}
	}()

	answer, err := b.answers.GetAnswerForPrompt(ctx, promptID)
	if err != nil {
		b.logger.WarnContext(ctx, "查詢正解失敗，使用預設文字",
			"prompt_id", promptID,
			"error", err)
		return text
	}
	if strings.TrimSpace(answer) == "" {
		return text
	}
	return answer
}
