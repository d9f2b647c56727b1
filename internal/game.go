package internal

import (
	"strings"

	apperrors "github.com/koopa0/system-design/14-party-room/pkg/errors"
)

// 回合邏輯：全部是 GameState → GameState 的純函數，
// 由 GameDriver 放進 Manager.Update 內執行。

// StartRound 進入下一回合的作答階段
func StartRound(gs GameState, prompt Prompt, seconds int) GameState {
	next := gs.Clone()
	next.Round = gs.Round + 1
	next.Phase = PhasePrompt
	next.TimeLeft = seconds
	next.Current = &RoundData{
		PromptID:             prompt.ID,
		Prompt:               prompt.Question,
		Answers:              make(map[string]Answer),
		Votes:                make(map[string]string),
		CorrectAnswerPlayers: make(map[string]struct{}),
	}
	return next
}

// RecordAnswer 記錄玩家答案
//
// 答案與正解相同（不分大小寫）時記為答對，不會成為投票選項。
// truth 為空代表查不到正解，此時一律當作假答案。
func RecordAnswer(gs GameState, playerID, text, truth string) (GameState, error) {
	if gs.Phase != PhasePrompt || gs.Current == nil {
		return gs, apperrors.ErrWrongPhase.WithDetails(string(gs.Phase))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return gs, apperrors.New(apperrors.ErrCodeInvalidInput, "answer is empty")
	}

	next := gs.Clone()
	round := next.Current
	if round.Answers == nil {
		round.Answers = make(map[string]Answer)
	}
	if round.CorrectAnswerPlayers == nil {
		round.CorrectAnswerPlayers = make(map[string]struct{})
	}

	if truth != "" && strings.EqualFold(text, strings.TrimSpace(truth)) {
		round.CorrectAnswerPlayers[playerID] = struct{}{}
		delete(round.Answers, playerID)
		return next, nil
	}

	round.Answers[playerID] = Answer{PlayerID: playerID, Text: text}
	delete(round.CorrectAnswerPlayers, playerID)
	return next, nil
}

// RecordVote 記錄投票；不能投自己的假答案，也不能投不存在的選項
func RecordVote(gs GameState, voterID, choiceID string) (GameState, error) {
	if gs.Phase != PhaseChoose || gs.Current == nil {
		return gs, apperrors.ErrWrongPhase.WithDetails(string(gs.Phase))
	}

	round := gs.Current
	isTruth := choiceID == TruthChoicePrefix+round.PromptID
	if !isTruth && !hasChoice(round, choiceID) {
		return gs, apperrors.New(apperrors.ErrCodeInvalidInput, "unknown choice").WithDetails(choiceID)
	}
	if !isTruth && choiceAuthor(round, choiceID) == voterID {
		return gs, apperrors.New(apperrors.ErrCodeConflict, "cannot vote for your own answer")
	}

	next := gs.Clone()
	if next.Current.Votes == nil {
		next.Current.Votes = make(map[string]string)
	}
	next.Current.Votes[voterID] = choiceID
	return next, nil
}

// AllAnswered 所有已連線玩家是否都已作答（答對也算）
func AllAnswered(gs GameState, players []Player) bool {
	if gs.Current == nil {
		return false
	}
	for _, p := range players {
		if !p.Connected {
			continue
		}
		_, answered := gs.Current.Answers[p.ID]
		_, correct := gs.Current.CorrectAnswerPlayers[p.ID]
		if !answered && !correct {
			return false
		}
	}
	return true
}

// ScoreRound 計算本回合各玩家得分
//
//   - 作答時答出正解：CorrectAnswer
//   - 投票選中正解：FoundTruth
//   - 假答案每被一人選中：FooledPlayer
func ScoreRound(gs GameState, points ScoringPoints) map[string]int {
	deltas := make(map[string]int)
	round := gs.Current
	if round == nil {
		return deltas
	}

	for playerID := range round.CorrectAnswerPlayers {
		deltas[playerID] += points.CorrectAnswer
	}

	truthID := TruthChoicePrefix + round.PromptID
	for voter, choiceID := range round.Votes {
		if choiceID == truthID {
			deltas[voter] += points.FoundTruth
			continue
		}
		if author := choiceAuthor(round, choiceID); author != "" && author != voter {
			deltas[author] += points.FooledPlayer
		}
	}

	return deltas
}

// RenamePlayer 玩家重連換了 ID，把本回合的作答、投票、答對紀錄都轉到新 ID
//
// 假答案的選項 ID 就是作者 ID，所以指向舊 ID 的票也一併改寫。
func RenamePlayer(gs GameState, oldID, newID string) GameState {
	if gs.Current == nil || oldID == newID {
		return gs
	}

	next := gs.Clone()
	round := next.Current

	if answer, ok := round.Answers[oldID]; ok {
		delete(round.Answers, oldID)
		answer.PlayerID = newID
		round.Answers[newID] = answer
	}
	for i, b := range round.Bluffs {
		if b.By == oldID {
			round.Bluffs[i].By = newID
		}
		if b.ID == oldID {
			round.Bluffs[i].ID = newID
		}
	}

	if choice, ok := round.Votes[oldID]; ok {
		delete(round.Votes, oldID)
		round.Votes[newID] = choice
	}
	for voter, choice := range round.Votes {
		if choice == oldID {
			round.Votes[voter] = newID
		}
	}

	if _, ok := round.CorrectAnswerPlayers[oldID]; ok {
		delete(round.CorrectAnswerPlayers, oldID)
		round.CorrectAnswerPlayers[newID] = struct{}{}
	}
	return next
}

// EnterVoting 作答結束，進入投票
func EnterVoting(gs GameState, seconds int) GameState {
	next := gs.Clone()
	next.Phase = PhaseChoose
	next.TimeLeft = seconds
	return next
}

// EnterScoring 投票結束，進入計分展示
func EnterScoring(gs GameState, seconds int) GameState {
	next := gs.Clone()
	next.Phase = PhaseScoring
	next.TimeLeft = seconds
	return next
}

// Finish 遊戲結束
func Finish(gs GameState) GameState {
	next := gs.Clone()
	next.Phase = PhaseOver
	next.TimeLeft = 0
	return next
}

func hasChoice(round *RoundData, choiceID string) bool {
	if len(round.Answers) > 0 {
		_, ok := round.Answers[choiceID]
		return ok
	}
	for _, b := range round.Bluffs {
		if b.ID == choiceID {
			return true
		}
	}
	return false
}

// choiceAuthor 假答案的提交者，找不到時回傳空字串
func choiceAuthor(round *RoundData, choiceID string) string {
	if len(round.Answers) > 0 {
		if answer, ok := round.Answers[choiceID]; ok {
			return answer.PlayerID
		}
		return ""
	}
	for _, b := range round.Bluffs {
		if b.ID == choiceID {
			return b.By
		}
	}
	return ""
}
