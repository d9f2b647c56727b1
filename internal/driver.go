package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-party-room/pkg/errors"
	"github.com/koopa0/system-design/14-party-room/pkg/logger"
)

// GameDriver 回合與計時器驅動
//
// 房間狀態的第三個併發來源（另外兩個是連線事件與玩家操作）。
// 每個 tick 逐房間處理，每個房間都透過 Manager.Update 在自己的鎖內推進，
// 需要 I/O 的部分（取題、查正解）一律在鎖外先完成。
type GameDriver struct {
	rooms       *Manager
	broadcaster *Broadcaster
	catalog     Catalog
	cfg         GameConfig
	logger      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewGameDriver 創建驅動器，需要呼叫 Start 才會開始計時
func NewGameDriver(rooms *Manager, broadcaster *Broadcaster, catalog Catalog, cfg GameConfig, logger *slog.Logger) *GameDriver {
	return &GameDriver{
		rooms:       rooms,
		broadcaster: broadcaster,
		catalog:     catalog,
		cfg:         cfg,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start 啟動計時 goroutine
func (d *GameDriver) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop 停止計時
func (d *GameDriver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}

func (d *GameDriver) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-ticker.C:
			d.Tick(ctx)
		case <-d.stopCh:
			return
		}
	}
}

// Tick 推進所有房間一秒
func (d *GameDriver) Tick(ctx context.Context) {
	for _, code := range d.rooms.Rooms() {
		d.tickRoom(logger.WithRoomCode(ctx, code), code)
	}
}

func (d *GameDriver) tickRoom(ctx context.Context, code string) {
	room, ok := d.rooms.GetRoomSafe(code)
	if !ok {
		return
	}
	gs := room.GameState()
	if !gs.Phase.timed() {
		return
	}

	// 計分結束後要出下一題，先在鎖外取題
	var nextPrompt *Prompt
	if gs.Phase == PhaseScoring && gs.TimeLeft <= 1 && gs.Round < gs.MaxRounds {
		p, err := d.catalog.PromptAt(ctx, gs.Round)
		if err != nil {
			d.logger.WarnContext(ctx, "取題失敗，提前結束遊戲", "error", err)
		} else {
			nextPrompt = &p
		}
	}

	var transition Phase
	updated, err := d.rooms.Update(code, func(cur RoomState) (RoomState, error) {
		curGS := cur.GameState()
		if curGS.Phase != gs.Phase || curGS.Round != gs.Round {
			return cur, apperrors.ErrStaleState
		}
		next, to := d.advance(cur, nextPrompt)
		transition = to
		return next, nil
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			d.logger.DebugContext(ctx, "狀態已變更，略過本次 tick", "error", err)
			return
		}
		d.logger.WarnContext(ctx, "推進計時器失敗", "error", err)
		return
	}

	if transition == "" {
		if err := d.broadcaster.SendTimerUpdate(ctx, code, updated.GameState().TimeLeft); err != nil {
			d.logger.WarnContext(ctx, "傳送計時器失敗", "error", err)
		}
		return
	}

	d.logger.InfoContext(ctx, "階段轉換",
		"from", gs.Phase,
		"to", transition,
		"round", updated.GameState().Round)

	d.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
		RoomCode:  code,
		Events:    d.transitionEvents(ctx, updated, transition),
		RoomState: &updated,
	})
}

// advance 倒數一秒，時間到時轉換階段；回傳轉換後的階段，沒有轉換時為空
//
// 作答階段所有在線玩家都交卷後直接進入投票。
func (d *GameDriver) advance(cur RoomState, prompt *Prompt) (RoomState, Phase) {
	gs := cur.GameState()

	left := gs.TimeLeft - 1
	everyoneAnswered := gs.Phase == PhasePrompt &&
		cur.GetConnectedPlayerCount() > 0 &&
		AllAnswered(gs, cur.Players())

	if left > 0 && !everyoneAnswered {
		next := gs
		next.TimeLeft = left
		return cur.WithGameStateUpdated(next), ""
	}

	switch gs.Phase {
	case PhasePrompt:
		return cur.WithGameStateUpdated(EnterVoting(gs, d.cfg.VoteSeconds)), PhaseChoose

	case PhaseChoose:
		deltas := ScoreRound(gs, d.cfg.Points)
		next := cur
		for _, p := range cur.Players() {
			if delta := deltas[p.ID]; delta != 0 {
				score := p.Score + delta
				next = next.WithPlayerUpdated(p.ID, PlayerPatch{Score: &score})
			}
		}
		return next.WithGameStateUpdated(EnterScoring(gs, d.cfg.ScoringSeconds)), PhaseScoring

	default: // PhaseScoring
		if prompt == nil || gs.Round >= gs.MaxRounds {
			return cur.WithGameStateUpdated(Finish(gs)), PhaseOver
		}
		return cur.WithGameStateUpdated(StartRound(gs, *prompt, d.cfg.AnswerSeconds)), PhasePrompt
	}
}

func (d *GameDriver) transitionEvents(ctx context.Context, room RoomState, to Phase) []GameEvent {
	gs := room.GameState()

	var events []GameEvent
	switch to {
	case PhaseChoose:
		events = append(events, ChoicesEvent(d.broadcaster.GenerateChoices(ctx, gs.Current)))
	case PhaseScoring:
		events = append(events, ScoresEvent(room.Players()))
	case PhasePrompt:
		if gs.Current != nil {
			events = append(events, PromptEvent(gs.Current.Prompt))
		}
	case PhaseOver:
		events = append(events, ScoresEvent(room.Players()), GameOverEvent(room.Players()))
	}
	return append(events, RoomUpdateEvent())
}

// StartGame 房主開始（或重新開始）遊戲
func (d *GameDriver) StartGame(ctx context.Context, code, playerID string) error {
	ctx = logger.WithRoomCode(ctx, code)

	room, ok := d.rooms.GetRoomSafe(code)
	if !ok {
		return apperrors.ErrRoomNotFound.WithDetails(code)
	}
	if !room.IsHost(playerID) {
		return apperrors.New(apperrors.ErrCodeConflict, "only the host can start the game")
	}
	if phase := room.GameState().Phase; phase != PhaseLobby && phase != PhaseOver {
		return apperrors.ErrWrongPhase.WithDetails(string(phase))
	}

	prompt, err := d.catalog.PromptAt(ctx, 0)
	if err != nil {
		return fmt.Errorf("fetch first prompt: %w", err)
	}

	updated, err := d.rooms.Update(code, func(cur RoomState) (RoomState, error) {
		gs := cur.GameState()
		if gs.Phase != PhaseLobby && gs.Phase != PhaseOver {
			return cur, apperrors.ErrWrongPhase.WithDetails(string(gs.Phase))
		}

		next := cur
		if gs.Phase == PhaseOver {
			zero := 0
			for _, p := range cur.Players() {
				next = next.WithPlayerUpdated(p.ID, PlayerPatch{Score: &zero})
			}
		}

		maxRounds := gs.MaxRounds
		if maxRounds <= 0 {
			maxRounds = d.cfg.MaxRounds
		}
		fresh := GameState{Phase: gs.Phase, MaxRounds: maxRounds}

		return next.
			WithGameStateUpdated(StartRound(fresh, prompt, d.cfg.AnswerSeconds)).
			WithActivityUpdated(), nil
	})
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "遊戲開始",
		"host_id", playerID,
		"max_rounds", updated.GameState().MaxRounds)

	d.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
		RoomCode:  code,
		Events:    []GameEvent{PromptEvent(prompt.Question), RoomUpdateEvent()},
		RoomState: &updated,
	})
	return nil
}

// SubmitAnswer 玩家提交答案
func (d *GameDriver) SubmitAnswer(ctx context.Context, code, playerID, text string) error {
	ctx = logger.WithRoomCode(ctx, code)

	room, ok := d.rooms.GetRoomSafe(code)
	if !ok {
		return apperrors.ErrRoomNotFound.WithDetails(code)
	}
	current := room.GameState().Current
	if room.GameState().Phase != PhasePrompt || current == nil {
		return apperrors.ErrWrongPhase.WithDetails(string(room.GameState().Phase))
	}
	promptID := current.PromptID

	// 查不到正解時仍接受答案，只是無法判定答對
	truth, err := d.catalog.GetAnswerForPrompt(ctx, promptID)
	if err != nil {
		d.logger.WarnContext(ctx, "查詢正解失敗", "prompt_id", promptID, "error", err)
		truth = ""
	}

	updated, err := d.rooms.Update(code, func(cur RoomState) (RoomState, error) {
		if !cur.HasPlayer(playerID) {
			return cur, apperrors.New(apperrors.ErrCodeNotFound, "player not in room")
		}
		gs := cur.GameState()
		if gs.Current == nil || gs.Current.PromptID != promptID {
			return cur, apperrors.ErrStaleState
		}
		next, err := RecordAnswer(gs, playerID, text, truth)
		if err != nil {
			return cur, err
		}
		return cur.WithGameStateUpdated(next).WithActivityUpdated(), nil
	})
	if err != nil {
		return err
	}

	d.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
		RoomCode:  code,
		Events:    []GameEvent{RoomUpdateEvent()},
		RoomState: &updated,
	})
	return nil
}

// SubmitVote 玩家投票
func (d *GameDriver) SubmitVote(ctx context.Context, code, playerID, choiceID string) error {
	ctx = logger.WithRoomCode(ctx, code)

	updated, err := d.rooms.Update(code, func(cur RoomState) (RoomState, error) {
		if !cur.HasPlayer(playerID) {
			return cur, apperrors.New(apperrors.ErrCodeNotFound, "player not in room")
		}
		next, err := RecordVote(cur.GameState(), playerID, choiceID)
		if err != nil {
			return cur, err
		}
		return cur.WithGameStateUpdated(next).WithActivityUpdated(), nil
	})
	if err != nil {
		return err
	}

	d.broadcaster.BroadcastEvents(ctx, BroadcastRequest{
		RoomCode:  code,
		Events:    []GameEvent{RoomUpdateEvent()},
		RoomState: &updated,
	})
	return nil
}
