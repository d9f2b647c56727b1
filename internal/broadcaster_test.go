package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-party-room/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentMessage 記錄一次送出
type sentMessage struct {
	Room    string
	Socket  string
	Event   string
	Payload any
}

// recordingEmitter 記錄所有送出的訊息，可指定事件失敗或 panic
type recordingEmitter struct {
	mu     sync.Mutex
	sent   []sentMessage
	fail   map[string]error
	panics map[string]bool
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{
		fail:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (e *recordingEmitter) ToRoom(_ context.Context, roomCode, event string, payload any) error {
	return e.record(sentMessage{Room: roomCode, Event: event, Payload: payload})
}

func (e *recordingEmitter) ToSocket(_ context.Context, socketID, event string, payload any) error {
	return e.record(sentMessage{Socket: socketID, Event: event, Payload: payload})
}

func (e *recordingEmitter) record(msg sentMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panics[msg.Event] {
		panic("emitter exploded on " + msg.Event)
	}
	if err := e.fail[msg.Event]; err != nil {
		return err
	}
	e.sent = append(e.sent, msg)
	return nil
}

func (e *recordingEmitter) messages() []sentMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sentMessage(nil), e.sent...)
}

func (e *recordingEmitter) events() []string {
	var out []string
	for _, m := range e.messages() {
		out = append(out, m.Event)
	}
	return out
}

// stubAnswers 可控制結果的正解查詢
type stubAnswers struct {
	answers map[string]string
	err     error
	panics  bool
}

func (s stubAnswers) GetAnswerForPrompt(_ context.Context, promptID string) (string, error) {
	if s.panics {
		panic("catalog exploded")
	}
	if s.err != nil {
		return "", s.err
	}
	return s.answers[promptID], nil
}

func promptRoom() internal.RoomState {
	return newLobby("ROOM1").
		WithPlayerAdded(player("p1", "Alice")).
		WithPlayerAdded(player("p2", "Bob")).
		WithGameStateUpdated(internal.GameState{
			Phase:     internal.PhaseChoose,
			Round:     2,
			MaxRounds: 3,
			TimeLeft:  17,
			Current: &internal.RoundData{
				PromptID: "capital-au",
				Prompt:   "What is the capital of Australia?",
				Answers: map[string]internal.Answer{
					"p2": {PlayerID: "p2", Text: "Sydney"},
					"p1": {PlayerID: "p1", Text: "Melbourne"},
				},
				Votes:                map[string]string{"p2": "p1"},
				CorrectAnswerPlayers: map[string]struct{}{},
			},
		})
}

// TestBroadcaster_Routing 依 Target 分派
func TestBroadcaster_Routing(t *testing.T) {
	tests := []struct {
		name     string
		event    internal.GameEvent
		validate func(t *testing.T, sent []sentMessage)
	}{
		{
			name:  "ALL goes to the room channel",
			event: internal.GameEvent{Type: "prompt", Target: internal.TargetAll, Data: "x"},
			validate: func(t *testing.T, sent []sentMessage) {
				require.Len(t, sent, 1)
				assert.Equal(t, sentMessage{Room: "ROOM1", Event: "prompt", Payload: "x"}, sent[0])
			},
		},
		{
			name:  "PLAYER goes to one socket",
			event: internal.GameEvent{Type: "joined", Target: internal.TargetPlayer, PlayerID: "sock-1", Data: 1},
			validate: func(t *testing.T, sent []sentMessage) {
				require.Len(t, sent, 1)
				assert.Equal(t, sentMessage{Socket: "sock-1", Event: "joined", Payload: 1}, sent[0])
			},
		},
		{
			name:  "PLAYER without a player id is dropped",
			event: internal.GameEvent{Type: "joined", Target: internal.TargetPlayer},
			validate: func(t *testing.T, sent []sentMessage) {
				assert.Empty(t, sent)
			},
		},
		{
			// 房主事件目前送往整個房間，不是只送房主
			name:  "HOST is delivered room-wide",
			event: internal.GameEvent{Type: "hostOnly", Target: internal.TargetHost, Data: "secret"},
			validate: func(t *testing.T, sent []sentMessage) {
				require.Len(t, sent, 1)
				assert.Equal(t, "ROOM1", sent[0].Room)
				assert.Empty(t, sent[0].Socket)
			},
		},
		{
			name:  "unknown target is skipped",
			event: internal.GameEvent{Type: "weird", Target: "NOBODY"},
			validate: func(t *testing.T, sent []sentMessage) {
				assert.Empty(t, sent)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emitter := newRecordingEmitter()
			b := internal.NewBroadcaster(emitter, nil, testLogger())

			b.BroadcastEvents(context.Background(), internal.BroadcastRequest{
				RoomCode: "ROOM1",
				Events:   []internal.GameEvent{tt.event},
			})

			tt.validate(t, emitter.messages())
		})
	}
}

// TestBroadcaster_RoomUpdateIsDeferred roomUpdate 不單獨送出，只在最後送一次快照
func TestBroadcaster_RoomUpdateIsDeferred(t *testing.T) {
	emitter := newRecordingEmitter()
	b := internal.NewBroadcaster(emitter, nil, testLogger())
	room := promptRoom()

	b.BroadcastEvents(context.Background(), internal.BroadcastRequest{
		RoomCode: "ROOM1",
		Events: []internal.GameEvent{
			internal.RoomUpdateEvent(),
			internal.PromptEvent("Q?"),
			internal.RoomUpdateEvent(),
			internal.ScoresEvent(room.Players()),
		},
		RoomState: &room,
	})

	assert.Equal(t, []string{"prompt", "scores", "room"}, emitter.events())
}

// TestBroadcaster_RoomUpdateWithoutState 沒有提供狀態就不送快照
func TestBroadcaster_RoomUpdateWithoutState(t *testing.T) {
	emitter := newRecordingEmitter()
	b := internal.NewBroadcaster(emitter, nil, testLogger())

	b.BroadcastEvents(context.Background(), internal.BroadcastRequest{
		RoomCode: "ROOM1",
		Events:   []internal.GameEvent{internal.RoomUpdateEvent()},
	})

	assert.Empty(t, emitter.messages())
}

// TestBroadcaster_BestEffort 單一事件失敗或 panic 不影響其他事件
func TestBroadcaster_BestEffort(t *testing.T) {
	emitter := newRecordingEmitter()
	emitter.fail["prompt"] = errors.New("socket closed")
	emitter.panics["scores"] = true

	b := internal.NewBroadcaster(emitter, nil, testLogger())
	room := promptRoom()

	require.NotPanics(t, func() {
		b.BroadcastEvents(context.Background(), internal.BroadcastRequest{
			RoomCode: "ROOM1",
			Events: []internal.GameEvent{
				internal.PromptEvent("Q?"),
				internal.ScoresEvent(room.Players()),
				internal.GameOverEvent(room.Players()),
				internal.ErrorEvent("sock-1", "nope"),
			},
			RoomState: &room,
		})
	})

	assert.Equal(t, []string{"gameOver", "error", "room"}, emitter.events())
}

// TestBroadcaster_TimerPayload 計時器只帶 timeLeft
func TestBroadcaster_TimerPayload(t *testing.T) {
	emitter := newRecordingEmitter()
	b := internal.NewBroadcaster(emitter, stubAnswers{panics: true}, testLogger())

	require.NoError(t, b.SendTimerUpdate(context.Background(), "ROOM1", 42))

	sent := emitter.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "timer", sent[0].Event)
	assert.Equal(t, "ROOM1", sent[0].Room)

	data, err := json.Marshal(sent[0].Payload)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, map[string]any{"timeLeft": float64(42)}, payload)
	assert.NotContains(t, payload, "players")
	assert.NotContains(t, payload, "current")
	assert.NotContains(t, payload, "choices")
}

// TestBroadcaster_SendRoomTo 初始同步只送給一個連接
func TestBroadcaster_SendRoomTo(t *testing.T) {
	emitter := newRecordingEmitter()
	b := internal.NewBroadcaster(emitter, nil, testLogger())

	require.NoError(t, b.SendRoomTo(context.Background(), "sock-9", promptRoom()))

	sent := emitter.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "sock-9", sent[0].Socket)
	assert.Equal(t, "room", sent[0].Event)
	assert.IsType(t, internal.RoomSnapshot{}, sent[0].Payload)
}

// TestBroadcaster_EmitterError 直接呼叫時回傳錯誤
func TestBroadcaster_EmitterError(t *testing.T) {
	emitter := newRecordingEmitter()
	emitter.fail["room"] = errors.New("down")
	emitter.fail["timer"] = errors.New("down")
	b := internal.NewBroadcaster(emitter, nil, testLogger())

	assert.Error(t, b.BroadcastRoomUpdate(context.Background(), "ROOM1", promptRoom()))
	assert.Error(t, b.SendTimerUpdate(context.Background(), "ROOM1", 1))
}
