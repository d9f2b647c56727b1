package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// 房間訊息鏡像：把送往房間頻道的每則訊息同時發布到 NATS，
// 讓觀戰、回放、統計等外部服務訂閱，不需要連進遊戲伺服器。
//
// Subject 命名：{prefix}.{roomCode}.{event}
// 範例：rooms.ABCD12.room、rooms.ABCD12.timer
// 訂閱 rooms.ABCD12.> 即可取得單一房間的完整訊息流。

// Publisher NATS 發布介面（*nats.Conn 滿足此介面）
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSMirror 把房間訊息發布到 NATS 的 Emitter
type NATSMirror struct {
	pub    Publisher
	prefix string
}

// NewNATSMirror 創建鏡像
func NewNATSMirror(pub Publisher, prefix string) *NATSMirror {
	if prefix == "" {
		prefix = "rooms"
	}
	return &NATSMirror{
		pub:    pub,
		prefix: prefix,
	}
}

// ConnectNATS 建立會自動重連的 NATS 連線
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("party-room"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// MirrorSubject 房間訊息的 subject
func MirrorSubject(prefix, roomCode, event string) string {
	return strings.Join([]string{prefix, roomCode, event}, ".")
}

// ToRoom 發布房間訊息
func (m *NATSMirror) ToRoom(_ context.Context, roomCode, event string, payload any) error {
	data, err := json.Marshal(outboundMessage{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal mirror message: %w", err)
	}
	if err := m.pub.Publish(MirrorSubject(m.prefix, roomCode, event), data); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// ToSocket 單播訊息屬於個別玩家，不鏡像
func (m *NATSMirror) ToSocket(context.Context, string, string, any) error {
	return nil
}

// FanOut 依序送往多個 Emitter，全部送完後合併錯誤
type FanOut []Emitter

// ToRoom 送往每個 Emitter
func (f FanOut) ToRoom(ctx context.Context, roomCode, event string, payload any) error {
	var errs []error
	for _, e := range f {
		if err := e.ToRoom(ctx, roomCode, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ToSocket 送往每個 Emitter
func (f FanOut) ToSocket(ctx context.Context, socketID, event string, payload any) error {
	var errs []error
	for _, e := range f {
		if err := e.ToSocket(ctx, socketID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
