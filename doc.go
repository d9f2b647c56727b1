// Package partyroom 是一個派對問答遊戲的房間協調服務。
//
// 玩家透過 WebSocket 加入以代碼識別的房間，由房主開始遊戲後，
// 伺服器依計時器推進每一回合：作答、投票、計分，最後公布贏家。
//
// # 房間狀態
//
// 房間狀態是不可變的值，每次修改都產生新版本（版本號遞增）：
//   - Manager 是目前狀態的唯一擁有者，每個房間有自己的鎖
//   - 更新以版本號做樂觀檢查，過期的更新會被拒絕
//   - 空房間超過保留時間後自動清理
//
// # 連線與重連
//
// 以顯示名稱作為跨連接的身份。斷線玩家的分數保留，
// 用同樣名稱重新加入時以新的 socket id 接手原本的紀錄。
//
// # 廣播
//
// 領域事件依目標（全房間 / 單一連接 / 房主）分派，完整快照每次最多送一次，
// 計時器只送剩餘秒數。選項順序固定：正解第一，其餘依作者 ID 排序。
//
// # 外部依賴
//
//   - 題庫：YAML 檔案或 Redis
//   - 房間訊息鏡像：NATS（選用）
//
// # 使用方式
//
//	go run ./cmd/server -config configs/config.yaml
//
// HTTP API：
//
//	POST   /api/v1/rooms              創建房間
//	GET    /api/v1/rooms              列出房間
//	GET    /api/v1/rooms/{code}       房間快照
//	DELETE /api/v1/rooms/{code}       關閉房間
//	GET    /ws/rooms/{code}           WebSocket 連線
package partyroom
