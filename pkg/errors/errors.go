// Package errors 提供房間服務的應用程式錯誤
package errors

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	// ErrCodeNotFound 房間或玩家不存在
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists 房間代碼已被使用
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeConflict 狀態衝突（名稱重複、階段不符、版本過期）
	ErrCodeConflict = "CONFLICT"
	// ErrCodeUnavailable 外部服務不可用（Redis、NATS）
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳附帶詳細資訊的副本（預定義錯誤是共用的，不能原地修改）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrRoomAlreadyExists 房間代碼重複
	ErrRoomAlreadyExists = New(ErrCodeAlreadyExists, "room already exists")

	// ErrInvalidRoomCode 無效的房間代碼
	ErrInvalidRoomCode = New(ErrCodeInvalidInput, "invalid room code")

	// ErrPromptNotFound 題庫中找不到題目
	ErrPromptNotFound = New(ErrCodeNotFound, "prompt not found")

	// ErrWrongPhase 目前階段不允許此操作
	ErrWrongPhase = New(ErrCodeConflict, "action not allowed in current phase")

	// ErrStaleState 狀態版本已過期
	ErrStaleState = New(ErrCodeConflict, "room state is stale")

	// ErrCatalogUnavailable 題庫不可用
	ErrCatalogUnavailable = New(ErrCodeUnavailable, "prompt catalog unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyExists 檢查是否為已存在錯誤
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeAlreadyExists)
}

// IsInvalidInput 檢查是否為無效輸入
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsConflict 檢查是否為衝突錯誤
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsUnavailable 檢查是否為服務不可用
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
