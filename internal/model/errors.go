package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Metaにはコードごとの機械可読な補足情報を入れる（例: 必要/保有クレジット数）。
type APIError struct {
	Code     string         // エラーコード
	Message  string         // エラーメッセージ
	Category string         // カテゴリ: auth, validation, credits, generator, system
	Action   string         // ユーザー向け対処方法
	Meta     map[string]any // 機械可読な補足情報
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeTierLimit            = "TIER_LIMIT"
	ErrCodeInsufficientCredits  = "INSUFFICIENT_CREDITS"
	ErrCodeGeneratorUnavailable = "GENERATOR_UNAVAILABLE"
	ErrCodeMalformedOutput      = "MALFORMED_OUTPUT"
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeVersionNotFound      = "VERSION_NOT_FOUND"
	ErrCodeGameNotFound         = "GAME_NOT_FOUND"
	ErrCodePaymentFailed        = "PAYMENT_FAILED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewTierLimitError はプラン制限エラーを生成する。
// reasonには「新規ゲーム数の上限」「イテレーション不可」等の具体的理由を渡す。
func NewTierLimitError(tier SubscriptionTier, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeTierLimit,
		Message:  fmt.Sprintf("現在のプラン（%s）ではこの操作は利用できません: %s", tier, reason),
		Category: "credits",
		Action:   "プランをアップグレードしてください。",
		Meta:     map[string]any{"tier": string(tier)},
	}
}

// NewInsufficientCreditsError はクレジット不足エラーを生成する。
// 必要数と保有数をMetaに含め、UIがアップセル導線を出せるようにする。
func NewInsufficientCreditsError(required, available int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientCredits,
		Message:  fmt.Sprintf("クレジットが不足しています。必要: %d、保有: %d。", required, available),
		Category: "credits",
		Action:   "クレジットを購入するか、プランをアップグレードしてください。",
		Meta:     map[string]any{"required": required, "available": available},
	}
}

// NewGeneratorUnavailableError は生成エンジン呼び出し失敗エラーを生成する。
// ユーザーが再試行可能な一時的エラーとして扱う。状態は一切変更されていない。
func NewGeneratorUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeGeneratorUnavailable,
		Message:  "ゲーム生成エンジンへの接続に失敗しました。",
		Category: "generator",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMalformedOutputError は生成結果のパース失敗エラーを生成する。
// クレジットは消費されておらず、再試行可能。生の出力はログにのみ記録する。
func NewMalformedOutputError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedOutput,
		Message:  "生成エンジンの応答を解釈できませんでした。",
		Category: "generator",
		Action:   "再度お試しください。繰り返し発生する場合はプロンプトを簡略化してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "validation",
		Action:   "セッションIDを確認してください。",
	}
}

// NewVersionNotFoundError はバージョン未検出エラーを生成する。
func NewVersionNotFoundError(sessionID string, versionNumber int) *APIError {
	return &APIError{
		Code:     ErrCodeVersionNotFound,
		Message:  fmt.Sprintf("バージョン %d が見つかりません（セッション: %s）。", versionNumber, sessionID),
		Category: "validation",
		Action:   "保持期間（直近5世代）を過ぎたバージョンは復元できません。",
	}
}

// NewGameNotFoundError は公開ゲーム未検出エラーを生成する。
func NewGameNotFoundError(gameID string) *APIError {
	return &APIError{
		Code:     ErrCodeGameNotFound,
		Message:  fmt.Sprintf("指定されたゲームが見つかりません: %s", gameID),
		Category: "validation",
		Action:   "ゲームIDを確認してください。",
	}
}

// NewPaymentFailedError は決済処理エラーを生成する。
func NewPaymentFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentFailed,
		Message:  fmt.Sprintf("決済処理に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
