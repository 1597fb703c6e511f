package model

import "time"

// MessageRole は会話メッセージの話者を表す。
type MessageRole string

const (
	// RoleUser はユーザーの発話。
	RoleUser MessageRole = "user"
	// RoleModel は生成モデルの応答。
	RoleModel MessageRole = "model"
)

// Message はスタジオセッション内の会話メッセージを表す。
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// StudioSession は1つの継続的な制作スレッド（会話＋最新成果物）を表す。
// SessionIDはクライアント生成の不透明なIDで、(user_id, session_id)で一意。
// IsActiveはユーザーごとに高々1つだけtrueになる想定だが、
// 厳密なロックはせずlast-writer-winsで緩く保証する（複数タブの競合は許容）。
type StudioSession struct {
	UserID    string
	SessionID string
	Messages  []Message
	// CurrentHTML は最新成果物のペイロード。まだ生成がなければ空。
	CurrentHTML string
	// CurrentVersion は最新成果物のバージョン番号。まだ生成がなければ0。
	CurrentVersion       int
	SuggestedTitle       string
	SuggestedDescription string
	IsActive             bool
	CreatedAt            time.Time
	LastUpdatedAt        time.Time
}
