package model

import "time"

// VersionRetentionLimit はセッションごとに保持する世代数の上限。
// これを超えた古い世代は削除してよい（ユーザーに見えるエラーにはしない）。
const VersionRetentionLimit = 5

// GameVersion は1回の生成で得られた不変の成果物を表す。
// VersionNumberはセッション内で1から始まる単調増加の整数で、欠番・再利用はない。
// 書き込み後のHTMLは変更されない（restore時にバイト単位で一致する）。
type GameVersion struct {
	ID            string
	UserID        string
	SessionID     string
	VersionNumber int
	// HTML は自己完結したプレイ可能なドキュメント全体。
	HTML string
	// Prompt はこの世代を生んだユーザープロンプト。
	Prompt    string
	CreatedAt time.Time
}
