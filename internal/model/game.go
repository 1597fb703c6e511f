package model

import "time"

// GameCategory は公開ゲームのカテゴリ。
type GameCategory string

const (
	CategoryArcade       GameCategory = "Arcade"
	CategoryPuzzle       GameCategory = "Puzzle"
	CategoryAction       GameCategory = "Action"
	CategoryStrategy     GameCategory = "Strategy"
	CategoryExperimental GameCategory = "Experimental"
)

// PublishedGame はフィードに公開されたゲームを表す。
type PublishedGame struct {
	ID          string
	Title       string
	Description string
	AuthorID    string
	AuthorName  string
	HTML        string
	Thumbnail   string
	Category    GameCategory
	Plays       int
	IsOfficial  bool
	CreatedAt   time.Time
}

// LeaderboardEntry は公開ゲームのスコアボードの1行を表す。
type LeaderboardEntry struct {
	ID         string
	GameID     string
	PlayerName string
	Score      int
	UserID     string
	CreatedAt  time.Time
}

// PlayHistoryEntry はユーザーのプレイ履歴の1行を表す。
// 同一ゲームの再プレイはplay_countをインクリメントする（行は増えない）。
type PlayHistoryEntry struct {
	UserID       string
	GameID       string
	PlayCount    int
	LastPlayedAt time.Time
}
