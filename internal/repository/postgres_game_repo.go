package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/playable/internal/model"
)

// PostgresGameRepo はPostgreSQLを使用した公開ゲームリポジトリ。
type PostgresGameRepo struct {
	db *sql.DB
}

// NewPostgresGameRepo はPostgresGameRepoを生成する。
func NewPostgresGameRepo(db *sql.DB) *PostgresGameRepo {
	return &PostgresGameRepo{db: db}
}

const gameColumns = `id, title, description, author_id, author_name, html,
	thumbnail, category, plays, is_official, created_at`

func scanGame(scan func(dest ...any) error) (*model.PublishedGame, error) {
	g := &model.PublishedGame{}
	err := scan(&g.ID, &g.Title, &g.Description, &g.AuthorID, &g.AuthorName,
		&g.HTML, &g.Thumbnail, &g.Category, &g.Plays, &g.IsOfficial, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Create は公開ゲームを作成する。
func (r *PostgresGameRepo) Create(ctx context.Context, g *model.PublishedGame) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO games (id, title, description, author_id, author_name, html,
		   thumbnail, category, plays, is_official, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, now())`,
		g.ID, g.Title, g.Description, g.AuthorID, g.AuthorName, g.HTML,
		g.Thumbnail, g.Category, g.IsOfficial,
	)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}
	return nil
}

// FindByID は指定IDの公開ゲームを取得する。見つからない場合はnilを返す。
func (r *PostgresGameRepo) FindByID(ctx context.Context, id string) (*model.PublishedGame, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find game: %w", err)
	}
	return g, nil
}

// List は公開ゲームを新しい順にlimit件まで返す。HTML本体は含めない。
func (r *PostgresGameRepo) List(ctx context.Context, limit int) ([]*model.PublishedGame, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, author_id, author_name, '',
		   thumbnail, category, plays, is_official, created_at
		 FROM games
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []*model.PublishedGame
	for rows.Next() {
		g, err := scanGame(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate games: %w", err)
	}

	return games, nil
}

// IncrementPlays はプレイ回数をアトミックに1増やす。
func (r *PostgresGameRepo) IncrementPlays(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET plays = plays + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment plays: %w", err)
	}
	return nil
}

// InsertScore はスコアボードにエントリを追記する。
func (r *PostgresGameRepo) InsertScore(ctx context.Context, e *model.LeaderboardEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO leaderboard (id, game_id, player_name, score, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		e.ID, e.GameID, e.PlayerName, e.Score, e.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}
	return nil
}

// TopScores はゲームの上位スコアを降順にlimit件まで返す。
func (r *PostgresGameRepo) TopScores(ctx context.Context, gameID string, limit int) ([]*model.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, game_id, player_name, score, user_id, created_at
		 FROM leaderboard
		 WHERE game_id = $1
		 ORDER BY score DESC, created_at ASC
		 LIMIT $2`,
		gameID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top scores: %w", err)
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		e := &model.LeaderboardEntry{}
		if err := rows.Scan(&e.ID, &e.GameID, &e.PlayerName, &e.Score, &e.UserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scores: %w", err)
	}

	return entries, nil
}

// UpsertPlayHistory はプレイ履歴を冪等にUPSERTする。
// 既存行はplay_countをインクリメントしlast_played_atを更新する。
func (r *PostgresGameRepo) UpsertPlayHistory(ctx context.Context, userID, gameID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO play_history (user_id, game_id, play_count, last_played_at)
		 VALUES ($1, $2, 1, now())
		 ON CONFLICT (user_id, game_id) DO UPDATE SET
		   play_count = play_history.play_count + 1,
		   last_played_at = now()`,
		userID, gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert play history: %w", err)
	}
	return nil
}

// ListPlayHistory はユーザーが最近プレイしたゲームを新しい順に返す。
func (r *PostgresGameRepo) ListPlayHistory(ctx context.Context, userID string, limit int) ([]*model.PublishedGame, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.id, g.title, g.description, g.author_id, g.author_name, '',
		   g.thumbnail, g.category, g.plays, g.is_official, g.created_at
		 FROM play_history ph
		 JOIN games g ON g.id = ph.game_id
		 WHERE ph.user_id = $1
		 ORDER BY ph.last_played_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list play history: %w", err)
	}
	defer rows.Close()

	var games []*model.PublishedGame
	for rows.Next() {
		g, err := scanGame(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan play history game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate play history: %w", err)
	}

	return games, nil
}

// ToggleSave は保存済みライブラリへの追加/削除を切り替える。
// 追加した場合はtrue、削除した場合はfalseを返す。
func (r *PostgresGameRepo) ToggleSave(ctx context.Context, userID, gameID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM saved_games WHERE user_id = $1 AND game_id = $2`,
		userID, gameID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete saved game: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	saved := false
	if deleted == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO saved_games (user_id, game_id, saved_at) VALUES ($1, $2, now())`,
			userID, gameID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert saved game: %w", err)
		}
		saved = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit save toggle: %w", err)
	}

	return saved, nil
}

// ListSavedIDs はユーザーが保存したゲームIDの一覧を新しい順に返す。
func (r *PostgresGameRepo) ListSavedIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT game_id FROM saved_games WHERE user_id = $1 ORDER BY saved_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved game ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan saved game id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate saved game ids: %w", err)
	}

	return ids, nil
}

// compile-time interface check
var _ GameRepository = (*PostgresGameRepo)(nil)
