package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/playable/internal/model"
)

// PostgresVersionRepo はPostgreSQLを使用したゲームバージョンリポジトリ。
// keepは1セッションあたりの保持世代数。
type PostgresVersionRepo struct {
	db   *sql.DB
	keep int
}

// NewPostgresVersionRepo はPostgresVersionRepoを生成する。
func NewPostgresVersionRepo(db *sql.DB, keep int) *PostgresVersionRepo {
	return &PostgresVersionRepo{db: db, keep: keep}
}

// Append はバージョンを追記し、同一トランザクション内で保持上限を超えた
// 古いバージョンを削除する。(user_id, session_id, version_number)の
// 一意制約により同一番号の二重追記は失敗する。追記した行のIDを返す。
func (r *PostgresVersionRepo) Append(ctx context.Context, v *model.GameVersion) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := v.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO game_versions (id, user_id, session_id, version_number, html, prompt, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		id, v.UserID, v.SessionID, v.VersionNumber, v.HTML, v.Prompt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert version: %w", err)
	}

	if r.keep > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM game_versions
			 WHERE user_id = $1 AND session_id = $2 AND version_number <= $3`,
			v.UserID, v.SessionID, v.VersionNumber-r.keep,
		)
		if err != nil {
			return "", fmt.Errorf("failed to prune old versions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit version append: %w", err)
	}

	return id, nil
}

// LatestNumber はセッションの最新バージョン番号を返す。バージョンが
// 存在しない場合は0を返す。
func (r *PostgresVersionRepo) LatestNumber(ctx context.Context, userID, sessionID string) (int, error) {
	var latest int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM game_versions
		 WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest version number: %w", err)
	}
	return latest, nil
}

// ListBySession はセッションの保持バージョンを番号の降順にlimit件まで返す。
// HTML本体は含めず、一覧表示に必要なメタデータのみを返す。
func (r *PostgresVersionRepo) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.GameVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, version_number, prompt, created_at
		 FROM game_versions
		 WHERE user_id = $1 AND session_id = $2
		 ORDER BY version_number DESC
		 LIMIT $3`,
		userID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*model.GameVersion
	for rows.Next() {
		v := &model.GameVersion{}
		if err := rows.Scan(&v.ID, &v.UserID, &v.SessionID, &v.VersionNumber, &v.Prompt, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}

	return versions, nil
}

// FindByNumber は指定番号のバージョンをHTML本体込みで返す。
// 見つからない場合はnilを返す。
func (r *PostgresVersionRepo) FindByNumber(ctx context.Context, userID, sessionID string, number int) (*model.GameVersion, error) {
	v := &model.GameVersion{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_id, version_number, html, prompt, created_at
		 FROM game_versions
		 WHERE user_id = $1 AND session_id = $2 AND version_number = $3`,
		userID, sessionID, number,
	).Scan(&v.ID, &v.UserID, &v.SessionID, &v.VersionNumber, &v.HTML, &v.Prompt, &v.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find version: %w", err)
	}
	return v, nil
}

// DeleteBeyondRetention は全セッションを対象に保持上限を超えた古い
// バージョンを削除し、削除件数を返す。日次スイープから呼ばれる。
func (r *PostgresVersionRepo) DeleteBeyondRetention(ctx context.Context, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM game_versions gv
		 USING (
		   SELECT user_id, session_id, MAX(version_number) AS latest
		   FROM game_versions
		   GROUP BY user_id, session_id
		 ) latest
		 WHERE gv.user_id = latest.user_id
		   AND gv.session_id = latest.session_id
		   AND gv.version_number <= latest.latest - $1`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete versions beyond retention: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ VersionRepository = (*PostgresVersionRepo)(nil)
