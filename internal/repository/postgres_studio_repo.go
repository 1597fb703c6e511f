package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/playable/internal/model"
)

// PostgresStudioSessionRepo はPostgreSQLを使用したスタジオセッションリポジトリ。
// 会話履歴はJSONBカラムに格納する。
type PostgresStudioSessionRepo struct {
	db *sql.DB
}

// NewPostgresStudioSessionRepo はPostgresStudioSessionRepoを生成する。
func NewPostgresStudioSessionRepo(db *sql.DB) *PostgresStudioSessionRepo {
	return &PostgresStudioSessionRepo{db: db}
}

const studioColumns = `user_id, session_id, messages, current_html, current_version,
	suggested_title, suggested_description, is_active, created_at, last_updated_at`

func scanStudioSession(scan func(dest ...any) error) (*model.StudioSession, error) {
	s := &model.StudioSession{}
	var messages []byte
	err := scan(&s.UserID, &s.SessionID, &messages, &s.CurrentHTML, &s.CurrentVersion,
		&s.SuggestedTitle, &s.SuggestedDescription, &s.IsActive, &s.CreatedAt, &s.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &s.Messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
	}
	return s, nil
}

// FindActiveByUser はユーザーのアクティブなスタジオセッションを返す。
// 存在しない場合は(nil, nil)を返す。
func (r *PostgresStudioSessionRepo) FindActiveByUser(ctx context.Context, userID string) (*model.StudioSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+studioColumns+` FROM studio_sessions
		 WHERE user_id = $1 AND is_active = true
		 ORDER BY last_updated_at DESC
		 LIMIT 1`,
		userID,
	)
	s, err := scanStudioSession(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active studio session: %w", err)
	}
	return s, nil
}

// FindByUserAndSession は指定セッションのスタジオ状態を返す。
// 見つからない場合はnilを返す。
func (r *PostgresStudioSessionRepo) FindByUserAndSession(ctx context.Context, userID, sessionID string) (*model.StudioSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+studioColumns+` FROM studio_sessions
		 WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	)
	s, err := scanStudioSession(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find studio session: %w", err)
	}
	return s, nil
}

// Upsert はスタジオセッションを(user_id, session_id)単位で挿入または更新する。
// is_activeを含む全フィールドが後勝ちで上書きされる。新しいセッションを
// アクティブにする場合は、同一トランザクションで他のセッションを
// 非アクティブ化し、アクティブは常に高々1つに保つ。
func (r *PostgresStudioSessionRepo) Upsert(ctx context.Context, s *model.StudioSession) error {
	messages, err := json.Marshal(s.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.IsActive {
		_, err = tx.ExecContext(ctx,
			`UPDATE studio_sessions SET is_active = false
			 WHERE user_id = $1 AND session_id <> $2 AND is_active = true`,
			s.UserID, s.SessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to deactivate other sessions: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO studio_sessions
		   (user_id, session_id, messages, current_html, current_version,
		    suggested_title, suggested_description, is_active, created_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
		   messages = EXCLUDED.messages,
		   current_html = EXCLUDED.current_html,
		   current_version = EXCLUDED.current_version,
		   suggested_title = EXCLUDED.suggested_title,
		   suggested_description = EXCLUDED.suggested_description,
		   is_active = EXCLUDED.is_active,
		   last_updated_at = now()`,
		s.UserID, s.SessionID, messages, s.CurrentHTML, s.CurrentVersion,
		s.SuggestedTitle, s.SuggestedDescription, s.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert studio session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit studio session upsert: %w", err)
	}

	return nil
}

// Deactivate は指定セッションを非アクティブにする。
func (r *PostgresStudioSessionRepo) Deactivate(ctx context.Context, userID, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE studio_sessions SET is_active = false, last_updated_at = now()
		 WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate studio session: %w", err)
	}
	return nil
}

// DeleteInactiveBefore はcutoffより前に最終更新された非アクティブな
// スタジオセッションを削除し、削除件数を返す。
func (r *PostgresStudioSessionRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM studio_sessions
		 WHERE is_active = false AND last_updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete inactive studio sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ StudioSessionRepository = (*PostgresStudioSessionRepo)(nil)
