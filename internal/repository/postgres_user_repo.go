package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/playable/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, avatar, tier, credits, games_created,
	 stripe_customer_id, stripe_subscription_id, subscription_status,
	 deactivated_at, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.Avatar,
		&user.Tier, &user.Credits, &user.GamesCreated,
		&user.StripeCustomerID, &user.StripeSubscriptionID, &user.SubscriptionStatus,
		&user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
// どちらの挿入も冪等（ON CONFLICT DO NOTHING）。IdP側の自動プロビジョニングと
// アプリ側の手動作成が競合しても、既に存在するレコードを壊さない。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, avatar, tier, credits, games_created, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		user.ID, user.Email, user.Name, user.Avatar,
		user.Tier, user.Credits, user.GamesCreated,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider, provider_user_id) DO NOTHING`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateProfile は表示名とアバターを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id, name, avatar string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, avatar = $3, updated_at = now() WHERE id = $1`,
		id, name, avatar,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// IncrementGamesCreated は作成ゲーム数カウンタをアトミックに1増やす。
func (r *PostgresUserRepo) IncrementGamesCreated(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET games_created = games_created + 1, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment games_created: %w", err)
	}
	return nil
}

// UpdateSubscription はプラン・サブスクリプション状態を更新する。
func (r *PostgresUserRepo) UpdateSubscription(ctx context.Context, id string, tier model.SubscriptionTier, status model.SubscriptionStatus, subscriptionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET tier = $2, subscription_status = $3, stripe_subscription_id = $4, updated_at = now()
		 WHERE id = $1`,
		id, tier, status, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// SetStripeCustomerID はStripe顧客IDを紐付ける。
func (r *PostgresUserRepo) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`,
		id, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer ID: %w", err)
	}
	return nil
}

// Deactivate はアカウントを無効化する。台帳の監査可能性を保つため削除はしない。
func (r *PostgresUserRepo) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET deactivated_at = now(), updated_at = now()
		 WHERE id = $1 AND deactivated_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found or already deactivated: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
