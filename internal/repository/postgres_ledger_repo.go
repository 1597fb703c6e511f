package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/playable/internal/model"
)

// PostgresLedgerRepo はPostgreSQLを使用したクレジット台帳リポジトリ。
// 残高の変更と台帳エントリの追記を常に同一トランザクションで行う。
type PostgresLedgerRepo struct {
	db *sql.DB
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

// Debit は残高を減算し台帳エントリを追記する。
// credits >= amount の場合のみ成功する条件付きUPDATEにより、
// 並行するDebit同士が競合しても残高が負になることはない（行ロックで直列化される）。
// 残高不足の場合は(false, nil)を返す。
func (r *PostgresLedgerRepo) Debit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("debit amount must be positive: %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET credits = credits - $2, updated_at = now()
		 WHERE id = $1 AND credits >= $2 AND deactivated_at IS NULL`,
		userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to debit credits: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 残高不足（またはアカウント無効）。型付きの拒否であってシステムエラーではない。
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, kind, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.New().String(), userID, -amount, kind, description,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record debit transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit debit: %w", err)
	}

	return true, nil
}

// creditInsertSQL は台帳へのクレジット追記。payment_intent_idの一意性は
// 部分一意インデックスで保証されるため、ON CONFLICTの競合対象にも
// インデックスの述語を明示する。述語を省略するとPostgreSQLはアービタと
// なるインデックスを推論できず、実行のたびに42P10エラーになる。
const creditInsertSQL = `INSERT INTO credit_transactions (id, user_id, amount, kind, description, payment_intent_id, created_at)
	 VALUES ($1, $2, $3, $4, $5, $6, now())
	 ON CONFLICT (payment_intent_id) WHERE payment_intent_id IS NOT NULL DO NOTHING`

// Credit は残高を加算し台帳エントリを追記する。
// paymentIntentIDが空でない場合は冪等性キーとして扱う。台帳テーブルの
// payment_intent_id一意制約により、同一決済の2回目以降の適用は
// 挿入0件となり残高も変更されない。
func (r *PostgresLedgerRepo) Credit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description, paymentIntentID string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("credit amount must be positive: %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ref sql.NullString
	if paymentIntentID != "" {
		ref = sql.NullString{String: paymentIntentID, Valid: true}
	}

	result, err := tx.ExecContext(ctx, creditInsertSQL,
		uuid.New().String(), userID, amount, kind, description, ref,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record credit transaction: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 同一payment_intent_idの適用済みクレジット。何もしない。
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET credits = credits + $2, updated_at = now() WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to credit balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit credit: %w", err)
	}

	return true, nil
}

// ListByUser はユーザーの台帳エントリを新しい順にlimit件まで返す。
func (r *PostgresLedgerRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount, kind, description, COALESCE(payment_intent_id, ''), created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		t := &model.Transaction{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.Description, &t.PaymentIntentID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txs, nil
}

// compile-time interface check
var _ LedgerRepository = (*PostgresLedgerRepo)(nil)
