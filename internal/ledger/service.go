// Package ledger はクレジット台帳のドメインロジックを提供する。
// 残高は唯一の真実として台帳リポジトリが管理し、本パッケージは
// 課金ポリシー（リトライ、ログ）のみを担う。
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
)

// 生成1回あたりのクレジットコスト。
const (
	CostNewGame   = 50
	CostIteration = 10
)

// プラン別の月次リフィル量。
const (
	TierCreditsGameDev = 2500
	TierCreditsPro     = 15000
	FuelPackCredits    = 1000
)

// StartingCredits は新規アカウントの初期残高。
// 無料プランで新規ゲームをちょうど1回生成できる量に合わせている。
const StartingCredits = CostNewGame

// DebitOutcome はDebit試行の結果区分。
type DebitOutcome int

const (
	// DebitOK は減算が適用されたことを表す。
	DebitOK DebitOutcome = iota
	// DebitInsufficient は残高不足による型付きの拒否を表す。
	DebitInsufficient
	// DebitError はインフラ障害を表す。リトライ対象。
	DebitError
)

// Service はクレジット台帳のサービス層。
type Service struct {
	ledgerRepo repository.LedgerRepository
	userRepo   repository.UserRepository
	logger     *slog.Logger

	// debitRetries はインフラ障害時の追加試行回数。
	// 残高不足はリトライしない（結果は変わらない）。
	debitRetries int
	retryBackoff time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(ledgerRepo repository.LedgerRepository, userRepo repository.UserRepository, logger *slog.Logger) *Service {
	return &Service{
		ledgerRepo:   ledgerRepo,
		userRepo:     userRepo,
		logger:       logger,
		debitRetries: 2,
		retryBackoff: 500 * time.Millisecond,
	}
}

// CostFor は生成の種類に応じたコストを返す。
// 既存HTMLの有無だけで判定する。会話の長さは料金に影響しない。
func CostFor(isIteration bool) int {
	if isIteration {
		return CostIteration
	}
	return CostNewGame
}

// Balance はユーザーの現在残高を返す。
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("残高の取得に失敗しました: %w", err)
	}
	if user == nil {
		return 0, model.NewUnauthorizedError()
	}
	return user.Credits, nil
}

// Debit は残高を1回だけ減算する。
func (s *Service) Debit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description string) (DebitOutcome, error) {
	ok, err := s.ledgerRepo.Debit(ctx, userID, amount, kind, description)
	if err != nil {
		return DebitError, err
	}
	if !ok {
		return DebitInsufficient, nil
	}
	return DebitOK, nil
}

// DebitWithRetry はインフラ障害に対して線形バックオフでリトライしつつ減算する。
// 残高不足は即座にDebitInsufficientを返す。全試行が障害で尽きた場合は
// DebitErrorと最後のエラーを返す。呼び出し側はこのとき成果物の配信を
// 止めずに、未精算としてマークして照合に回す。
func (s *Service) DebitWithRetry(ctx context.Context, userID string, amount int, kind model.TransactionKind, description string) (DebitOutcome, error) {
	var lastErr error
	for attempt := 0; attempt <= s.debitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return DebitError, ctx.Err()
			}
		}

		outcome, err := s.Debit(ctx, userID, amount, kind, description)
		if outcome != DebitError {
			return outcome, nil
		}
		lastErr = err
		s.logger.Warn("credit debit attempt failed",
			slog.String("user_id", userID),
			slog.Int("amount", amount),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Error("credit debit exhausted retries",
		slog.String("user_id", userID),
		slog.Int("amount", amount),
	)
	return DebitError, lastErr
}

// Credit は残高を加算する。paymentIntentIDが空でない場合は冪等に適用され、
// 2回目以降の同一IDはfalseを返す。
func (s *Service) Credit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description, paymentIntentID string) (bool, error) {
	applied, err := s.ledgerRepo.Credit(ctx, userID, amount, kind, description, paymentIntentID)
	if err != nil {
		return false, fmt.Errorf("クレジットの付与に失敗しました: %w", err)
	}
	if !applied && paymentIntentID != "" {
		s.logger.Info("duplicate credit skipped",
			slog.String("user_id", userID),
			slog.String("payment_intent_id", paymentIntentID),
		)
	}
	return applied, nil
}

// History はユーザーの台帳エントリを新しい順に返す。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	txs, err := s.ledgerRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("取引履歴の取得に失敗しました: %w", err)
	}
	return txs, nil
}

// RefillForTier はプランの月次リフィル量を返す。無料プランは0。
func RefillForTier(tier model.SubscriptionTier) int {
	switch tier {
	case model.TierGameDev:
		return TierCreditsGameDev
	case model.TierPro:
		return TierCreditsPro
	default:
		return 0
	}
}
