// Package user はアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
	"github.com/hitoshi/playable/internal/security"
)

// Service はアカウント管理のサービス層。
// プロフィール更新と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sanitizer   security.TextSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	sanitizer security.TextSanitizerService,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
	}
}

// Get は指定IDのユーザーを取得する。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// UpdateProfile は表示名とアバターURLを更新する。
// 表示名はサニタイズの上80文字に制限する。
func (s *Service) UpdateProfile(ctx context.Context, userID, name, avatar string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUnauthorizedError()
	}

	name = s.sanitizer.SanitizeWithin(name, 80)
	if name == "" {
		return model.NewInvalidRequestError("name is required")
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, name, avatar); err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", userID))
	return nil
}

// Deactivate はユーザーの退会処理を実行する。
// レコードは削除せずdeactivated_atを設定し、全セッションを破棄する。
// 残クレジットと作成済みゲームは保持されるが、以後の生成は拒否される。
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUnauthorizedError()
	}
	if user.DeactivatedAt != nil {
		// 冪等: 退会済みなら何もしない
		return nil
	}

	slog.Info("退会処理を開始します", slog.String("user_id", userID))

	// 1. セッションを全破棄
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. アカウントを無効化
	if err := s.userRepo.Deactivate(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの無効化に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました", slog.String("user_id", userID))
	return nil
}
