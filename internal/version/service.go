// Package version はゲームの世代（バージョン）管理のドメインロジックを提供する。
package version

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
)

// Service はゲームバージョンのサービス層。
// 世代番号は追記時に既存の最新+1を採番する。追記が失敗した生成の番号は
// 次の生成で再利用されるため、欠番は生じない。
type Service struct {
	versionRepo repository.VersionRepository
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(versionRepo repository.VersionRepository, logger *slog.Logger) *Service {
	return &Service{
		versionRepo: versionRepo,
		logger:      logger,
	}
}

// Append はセッションに新しい世代を追記し、採番された世代を返す。
// 保持上限を超えた古い世代はリポジトリ側で同時に刈り取られる。
func (s *Service) Append(ctx context.Context, userID, sessionID, html, prompt string) (*model.GameVersion, error) {
	latest, err := s.versionRepo.LatestNumber(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("最新世代番号の取得に失敗しました: %w", err)
	}

	v := &model.GameVersion{
		UserID:        userID,
		SessionID:     sessionID,
		VersionNumber: latest + 1,
		HTML:          html,
		Prompt:        prompt,
	}

	id, err := s.versionRepo.Append(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("世代の追記に失敗しました: %w", err)
	}
	v.ID = id

	s.logger.Info("game version appended",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.Int("version_number", v.VersionNumber),
	)

	return v, nil
}

// List はセッションの保持世代を新しい順に返す。
// 返る件数は保持上限（既定5）を超えない。
func (s *Service) List(ctx context.Context, userID, sessionID string) ([]*model.GameVersion, error) {
	versions, err := s.versionRepo.ListBySession(ctx, userID, sessionID, model.VersionRetentionLimit)
	if err != nil {
		return nil, fmt.Errorf("世代一覧の取得に失敗しました: %w", err)
	}
	return versions, nil
}

// Get は指定番号の世代をHTML本体込みで返す。
// 保持ウィンドウ外の番号はVERSION_NOT_FOUNDになる。
func (s *Service) Get(ctx context.Context, userID, sessionID string, number int) (*model.GameVersion, error) {
	if number < 1 {
		return nil, model.NewVersionNotFoundError(sessionID, number)
	}
	v, err := s.versionRepo.FindByNumber(ctx, userID, sessionID, number)
	if err != nil {
		return nil, fmt.Errorf("世代の取得に失敗しました: %w", err)
	}
	if v == nil {
		return nil, model.NewVersionNotFoundError(sessionID, number)
	}
	return v, nil
}
