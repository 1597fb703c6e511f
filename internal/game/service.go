// Package game は公開ゲームフィード、スコアボード、プレイ履歴のドメインロジックを提供する。
package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
	"github.com/hitoshi/playable/internal/security"
)

const (
	// LeaderboardSize はスコアボードに表示する上位件数。
	LeaderboardSize = 10

	defaultListLimit = 50
	maxListLimit     = 100

	maxTitleRunes       = 80
	maxDescriptionRunes = 200
	maxPlayerNameRunes  = 30
)

// PublishRequest は公開ゲームの作成リクエスト。
type PublishRequest struct {
	Title       string
	Description string
	HTML        string
	Thumbnail   string
	Category    model.GameCategory
	AuthorName  string
}

// Service は公開ゲームのサービス層。
type Service struct {
	gameRepo  repository.GameRepository
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(gameRepo repository.GameRepository, sanitizer security.TextSanitizerService, logger *slog.Logger) *Service {
	return &Service{
		gameRepo:  gameRepo,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Publish はゲームをフィードに公開する。
// タイトル・説明・作者名はサニタイズの上で永続化する。HTMLは成果物そのものなので加工しない。
func (s *Service) Publish(ctx context.Context, userID string, req PublishRequest) (*model.PublishedGame, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}
	title := s.sanitizer.SanitizeWithin(req.Title, maxTitleRunes)
	if title == "" {
		return nil, model.NewInvalidRequestError("title is required")
	}
	if req.HTML == "" {
		return nil, model.NewInvalidRequestError("html is required")
	}

	category := req.Category
	switch category {
	case model.CategoryArcade, model.CategoryPuzzle, model.CategoryAction,
		model.CategoryStrategy, model.CategoryExperimental:
	default:
		category = model.CategoryExperimental
	}

	g := &model.PublishedGame{
		ID:          uuid.New().String(),
		Title:       title,
		Description: s.sanitizer.SanitizeWithin(req.Description, maxDescriptionRunes),
		AuthorID:    userID,
		AuthorName:  s.sanitizer.SanitizeWithin(req.AuthorName, maxPlayerNameRunes),
		HTML:        req.HTML,
		Thumbnail:   req.Thumbnail,
		Category:    category,
		CreatedAt:   time.Now(),
	}

	if err := s.gameRepo.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("ゲームの公開に失敗しました: %w", err)
	}

	s.logger.Info("ゲームを公開しました",
		slog.String("game_id", g.ID),
		slog.String("user_id", userID),
		slog.String("category", string(category)),
	)
	return g, nil
}

// List は公開ゲームを新しい順に返す。limitが0以下ならデフォルト件数。
func (s *Service) List(ctx context.Context, limit int) ([]*model.PublishedGame, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	games, err := s.gameRepo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ゲーム一覧の取得に失敗しました: %w", err)
	}
	return games, nil
}

// Get は指定IDの公開ゲームを取得する。
func (s *Service) Get(ctx context.Context, gameID string) (*model.PublishedGame, error) {
	g, err := s.gameRepo.FindByID(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("ゲームの取得に失敗しました: %w", err)
	}
	if g == nil {
		return nil, model.NewGameNotFoundError(gameID)
	}
	return g, nil
}

// RecordPlay はプレイ回数をアトミックに1増やす。
func (s *Service) RecordPlay(ctx context.Context, gameID string) error {
	if _, err := s.Get(ctx, gameID); err != nil {
		return err
	}
	if err := s.gameRepo.IncrementPlays(ctx, gameID); err != nil {
		return fmt.Errorf("プレイ回数の更新に失敗しました: %w", err)
	}
	return nil
}

// SubmitScore はスコアボードにスコアを追記する。
// プレイヤー名はサニタイズする。userIDは未ログイン時は空でよい。
func (s *Service) SubmitScore(ctx context.Context, gameID, playerName string, score int, userID string) error {
	if score < 0 {
		return model.NewInvalidRequestError("score must not be negative")
	}
	playerName = s.sanitizer.SanitizeWithin(playerName, maxPlayerNameRunes)
	if playerName == "" {
		playerName = "Anonymous"
	}
	if _, err := s.Get(ctx, gameID); err != nil {
		return err
	}

	entry := &model.LeaderboardEntry{
		ID:         uuid.New().String(),
		GameID:     gameID,
		PlayerName: playerName,
		Score:      score,
		UserID:     userID,
		CreatedAt:  time.Now(),
	}
	if err := s.gameRepo.InsertScore(ctx, entry); err != nil {
		return fmt.Errorf("スコアの登録に失敗しました: %w", err)
	}
	return nil
}

// Leaderboard はゲームの上位スコアを返す。
func (s *Service) Leaderboard(ctx context.Context, gameID string) ([]*model.LeaderboardEntry, error) {
	entries, err := s.gameRepo.TopScores(ctx, gameID, LeaderboardSize)
	if err != nil {
		return nil, fmt.Errorf("スコアボードの取得に失敗しました: %w", err)
	}
	return entries, nil
}

// RecordHistory はユーザーのプレイ履歴を冪等に記録する。
func (s *Service) RecordHistory(ctx context.Context, userID, gameID string) error {
	if userID == "" {
		return model.NewUnauthorizedError()
	}
	if err := s.gameRepo.UpsertPlayHistory(ctx, userID, gameID); err != nil {
		return fmt.Errorf("プレイ履歴の記録に失敗しました: %w", err)
	}
	return nil
}

// History はユーザーが最近プレイしたゲームを返す。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.PublishedGame, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	games, err := s.gameRepo.ListPlayHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("プレイ履歴の取得に失敗しました: %w", err)
	}
	return games, nil
}

// ToggleSave は保存済みライブラリへの追加/削除を切り替え、追加後の状態を返す。
func (s *Service) ToggleSave(ctx context.Context, userID, gameID string) (bool, error) {
	if userID == "" {
		return false, model.NewUnauthorizedError()
	}
	saved, err := s.gameRepo.ToggleSave(ctx, userID, gameID)
	if err != nil {
		return false, fmt.Errorf("保存状態の切り替えに失敗しました: %w", err)
	}
	return saved, nil
}

// SavedIDs はユーザーが保存したゲームIDの一覧を返す。
func (s *Service) SavedIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.gameRepo.ListSavedIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("保存済みゲームの取得に失敗しました: %w", err)
	}
	return ids, nil
}
