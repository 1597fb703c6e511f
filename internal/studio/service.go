// Package studio はスタジオセッション（作業中のゲームと会話）の状態管理を提供する。
package studio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
)

// Service はスタジオセッションのサービス層。
// 書き込みはdebouncerを通して行われ、連続する更新はまとめて永続化される。
type Service struct {
	studioRepo repository.StudioSessionRepository
	debouncer  *Debouncer
	logger     *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// quietWindowは書き込みをまとめる静止時間。0以下の場合は即時書き込みになる。
func NewService(studioRepo repository.StudioSessionRepository, quietWindow time.Duration, logger *slog.Logger) *Service {
	s := &Service{
		studioRepo: studioRepo,
		logger:     logger,
	}
	s.debouncer = NewDebouncer(quietWindow, s.persist)
	return s
}

func (s *Service) persist(session *model.StudioSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.studioRepo.Upsert(ctx, session); err != nil {
		// セッション状態は利便性のための複製であり、失敗しても生成結果は失わない。
		s.logger.Warn("studio session persist failed",
			slog.String("user_id", session.UserID),
			slog.String("session_id", session.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("studio session persisted",
		slog.String("user_id", session.UserID),
		slog.String("session_id", session.SessionID),
	)
}

// NewSessionID は新しいセッションIDを発行する。
func NewSessionID() string {
	return uuid.New().String()
}

// Active はユーザーのアクティブセッションを返す。なければnilを返す。
func (s *Service) Active(ctx context.Context, userID string) (*model.StudioSession, error) {
	session, err := s.studioRepo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("アクティブセッションの取得に失敗しました: %w", err)
	}
	return session, nil
}

// Get は指定セッションを返す。見つからない場合はSESSION_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, userID, sessionID string) (*model.StudioSession, error) {
	session, err := s.studioRepo.FindByUserAndSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	return session, nil
}

// Save はセッション状態の保存を予約する。静止時間内に続けて呼ばれた場合は
// 最後の状態だけが書き込まれる（後勝ち）。
func (s *Service) Save(session *model.StudioSession) {
	s.debouncer.Schedule(session)
}

// SaveNow はセッション状態を即時に永続化する。生成完了時など、
// 失いたくない更新に使う。
func (s *Service) SaveNow(ctx context.Context, session *model.StudioSession) error {
	s.debouncer.Cancel(session.UserID, session.SessionID)
	if err := s.studioRepo.Upsert(ctx, session); err != nil {
		return fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}
	return nil
}

// Close はセッションを閉じる。保留中の書き込みをフラッシュしてから
// 非アクティブ化する。
func (s *Service) Close(ctx context.Context, userID, sessionID string) error {
	s.debouncer.Flush(userID, sessionID)
	if err := s.studioRepo.Deactivate(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("セッションのクローズに失敗しました: %w", err)
	}
	return nil
}

// Shutdown は全セッションの保留中の書き込みをフラッシュする。
// プロセス終了時に呼ぶ。
func (s *Service) Shutdown() {
	s.debouncer.FlushAll()
}

// AppendExchange はユーザー発話とモデル応答をセッションに積み、
// 生成結果のHTMLと世代番号を反映した状態を返す。
func AppendExchange(session *model.StudioSession, userText, modelText, html string, versionNumber int) *model.StudioSession {
	now := time.Now()
	session.Messages = append(session.Messages,
		model.Message{ID: uuid.New().String(), Role: model.RoleUser, Text: userText, Timestamp: now},
		model.Message{ID: uuid.New().String(), Role: model.RoleModel, Text: modelText, Timestamp: now},
	)
	session.CurrentHTML = html
	session.CurrentVersion = versionNumber
	session.IsActive = true
	session.LastUpdatedAt = now
	return session
}
