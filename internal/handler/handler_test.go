package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
)

// --- 共有テストヘルパーとモック ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withUser はリクエストに認証済みユーザーIDを注入する。
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

type mockStudioRepo struct {
	findActiveFn func(ctx context.Context, userID string) (*model.StudioSession, error)
	findFn       func(ctx context.Context, userID, sessionID string) (*model.StudioSession, error)
	upsertFn     func(ctx context.Context, s *model.StudioSession) error
	deactivateFn func(ctx context.Context, userID, sessionID string) error
}

func (m *mockStudioRepo) FindActiveByUser(ctx context.Context, userID string) (*model.StudioSession, error) {
	if m.findActiveFn != nil {
		return m.findActiveFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockStudioRepo) FindByUserAndSession(ctx context.Context, userID, sessionID string) (*model.StudioSession, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, sessionID)
	}
	return nil, nil
}
func (m *mockStudioRepo) Upsert(ctx context.Context, s *model.StudioSession) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, s)
	}
	return nil
}
func (m *mockStudioRepo) Deactivate(ctx context.Context, userID, sessionID string) error {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, userID, sessionID)
	}
	return nil
}
func (m *mockStudioRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockVersionRepo struct {
	appendFn func(ctx context.Context, v *model.GameVersion) (string, error)
	latestFn func(ctx context.Context, userID, sessionID string) (int, error)
	listFn   func(ctx context.Context, userID, sessionID string, limit int) ([]*model.GameVersion, error)
	findFn   func(ctx context.Context, userID, sessionID string, number int) (*model.GameVersion, error)
}

func (m *mockVersionRepo) Append(ctx context.Context, v *model.GameVersion) (string, error) {
	if m.appendFn != nil {
		return m.appendFn(ctx, v)
	}
	return "version-id", nil
}
func (m *mockVersionRepo) LatestNumber(ctx context.Context, userID, sessionID string) (int, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, userID, sessionID)
	}
	return 0, nil
}
func (m *mockVersionRepo) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.GameVersion, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, sessionID, limit)
	}
	return nil, nil
}
func (m *mockVersionRepo) FindByNumber(ctx context.Context, userID, sessionID string, number int) (*model.GameVersion, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, sessionID, number)
	}
	return nil, nil
}
func (m *mockVersionRepo) DeleteBeyondRetention(ctx context.Context, keep int) (int64, error) {
	return 0, nil
}
