package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/playable/internal/model"
)

type mockStudioRepo struct {
	deleteInactiveFn func(ctx context.Context, cutoff time.Time) (int64, error)
	gotCutoff        time.Time
	called           bool
}

func (m *mockStudioRepo) FindActiveByUser(ctx context.Context, userID string) (*model.StudioSession, error) {
	return nil, nil
}
func (m *mockStudioRepo) FindByUserAndSession(ctx context.Context, userID, sessionID string) (*model.StudioSession, error) {
	return nil, nil
}
func (m *mockStudioRepo) Upsert(ctx context.Context, s *model.StudioSession) error { return nil }
func (m *mockStudioRepo) Deactivate(ctx context.Context, userID, sessionID string) error {
	return nil
}
func (m *mockStudioRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.called = true
	m.gotCutoff = cutoff
	if m.deleteInactiveFn != nil {
		return m.deleteInactiveFn(ctx, cutoff)
	}
	return 0, nil
}

type mockVersionRepo struct {
	deleteBeyondFn func(ctx context.Context, keep int) (int64, error)
	gotKeep        int
	called         bool
}

func (m *mockVersionRepo) Append(ctx context.Context, v *model.GameVersion) (string, error) {
	return "", nil
}
func (m *mockVersionRepo) LatestNumber(ctx context.Context, userID, sessionID string) (int, error) {
	return 0, nil
}
func (m *mockVersionRepo) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.GameVersion, error) {
	return nil, nil
}
func (m *mockVersionRepo) FindByNumber(ctx context.Context, userID, sessionID string, number int) (*model.GameVersion, error) {
	return nil, nil
}
func (m *mockVersionRepo) DeleteBeyondRetention(ctx context.Context, keep int) (int64, error) {
	m.called = true
	m.gotKeep = keep
	if m.deleteBeyondFn != nil {
		return m.deleteBeyondFn(ctx, keep)
	}
	return 0, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockStudioRepo{}, &mockVersionRepo{}, newTestLogger(&buf))

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
	if job.SessionRetentionDays != 30 {
		t.Errorf("SessionRetentionDays = %d, want 30", job.SessionRetentionDays)
	}
}

func TestRun_DeletesSessionsAndVersions(t *testing.T) {
	var buf bytes.Buffer
	studio := &mockStudioRepo{
		deleteInactiveFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 12, nil
		},
	}
	versions := &mockVersionRepo{
		deleteBeyondFn: func(ctx context.Context, keep int) (int64, error) {
			return 3, nil
		},
	}
	job := NewCleanupJob(studio, versions, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !studio.called {
		t.Fatal("DeleteInactiveBefore が呼び出されなかった")
	}
	if !versions.called {
		t.Fatal("DeleteBeyondRetention が呼び出されなかった")
	}
	if versions.gotKeep != model.VersionRetentionLimit {
		t.Errorf("保持上限 = %d, want %d", versions.gotKeep, model.VersionRetentionLimit)
	}

	// 30日前をカットオフにしていること（±1分の誤差を許容）
	want := time.Now().AddDate(0, 0, -30)
	if d := studio.gotCutoff.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("cutoff = %v, want ~%v", studio.gotCutoff, want)
	}
}

func TestRun_LogsDeletedCounts(t *testing.T) {
	var buf bytes.Buffer
	studio := &mockStudioRepo{
		deleteInactiveFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 42, nil
		},
	}
	versions := &mockVersionRepo{
		deleteBeyondFn: func(ctx context.Context, keep int) (int64, error) {
			return 7, nil
		},
	}
	job := NewCleanupJob(studio, versions, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのJSON解析に失敗: %v", err)
	}
	if entry["sessions_deleted"] != float64(42) {
		t.Errorf("ログに sessions_deleted=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if entry["versions_deleted"] != float64(7) {
		t.Errorf("ログに versions_deleted=7 が記録されていない。ログ出力: %s", buf.String())
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestRun_SessionDeleteFailure_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	studio := &mockStudioRepo{
		deleteInactiveFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	versions := &mockVersionRepo{}
	job := NewCleanupJob(studio, versions, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "セッションクリーンアップ") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if versions.called {
		t.Error("セッション削除が失敗したら世代削除まで進まない")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestRun_VersionDeleteFailure_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	versions := &mockVersionRepo{
		deleteBeyondFn: func(ctx context.Context, keep int) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	job := NewCleanupJob(&mockStudioRepo{}, versions, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "世代クリーンアップ") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
}

func TestRun_Idempotent_NoRowsIsSuccess(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockStudioRepo{}, &mockVersionRepo{}, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("1回目の Run() がエラーを返した: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("2回目の Run() がエラーを返した: %v", err)
	}
	if !strings.Contains(buf.String(), `"sessions_deleted":0`) {
		t.Errorf("0件削除時にもログに sessions_deleted=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}
