// Package cleanup はスタジオデータの自動削除ジョブを提供する。
// 放置された非アクティブセッションと、保持上限を超えた世代を
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
)

// CleanupJob は放置セッションと超過世代の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	studioRepo  repository.StudioSessionRepository
	versionRepo repository.VersionRepository
	logger      *slog.Logger
	// SessionRetentionDays は非アクティブセッションの保持日数（デフォルト: 30）
	SessionRetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトのセッション保持日数は30日。
func NewCleanupJob(studioRepo repository.StudioSessionRepository, versionRepo repository.VersionRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		studioRepo:           studioRepo,
		versionRepo:          versionRepo,
		logger:               logger,
		SessionRetentionDays: 30,
	}
}

// Run は保持期間を超過したセッションと超過世代を削除する。
// 世代の保持上限は通常Append時の同一トランザクションで守られるため、
// ここでの削除は取りこぼしの掃除にあたる。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := time.Now().AddDate(0, 0, -j.SessionRetentionDays)
	sessionsDeleted, err := j.studioRepo.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.SessionRetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	versionsDeleted, err := j.versionRepo.DeleteBeyondRetention(ctx, model.VersionRetentionLimit)
	if err != nil {
		j.logger.Error("世代クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_limit", model.VersionRetentionLimit),
		)
		return fmt.Errorf("世代クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("sessions_deleted", sessionsDeleted),
		slog.Int64("versions_deleted", versionsDeleted),
		slog.Int("retention_days", j.SessionRetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
