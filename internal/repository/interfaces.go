// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/playable/internal/model"
)

// UserRepository はユーザー（クレジット口座を含む）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// どちらの挿入もON CONFLICT DO NOTHINGで冪等に行う。
	// IdP側の自動プロビジョニングと手動作成の競合時は既存レコードをそのまま使う。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile は表示名とアバターを更新する。
	UpdateProfile(ctx context.Context, id, name, avatar string) error

	// IncrementGamesCreated は作成ゲーム数カウンタを1増やす。
	// 表示用カウンタであり、課金には影響しない。
	IncrementGamesCreated(ctx context.Context, id string) error

	// UpdateSubscription はプラン・サブスクリプション状態を更新する。
	UpdateSubscription(ctx context.Context, id string, tier model.SubscriptionTier, status model.SubscriptionStatus, subscriptionID string) error

	// SetStripeCustomerID はStripe顧客IDを紐付ける。
	SetStripeCustomerID(ctx context.Context, id, customerID string) error

	// Deactivate はアカウントを無効化する。レコードは削除しない。
	Deactivate(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// LedgerRepository はクレジット台帳の永続化インターフェース。
// 残高の変更と台帳エントリの追記は必ず同一トランザクションで行う。
type LedgerRepository interface {
	// Debit は残高を減算し台帳エントリを追記する。
	// credits >= amount の場合のみ成功する条件付きUPDATEで実装し、
	// 同一アカウントへの並行Debitでも残高が負になることはない。
	// 残高不足の場合は(false, nil)を返す（エラーではない）。
	Debit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description string) (bool, error)

	// Credit は残高を加算し台帳エントリを追記する。
	// paymentIntentIDが空でない場合は冪等性キーとして扱い、
	// 同一IDの2回目以降の呼び出しは何もしない（(false, nil)を返す）。
	// 適用された場合は(true, nil)を返す。
	Credit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description, paymentIntentID string) (bool, error)

	// ListByUser はユーザーの台帳エントリを新しい順に返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)
}

// VersionRepository はゲームバージョン（世代）の永続化インターフェース。
type VersionRepository interface {
	// Append は新しい世代を追記する。
	// (user_id, session_id, version_number)の一意制約により番号の再利用を拒否する。
	// 同一トランザクション内で保持上限を超えた古い世代を削除する。
	Append(ctx context.Context, v *model.GameVersion) (string, error)

	// LatestNumber はセッションの最新バージョン番号を返す。世代がなければ0を返す。
	LatestNumber(ctx context.Context, userID, sessionID string) (int, error)

	// ListBySession はセッションの世代を新しい順にlimit件まで返す。
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.GameVersion, error)

	// FindByNumber は指定番号の世代を取得する。見つからない場合はnilを返す。
	FindByNumber(ctx context.Context, userID, sessionID string, number int) (*model.GameVersion, error)

	// DeleteBeyondRetention は全セッションを対象に保持上限を超えた世代を削除する。
	// クリーンアップワーカーからの定期実行用。削除件数を返す。
	DeleteBeyondRetention(ctx context.Context, keep int) (int64, error)
}

// StudioSessionRepository はスタジオセッションの永続化インターフェース。
type StudioSessionRepository interface {
	// FindActiveByUser はユーザーの最新のアクティブセッションを返す。なければnilを返す。
	FindActiveByUser(ctx context.Context, userID string) (*model.StudioSession, error)

	// FindByUserAndSession は指定セッションを返す。見つからない場合はnilを返す。
	FindByUserAndSession(ctx context.Context, userID, sessionID string) (*model.StudioSession, error)

	// Upsert は(user_id, session_id)をキーにセッションを作成または上書きする。
	Upsert(ctx context.Context, s *model.StudioSession) error

	// Deactivate は指定セッションのis_activeをfalseにする。
	Deactivate(ctx context.Context, userID, sessionID string) error

	// DeleteInactiveBefore は指定時刻より前に更新が止まった非アクティブセッションを削除する。
	// クリーンアップワーカーからの定期実行用。削除件数を返す。
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GameRepository は公開ゲーム・スコアボード・プレイ履歴の永続化インターフェース。
type GameRepository interface {
	// Create は公開ゲームを作成する。
	Create(ctx context.Context, g *model.PublishedGame) error

	// FindByID は指定IDの公開ゲームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PublishedGame, error)

	// List は公開ゲームを新しい順にlimit件まで返す。
	List(ctx context.Context, limit int) ([]*model.PublishedGame, error)

	// IncrementPlays はプレイ回数をアトミックに1増やす。
	IncrementPlays(ctx context.Context, id string) error

	// InsertScore はスコアボードにエントリを追記する。
	InsertScore(ctx context.Context, e *model.LeaderboardEntry) error

	// TopScores はゲームの上位スコアを降順にlimit件まで返す。
	TopScores(ctx context.Context, gameID string, limit int) ([]*model.LeaderboardEntry, error)

	// UpsertPlayHistory はプレイ履歴を冪等にUPSERTする。
	// 既存行はplay_countをインクリメントしlast_played_atを更新する。
	UpsertPlayHistory(ctx context.Context, userID, gameID string) error

	// ListPlayHistory はユーザーが最近プレイしたゲームを返す。
	ListPlayHistory(ctx context.Context, userID string, limit int) ([]*model.PublishedGame, error)

	// ToggleSave は保存済みライブラリへの追加/削除を切り替える。追加後の状態を返す。
	ToggleSave(ctx context.Context, userID, gameID string) (bool, error)

	// ListSavedIDs はユーザーが保存したゲームIDの一覧を返す。
	ListSavedIDs(ctx context.Context, userID string) ([]string, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
