// Package model はドメインモデルを定義する。
package model

import "time"

// SubscriptionTier はユーザーの課金プランを表す。
type SubscriptionTier string

const (
	// TierFree は無料プラン。新規ゲームは1つまで、イテレーション不可。
	TierFree SubscriptionTier = "free"
	// TierGameDev は標準プラン。月次2500クレジット付与。
	TierGameDev SubscriptionTier = "gamedev"
	// TierPro は上位プラン。月次15000クレジット付与。
	TierPro SubscriptionTier = "pro"
)

// SubscriptionStatus はStripeサブスクリプションの状態を表す。
type SubscriptionStatus string

const (
	// SubscriptionActive は課金が有効な状態。
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionPastDue は支払い遅延中の状態。
	SubscriptionPastDue SubscriptionStatus = "past_due"
	// SubscriptionCanceled は解約済みの状態。
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// FreeTierGameLimit は無料プランで作成できるゲーム数の上限。
const FreeTierGameLimit = 1

// User はサービス利用ユーザーとクレジット口座を表す。
// creditsの変更は必ずLedgerのアトミックな入出金操作を経由する。
// アカウントは削除せず、退会時はdeactivated_atを設定して無効化する。
type User struct {
	ID                   string
	Email                string
	Name                 string
	Avatar               string
	Tier                 SubscriptionTier
	Credits              int
	GamesCreated         int
	StripeCustomerID     string
	StripeSubscriptionID string
	SubscriptionStatus   SubscriptionStatus
	DeactivatedAt        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CanCreateNewGame はこのユーザーが新規ゲームを作成できるかを返す。
// 無料プランはゲーム1つまで。有料プランは制限なし（クレジット残高で制御）。
func (u *User) CanCreateNewGame() bool {
	if u.Tier == TierFree {
		return u.GamesCreated < FreeTierGameLimit
	}
	return true
}

// CanIterate はこのユーザーが既存ゲームのイテレーションを行えるかを返す。
// イテレーションは有料プラン限定。
func (u *User) CanIterate() bool {
	return u.Tier != TierFree
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// SPAからはHTTP Only CookieまたはAuthorization: Bearerヘッダーで送信される。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
