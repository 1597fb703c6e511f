package model

import "time"

// TransactionKind はクレジット変動の種別を表す。
type TransactionKind string

const (
	// TxKindGameGeneration は新規ゲーム生成による消費。
	TxKindGameGeneration TransactionKind = "game_generation"
	// TxKindGameIteration は既存ゲームのイテレーションによる消費。
	TxKindGameIteration TransactionKind = "game_iteration"
	// TxKindSubscriptionRefill はサブスクリプションの月次クレジット付与。
	TxKindSubscriptionRefill TransactionKind = "subscription_refill"
	// TxKindPurchase は都度購入（Fuel Pack）によるクレジット付与。
	TxKindPurchase TransactionKind = "purchase"
	// TxKindRefund は返金によるクレジット付与。
	TxKindRefund TransactionKind = "refund"
)

// Transaction はクレジット台帳の1エントリを表す。
// 台帳は追記専用であり、書き込み後の変更・削除は行わない。
// アカウントの全Transactionのamount合計は常に現在のcreditsと一致する。
type Transaction struct {
	ID     string
	UserID string
	// Amount は符号付きのクレジット変動量。入金は正、出金は負。
	Amount      int
	Kind        TransactionKind
	Description string
	// PaymentIntentID は外部決済との照合ID。
	// 同一IDのクレジット付与は2回適用されない（冪等性キー）。
	PaymentIntentID string
	CreatedAt       time.Time
}
