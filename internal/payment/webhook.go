package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/hitoshi/playable/internal/ledger"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
)

// WebhookProcessor はStripe Webhookイベントを処理する。
// 全てのクレジット付与は決済IDを冪等性キーとして台帳に記録されるため、
// Stripeからの再送で二重付与されることはない。
type WebhookProcessor struct {
	secret    string
	userRepo  repository.UserRepository
	ledgerSvc *ledger.Service
	logger    *slog.Logger
}

// NewWebhookProcessor はWebhookProcessorの新しいインスタンスを生成する。
func NewWebhookProcessor(secret string, userRepo repository.UserRepository, ledgerSvc *ledger.Service, logger *slog.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		secret:    secret,
		userRepo:  userRepo,
		ledgerSvc: ledgerSvc,
		logger:    logger,
	}
}

// Process は署名を検証してイベントを処理する。
// 署名不正はエラー、未知のイベント種別は無視して成功を返す。
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, p.secret)
	if err != nil {
		return fmt.Errorf("webhook signature verification failed: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		return p.handleInvoicePaymentSucceeded(ctx, event)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		p.logger.Debug("ignoring webhook event", slog.String("type", string(event.Type)))
		return nil
	}
}

// handleCheckoutCompleted は初回購入を処理する。
// サブスクリプションはプラン設定と初回クレジット、単発購入は
// フューエルパックのクレジット付与を行う。
func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	userID := sess.Metadata["user_id"]
	plan := Plan(sess.Metadata["plan"])
	if userID == "" {
		p.logger.Warn("checkout session without user_id metadata", slog.String("session_id", sess.ID))
		return nil
	}

	if sess.Customer != nil && sess.Customer.ID != "" {
		if err := p.userRepo.SetStripeCustomerID(ctx, userID, sess.Customer.ID); err != nil {
			return fmt.Errorf("failed to link stripe customer: %w", err)
		}
	}

	if sess.Mode == stripe.CheckoutSessionModeSubscription {
		tier := TierForPlan(plan)
		subscriptionID := ""
		if sess.Subscription != nil {
			subscriptionID = sess.Subscription.ID
		}
		if err := p.userRepo.UpdateSubscription(ctx, userID, tier, model.SubscriptionActive, subscriptionID); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		amount := ledger.RefillForTier(tier)
		if amount > 0 {
			// 初回分のクレジット。checkout.session IDを冪等性キーに使う。
			_, err := p.ledgerSvc.Credit(ctx, userID, amount, model.TxKindSubscriptionRefill,
				fmt.Sprintf("%s plan initial credits", plan), sess.ID)
			if err != nil {
				return err
			}
		}

		p.logger.Info("subscription activated",
			slog.String("user_id", userID),
			slog.String("tier", string(tier)),
		)
		return nil
	}

	// 単発購入（フューエルパック）
	paymentIntentID := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		paymentIntentID = sess.PaymentIntent.ID
	}
	_, err := p.ledgerSvc.Credit(ctx, userID, ledger.FuelPackCredits, model.TxKindPurchase,
		"fuel pack purchase", paymentIntentID)
	if err != nil {
		return err
	}

	p.logger.Info("fuel pack credited",
		slog.String("user_id", userID),
		slog.Int("amount", ledger.FuelPackCredits),
	)
	return nil
}

// handleInvoicePaymentSucceeded は月次リフィルを処理する。
// 初回請求（subscription_create）はcheckout.session.completedで付与済み
// なのでスキップする。
func (p *WebhookProcessor) handleInvoicePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	if inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
		return nil
	}

	var metadata map[string]string
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		metadata = inv.Parent.SubscriptionDetails.Metadata
	}
	userID := metadata["user_id"]
	plan := Plan(metadata["plan"])
	if userID == "" {
		p.logger.Warn("invoice without user_id metadata", slog.String("invoice_id", inv.ID))
		return nil
	}

	amount := ledger.RefillForTier(TierForPlan(plan))
	if amount == 0 {
		return nil
	}

	applied, err := p.ledgerSvc.Credit(ctx, userID, amount, model.TxKindSubscriptionRefill,
		fmt.Sprintf("%s plan monthly refill", plan), inv.ID)
	if err != nil {
		return err
	}
	if applied {
		p.logger.Info("monthly credits refilled",
			slog.String("user_id", userID),
			slog.Int("amount", amount),
		)
	}
	return nil
}

// handleSubscriptionUpdated はプラン状態の変化を同期する。
func (p *WebhookProcessor) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID := sub.Metadata["user_id"]
	plan := Plan(sub.Metadata["plan"])
	if userID == "" {
		return nil
	}

	status := model.SubscriptionActive
	switch sub.Status {
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		status = model.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		status = model.SubscriptionCanceled
	}

	tier := TierForPlan(plan)
	if status == model.SubscriptionCanceled {
		tier = model.TierFree
	}

	if err := p.userRepo.UpdateSubscription(ctx, userID, tier, status, sub.ID); err != nil {
		return fmt.Errorf("failed to sync subscription: %w", err)
	}

	p.logger.Info("subscription synced",
		slog.String("user_id", userID),
		slog.String("status", string(status)),
	)
	return nil
}

// handleSubscriptionDeleted は解約を処理し、無料プランに戻す。
// 残っているクレジットは没収しない。
func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		return nil
	}

	if err := p.userRepo.UpdateSubscription(ctx, userID, model.TierFree, model.SubscriptionCanceled, ""); err != nil {
		return fmt.Errorf("failed to downgrade subscription: %w", err)
	}

	p.logger.Info("subscription canceled", slog.String("user_id", userID))
	return nil
}
