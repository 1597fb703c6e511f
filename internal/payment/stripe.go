// Package payment はStripeによるサブスクリプションとクレジット購入を提供する。
package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
	billingportalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
)

// Plan は購入可能な商品の論理名。
type Plan string

const (
	PlanGameDev  Plan = "gamedev"
	PlanPro      Plan = "pro"
	PlanFuelPack Plan = "fuelpack"
)

// Config はStripe連携の設定。
type Config struct {
	SecretKey       string
	WebhookSecret   string
	PriceGameDev    string
	PricePro        string
	PriceFuelPack   string
	CheckoutSuccess string
	CheckoutCancel  string
	PortalReturn    string
}

// Service はStripeのチェックアウト・ポータルセッション生成を担う。
type Service struct {
	cfg      Config
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// Stripe APIキーはプロセス全体で共有されるグローバル設定になる。
func NewService(cfg Config, userRepo repository.UserRepository, logger *slog.Logger) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{
		cfg:      cfg,
		userRepo: userRepo,
		logger:   logger,
	}
}

// WebhookSecret はWebhook署名検証用のシークレットを返す。
func (s *Service) WebhookSecret() string {
	return s.cfg.WebhookSecret
}

func (s *Service) priceFor(plan Plan) (priceID string, isSubscription bool, err error) {
	switch plan {
	case PlanGameDev:
		return s.cfg.PriceGameDev, true, nil
	case PlanPro:
		return s.cfg.PricePro, true, nil
	case PlanFuelPack:
		return s.cfg.PriceFuelPack, false, nil
	default:
		return "", false, model.NewInvalidRequestError(fmt.Sprintf("unknown plan: %s", plan))
	}
}

// CreateCheckout は指定プランのチェックアウトセッションを作成し、
// リダイレクト先URLを返す。ユーザーIDはメタデータに載せ、Webhookで
// 台帳へのクレジット付与に使う。
func (s *Service) CreateCheckout(ctx context.Context, userID string, plan Plan) (string, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return "", model.NewUnauthorizedError()
	}

	priceID, isSubscription, err := s.priceFor(plan)
	if err != nil {
		return "", err
	}
	if priceID == "" {
		return "", model.NewPaymentFailedError("price is not configured for this plan")
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.cfg.CheckoutSuccess),
		CancelURL:  stripe.String(s.cfg.CheckoutCancel),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("user_id", userID)
	params.AddMetadata("plan", string(plan))

	if isSubscription {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		// 月次リフィルのWebhookでもユーザーを特定できるように
		// サブスクリプション自体にもメタデータを複製しておく
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": userID,
				"plan":    string(plan),
			},
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
	}

	if user.StripeCustomerID != "" {
		params.Customer = stripe.String(user.StripeCustomerID)
	} else if user.Email != "" {
		params.CustomerEmail = stripe.String(user.Email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		s.logger.Error("checkout session creation failed",
			slog.String("user_id", userID),
			slog.String("plan", string(plan)),
			slog.String("error", err.Error()),
		)
		return "", model.NewPaymentFailedError("failed to create checkout session")
	}

	return sess.URL, nil
}

// CreatePortal は請求ポータルセッションを作成し、リダイレクト先URLを返す。
// Stripe顧客IDを持たないユーザーは購入履歴がないため弾く。
func (s *Service) CreatePortal(ctx context.Context, userID string) (string, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return "", model.NewUnauthorizedError()
	}
	if user.StripeCustomerID == "" {
		return "", model.NewInvalidRequestError("no billing history")
	}

	sess, err := billingportalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.PortalReturn),
	})
	if err != nil {
		s.logger.Error("billing portal session creation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", model.NewPaymentFailedError("failed to create billing portal session")
	}

	return sess.URL, nil
}

// TierForPlan はプランに対応するサブスクリプションプランを返す。
func TierForPlan(plan Plan) model.SubscriptionTier {
	switch plan {
	case PlanGameDev:
		return model.TierGameDev
	case PlanPro:
		return model.TierPro
	default:
		return model.TierFree
	}
}
