package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/payment"
)

// webhookPayloadLimit はStripe Webhookボディの読み取り上限（バイト）。
const webhookPayloadLimit = 1 << 16

// BillingService は課金ハンドラーが必要とするインターフェース。
type BillingService interface {
	CreateCheckout(ctx context.Context, userID string, plan payment.Plan) (string, error)
	CreatePortal(ctx context.Context, userID string) (string, error)
}

// WebhookService はStripe Webhookの処理インターフェース。
type WebhookService interface {
	Process(ctx context.Context, payload []byte, sigHeader string) error
}

// BillingHandler はStripe Checkout/Portal/WebhookのHTTPハンドラー。
type BillingHandler struct {
	billing BillingService
	webhook WebhookService
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(billing BillingService, webhook WebhookService) *BillingHandler {
	return &BillingHandler{
		billing: billing,
		webhook: webhook,
	}
}

// Checkout はStripe Checkoutセッションを作成しURLを返す。
// POST /api/billing/checkout {"plan": "gamedev" | "pro" | "fuelpack"}
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var body struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}

	url, err := h.billing.CreateCheckout(r.Context(), userID, payment.Plan(body.Plan))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// Portal はStripe Billing PortalセッションのURLを返す。
// POST /api/billing/portal
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	url, err := h.billing.CreatePortal(r.Context(), userID)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// StripeWebhook はStripeからのWebhookを署名検証の上で処理する。
// 処理失敗時は非2xxを返し、Stripe側の再送に委ねる。
// POST /webhooks/stripe
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhookPayloadLimit))
	if err != nil {
		slog.Error("failed to read webhook payload", slog.String("error", err.Error()))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.webhook.Process(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		slog.Error("webhook processing failed", slog.String("error", err.Error()))
		http.Error(w, "webhook processing failed", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
