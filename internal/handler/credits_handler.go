package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/playable/internal/ledger"
	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
)

// CreditsHandler はクレジット残高・履歴のHTTPハンドラー。
type CreditsHandler struct {
	ledgerSvc *ledger.Service
}

// NewCreditsHandler はCreditsHandlerを生成する。
func NewCreditsHandler(ledgerSvc *ledger.Service) *CreditsHandler {
	return &CreditsHandler{ledgerSvc: ledgerSvc}
}

// transactionResponse は台帳エントリのJSON表現。
type transactionResponse struct {
	ID          string    `json:"id"`
	Amount      int       `json:"amount"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Get は残高と直近の取引履歴を返す。
// GET /api/credits?limit=n
func (h *CreditsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	balance, err := h.ledgerSvc.Balance(r.Context(), userID)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transactions, err := h.ledgerSvc.History(r.Context(), userID, limit)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	items := make([]transactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		items = append(items, transactionResponse{
			ID:          tx.ID,
			Amount:      tx.Amount,
			Kind:        string(tx.Kind),
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"credits":      balance,
		"costs":        map[string]int{"newGame": ledger.CostNewGame, "iteration": ledger.CostIteration},
		"transactions": items,
	})
}
