package handlers

import (
	"errors"
	"net/http"
	"time"

	"reelforge/internal/domain"
)

type transactionResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	RelatedJobID string    `json:"related_job_id,omitempty"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreditsBalance reports the caller's current balance. An account that has
// never been granted credits reads as zero.
func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.Logger.Error().Err(err).Msg("api: balance read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"balance": balance})
}

// CreditsTransactions lists the caller's recent ledger entries.
func (a *App) CreditsTransactions(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	entries, err := a.Ledger.ListTransactions(r.Context(), userID, 50)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: transaction list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list transactions")
		return
	}
	items := make([]transactionResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, transactionResponse{
			ID:           entry.ID,
			Type:         string(entry.Type),
			Amount:       entry.Amount,
			BalanceAfter: entry.BalanceAfter,
			RelatedJobID: entry.RelatedJobID,
			Description:  entry.Description,
			CreatedAt:    entry.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
