package handlers

import "net/http"

// CreditsBalance returns the caller's current credit balance. Read-only; the
// ledger is topped up by the billing service, never here.
func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Credits.Balance(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: balance query failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, map[string]int64{"balance": balance})
}
