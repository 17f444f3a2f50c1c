package server

import (
	"net/http"

	"github.com/jonathan/applymate/internal/types"
)

// PurchaseResponse reports the balance after a purchase. Applied is false
// when the payment had already been recorded.
type PurchaseResponse struct {
	Account *types.CreditAccount `json:"account"`
	Applied bool                 `json:"applied"`
}

// TransactionsResponse lists credit transactions, newest first.
type TransactionsResponse struct {
	Transactions []types.CreditTransaction `json:"transactions"`
	Count        int                       `json:"count"`
}

// handleBalance returns the caller's credit account, granting signup credits
// on first access
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	acct, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, acct)
}

// handlePurchase records credits bought through the payment provider
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req types.PurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.failure(w, r, err)
		return
	}

	acct, applied, err := s.ledger.Purchase(r.Context(), userID, req.Amount, req.PaymentIntentID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	status := http.StatusCreated
	if !applied {
		status = http.StatusOK
	}
	s.jsonResponse(w, status, PurchaseResponse{Account: acct, Applied: applied})
}

// handleTransactions lists the caller's recent credit transactions
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	limit := parseQueryInt(r, "limit", 50, 200)

	txs, err := s.ledger.Transactions(r.Context(), userID, limit)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if txs == nil {
		txs = []types.CreditTransaction{}
	}
	s.jsonResponse(w, http.StatusOK, TransactionsResponse{Transactions: txs, Count: len(txs)})
}
