// Package api provides the HTTP handlers and WebSocket hub that expose the
// paper engine: opening and closing positions, wallet operations, and live
// price/P&L streaming.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/engine"
	"github.com/cdex/paper-engine/internal/feed"
	"github.com/cdex/paper-engine/internal/model"
	"github.com/cdex/paper-engine/internal/risk"
	"github.com/cdex/paper-engine/internal/wallet"
)

// Service wires the engine and the price feed to HTTP.
type Service struct {
	engine *engine.Engine
	feed   *feed.Adapter
	hub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates the API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(eng *engine.Engine, fd *feed.Adapter, hub *WSHub) *Service {
	return &Service{engine: eng, feed: fd, hub: hub}
}

// Routes mounts all API routes on r.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/assets", s.ListAssets)

	r.Post("/positions", s.OpenPosition)
	r.Get("/positions", s.ListPositions)
	r.Post("/positions/{positionID}/close", s.ClosePosition)
	r.Get("/portfolio", s.GetPortfolio)

	r.Get("/wallet", s.GetWallet)
	r.Get("/wallet/transactions", s.ListTransactions)
	r.Post("/wallet/stake", s.Stake)
	r.Post("/wallet/unstake", s.Unstake)
	r.Post("/wallet/vault", s.Vault)
	r.Post("/wallet/claim", s.Claim)
	r.Post("/wallet/intent", s.ExecuteIntent)
}

// --- Request types ---

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	AssetID   string          `json:"asset_id"`
	Side      model.Side      `json:"side"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Leverage  int             `json:"leverage"`
}

// AmountRequest is the JSON body for stake/unstake.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// VaultRequest is the JSON body for POST /wallet/vault.
type VaultRequest struct {
	VaultName string          `json:"vault_name"`
	Direction string          `json:"direction"` // "deposit" or "withdraw"
	Amount    decimal.Decimal `json:"amount"`
}

// IntentRequest is the JSON body for POST /wallet/intent.
type IntentRequest struct {
	IntentName string          `json:"intent_name"`
	AmountUSD  decimal.Decimal `json:"amount_usd"`
}

// --- Handlers ---

// ListAssets handles GET /api/v1/assets
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.feed.Status(),
		"assets": s.feed.Snapshot(),
	})
}

// OpenPosition handles POST /api/v1/positions.
// Executes at the feed's current mark price.
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}
	if !req.AmountUSD.IsPositive() {
		writeError(w, "amount_usd must be positive", http.StatusBadRequest)
		return
	}

	asset, ok := s.feed.Asset(req.AssetID)
	if !ok {
		writeError(w, "unknown asset: "+req.AssetID, http.StatusNotFound)
		return
	}

	p, err := s.engine.OpenPosition(r.Context(), req.AssetID, req.Side, req.AmountUSD, req.Leverage, asset.Price)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close.
// Settles at the feed's current mark price; a repeated close of the same
// id returns 404 with no side effects.
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "positionID")

	// Resolve the mark price for the position's asset. An unknown id falls
	// through with a zero price; the engine reports not-found before any
	// computation.
	price := decimal.Zero
	for _, v := range s.engine.Positions() {
		if v.ID == id {
			price = v.MarkPrice
			break
		}
	}

	result, err := s.engine.ClosePosition(r.Context(), id, price)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	views := s.engine.Positions()
	if views == nil {
		views = []engine.PositionView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPortfolio handles GET /api/v1/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Portfolio())
}

// GetWallet handles GET /api/v1/wallet
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":         s.engine.Balance(),
		"staked":          s.engine.Staked(),
		"pending_rewards": s.engine.PendingRewards(),
	})
}

// ListTransactions handles GET /api/v1/wallet/transactions
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs := s.engine.Transactions()
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Stake handles POST /api/v1/wallet/stake
func (s *Service) Stake(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.Stake(r.Context(), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Unstake handles POST /api/v1/wallet/unstake
func (s *Service) Unstake(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.Unstake(r.Context(), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Vault handles POST /api/v1/wallet/vault
func (s *Service) Vault(w http.ResponseWriter, r *http.Request) {
	var req VaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.VaultName == "" {
		writeError(w, "vault_name is required", http.StatusBadRequest)
		return
	}

	var (
		tx  model.Transaction
		err error
	)
	switch req.Direction {
	case "deposit":
		tx, err = s.engine.VaultDeposit(r.Context(), req.VaultName, req.Amount)
	case "withdraw":
		tx, err = s.engine.VaultWithdraw(r.Context(), req.VaultName, req.Amount)
	default:
		writeError(w, "direction must be deposit or withdraw", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ExecuteIntent handles POST /api/v1/wallet/intent
func (s *Service) ExecuteIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.IntentName == "" {
		writeError(w, "intent_name is required", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.ExecuteIntent(r.Context(), req.IntentName, req.AmountUSD)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Claim handles POST /api/v1/wallet/claim
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	tx, err := s.engine.ClaimRewards(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// --- Helpers ---

// writeEngineError maps engine errors to HTTP statuses. Insufficient funds
// and limit violations are recoverable client conditions, not server
// failures.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrPositionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrUnknownAsset):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInsufficientStake),
		errors.Is(err, engine.ErrInsufficientVault),
		errors.Is(err, engine.ErrNoRewards),
		errors.Is(err, risk.ErrLeverageExceeded),
		errors.Is(err, risk.ErrPerAssetMarginExceeded),
		errors.Is(err, risk.ErrTotalMarginExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusBadRequest)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
