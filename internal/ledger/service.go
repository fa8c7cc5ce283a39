package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/amm"
	"github.com/rafa-canseco/TokenDistributor/internal/asset"
	"github.com/rafa-canseco/TokenDistributor/internal/feepolicy"
	"github.com/rafa-canseco/TokenDistributor/internal/swap"
)

// Service exposes the ledger engine over HTTP. Admin operations carry the
// caller address in the request body and are rejected unless it matches
// the owner.
type Service struct {
	engine *Engine
	venue  *swap.PoolVenue // nil when the venue is external
}

// NewService creates the HTTP service around an engine. Pass the pool
// venue to enable the pool-seeding endpoints, or nil to hide them.
func NewService(e *Engine, venue *swap.PoolVenue) *Service {
	return &Service{engine: e, venue: venue}
}

// RegisterRoutes mounts the API under the given router.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/transfer", s.Transfer)

	r.Get("/accounts/{address}", s.GetAccount)
	r.Get("/accounts/{address}/balance", s.GetBalance)
	r.Get("/accounts/{address}/unpaid", s.GetUnpaid)
	r.Get("/accounts/{address}/rewards", s.GetRewards)
	r.Get("/holders", s.ListHolders)
	r.Get("/distributor", s.GetDistributor)
	r.Get("/config", s.GetConfig)
	r.Get("/pots", s.ListPots)
	r.Get("/events", s.ListEvents)

	r.Post("/distributor/process", s.Process)
	r.Post("/native/fund", s.FundNative)
	r.Post("/native/withdraw", s.WithdrawNative)

	if s.venue != nil {
		r.Post("/pools", s.SeedPool)
		r.Get("/pools", s.ListPools)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Post("/fee-exempt", s.SetFeeExempt)
		r.Post("/swap-threshold", s.SetSwapThreshold)
		r.Post("/amm-pair", s.SetAMMPair)
		r.Post("/dividend-exempt", s.SetDividendExempt)
		r.Post("/distribution-status", s.SetDistributionStatus)
		r.Post("/distribution-criteria", s.SetDistributionCriteria)
		r.Post("/distributor-gas", s.SetDistributorGas)
		r.Post("/max-tx", s.SetMaxTx)
		r.Delete("/max-tx", s.RemoveMaxTx)
		r.Post("/reflection-token", s.SetReflectionToken)
		r.Post("/reflections/toggle", s.ToggleReflections)
	})
}

// --- Request types ---

// TransferRequest is the JSON body for POST /transfer.
type TransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// AdminRequest carries the fields shared by the admin endpoints. Each
// handler reads the subset it needs.
type AdminRequest struct {
	Caller  string          `json:"caller"`
	Address string          `json:"address,omitempty"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
	Period  *int64          `json:"period_seconds,omitempty"`
	Gas     *int64          `json:"gas,omitempty"`
}

// SeedPoolRequest is the JSON body for POST /pools.
type SeedPoolRequest struct {
	AssetA   string          `json:"asset_a"`
	AssetB   string          `json:"asset_b"`
	ReserveA decimal.Decimal `json:"reserve_a"`
	ReserveB decimal.Decimal `json:"reserve_b"`
}

// FundRequest is the JSON body for POST /native/fund.
type FundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// --- Handlers ---

// Transfer handles POST /api/v1/transfer.
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Transfer(r.Context(), req.From, req.To, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	slog.Info("transfer executed",
		"from", res.From,
		"to", res.To,
		"amount", res.Amount.String(),
		"fee", res.Fee.String(),
	)
	writeJSON(w, http.StatusOK, res)
}

// GetAccount handles GET /api/v1/accounts/{address}.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Account(chi.URLParam(r, "address"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetBalance handles GET /api/v1/accounts/{address}/balance.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.engine.BalanceOf(chi.URLParam(r, "address"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": bal})
}

// GetUnpaid handles GET /api/v1/accounts/{address}/unpaid.
func (s *Service) GetUnpaid(w http.ResponseWriter, r *http.Request) {
	unpaid, err := s.engine.UnpaidEarnings(chi.URLParam(r, "address"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"unpaid": unpaid})
}

// GetRewards handles GET /api/v1/accounts/{address}/rewards.
func (s *Service) GetRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.engine.Rewards(chi.URLParam(r, "address"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if rewards == nil {
		rewards = []RewardView{}
	}
	writeJSON(w, http.StatusOK, rewards)
}

// ListHolders handles GET /api/v1/holders.
func (s *Service) ListHolders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Holders())
}

// GetDistributor handles GET /api/v1/distributor.
func (s *Service) GetDistributor(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Distributor())
}

// GetConfig handles GET /api/v1/config.
func (s *Service) GetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// ListPots handles GET /api/v1/pots.
func (s *Service) ListPots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Pots())
}

// ListEvents handles GET /api/v1/events?limit=N.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.engine.EventLog(r.Context(), limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Process handles POST /api/v1/distributor/process. Anyone may trigger a
// bounded pass; it pays for itself in gas semantics on chain and is
// harmless here.
func (s *Service) Process(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ProcessDistribution(r.Context()); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Distributor())
}

// FundNative handles POST /api/v1/native/fund.
func (s *Service) FundNative(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.FundNative(r.Context(), req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// WithdrawNative handles POST /api/v1/native/withdraw. Owner only.
func (s *Service) WithdrawNative(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	swept, err := s.engine.EmergencyWithdrawNative(r.Context(), req.Caller)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"withdrawn": swept})
}

// SeedPool handles POST /api/v1/pools.
func (s *Service) SeedPool(w http.ResponseWriter, r *http.Request) {
	var req SeedPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.venue.SeedPool(req.AssetA, req.AssetB, req.ReserveA, req.ReserveB); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("pool seeded", "asset_a", req.AssetA, "asset_b", req.AssetB)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// ListPools handles GET /api/v1/pools.
func (s *Service) ListPools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.venue.Pools())
}

// --- Admin handlers ---

func decodeAdmin(w http.ResponseWriter, r *http.Request) (AdminRequest, bool) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// SetFeeExempt handles POST /api/v1/admin/fee-exempt.
func (s *Service) SetFeeExempt(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if req.Enabled == nil {
		writeError(w, "enabled is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.ExcludeFromFee(r.Context(), req.Caller, req.Address, *req.Enabled); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetSwapThreshold handles POST /api/v1/admin/swap-threshold.
func (s *Service) SetSwapThreshold(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.SetSwapTokensAtAmount(r.Context(), req.Caller, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// SetAMMPair handles POST /api/v1/admin/amm-pair.
func (s *Service) SetAMMPair(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if req.Enabled == nil {
		writeError(w, "enabled is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetAutomatedMarketMakerPair(r.Context(), req.Caller, req.Address, *req.Enabled); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetDividendExempt handles POST /api/v1/admin/dividend-exempt.
func (s *Service) SetDividendExempt(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if req.Enabled == nil {
		writeError(w, "enabled is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetIsDividendExempt(r.Context(), req.Caller, req.Address, *req.Enabled); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetDistributionStatus handles POST /api/v1/admin/distribution-status.
func (s *Service) SetDistributionStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if req.Enabled == nil {
		writeError(w, "enabled is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetDistributionStatus(r.Context(), req.Caller, *req.Enabled); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Distributor())
}

// SetDistributionCriteria handles POST /api/v1/admin/distribution-criteria.
func (s *Service) SetDistributionCriteria(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if req.Period == nil {
		writeError(w, "period_seconds is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetDistributionCriteria(r.Context(), req.Caller, *req.Period); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Distributor())
}

// SetDistributorGas handles POST /api/v1/admin/distributor-gas.
func (s *Service) SetDistributorGas(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if req.Gas == nil {
		writeError(w, "gas is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetDistributorGas(r.Context(), req.Caller, *req.Gas); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Distributor())
}

// SetMaxTx handles POST /api/v1/admin/max-tx.
func (s *Service) SetMaxTx(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.AdjustMaxTx(r.Context(), req.Caller, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// RemoveMaxTx handles DELETE /api/v1/admin/max-tx.
func (s *Service) RemoveMaxTx(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.RemoveMaxTx(r.Context(), req.Caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// SetReflectionToken handles POST /api/v1/admin/reflection-token.
func (s *Service) SetReflectionToken(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.SetReflectionToken(r.Context(), req.Caller, req.Address); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// ToggleReflections handles POST /api/v1/admin/reflections/toggle.
func (s *Service) ToggleReflections(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.ToggleReflections(r.Context(), req.Caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeLedgerError maps domain errors to HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		writeError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, feepolicy.ErrLimitExceeded),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, swap.ErrDeadlineExpired):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidConfig):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrUnknownHolder):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, asset.ErrInvalidAddress),
		errors.Is(err, asset.ErrInvalidAsset),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, feepolicy.ErrNonPositiveAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
