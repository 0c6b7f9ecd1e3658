package handler

import (
	"errors"
	"net/http"

	"github.com/EM-ade/realmkin-backend-sub000/internal/api/middleware"
	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// StakingHandler serves deposit, claim, withdraw, and position endpoints.
type StakingHandler struct {
	stakingSvc *service.StakingService
}

// NewStakingHandler creates a StakingHandler.
func NewStakingHandler(stakingSvc *service.StakingService) *StakingHandler {
	return &StakingHandler{stakingSvc: stakingSvc}
}

// Deposit godoc
// POST /api/staking/deposit [JWT]
// Body: {"wallet_address":"...","amount":"1000.5","principal_proof_ref":"<sig>","fee_proof_ref":"<sig>"}
func (h *StakingHandler) Deposit(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body struct {
		WalletAddress     string `json:"wallet_address"      binding:"required"`
		Amount            string `json:"amount"              binding:"required"`
		PrincipalProofRef string `json:"principal_proof_ref" binding:"required"`
		FeeProofRef       string `json:"fee_proof_ref"       binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a positive decimal string")
		return
	}

	result, err := h.stakingSvc.Deposit(c.Request.Context(), service.DepositRequest{
		UserID:            userID,
		WalletAddress:     body.WalletAddress,
		Amount:            amount,
		PrincipalProofRef: body.PrincipalProofRef,
		FeeProofRef:       body.FeeProofRef,
	})
	if err != nil {
		respondOperationError(c, err, "could not process deposit")
		return
	}
	respondSuccess(c, http.StatusCreated, result)
}

// Claim godoc
// POST /api/staking/claim [JWT]
// Body: {"fee_proof_ref":"<sig>"}
//
// Blocks until the payout either confirms or is queued for recovery; either
// way the response reports success with the payout status attached.
func (h *StakingHandler) Claim(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body struct {
		FeeProofRef string `json:"fee_proof_ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	result, err := h.stakingSvc.Claim(c.Request.Context(), service.ClaimRequest{
		UserID:      userID,
		FeeProofRef: body.FeeProofRef,
	})
	if err != nil {
		respondOperationError(c, err, "could not process claim")
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Withdraw godoc
// POST /api/staking/withdraw [JWT]
// Body: {"amount":"500","fee_proof_ref":"<sig>"}
func (h *StakingHandler) Withdraw(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body struct {
		Amount      string `json:"amount"        binding:"required"`
		FeeProofRef string `json:"fee_proof_ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a positive decimal string")
		return
	}

	result, err := h.stakingSvc.Withdraw(c.Request.Context(), service.WithdrawRequest{
		UserID:      userID,
		Amount:      amount,
		FeeProofRef: body.FeeProofRef,
	})
	if err != nil {
		respondOperationError(c, err, "could not process withdrawal")
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// GetPosition godoc
// GET /api/staking/position [JWT]
func (h *StakingHandler) GetPosition(c *gin.Context) {
	userID := middleware.GetUserID(c)

	pos, err := h.stakingSvc.GetPosition(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrPositionNotFound) {
			respondError(c, http.StatusNotFound, "ERR_POSITION_NOT_FOUND", "no staking position for this user")
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch position")
		return
	}
	respondSuccess(c, http.StatusOK, pos)
}

// GetOperations godoc
// GET /api/staking/operations?page=1&limit=20 [JWT]
func (h *StakingHandler) GetOperations(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	ops, err := h.stakingSvc.ListOperations(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch operations")
		return
	}
	respondList(c, ops, len(ops), page, limit)
}

// GetPoolState godoc
// GET /api/staking/pool (public)
func (h *StakingHandler) GetPoolState(c *gin.Context) {
	pool, err := h.stakingSvc.GetPoolState(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch pool state")
		return
	}
	respondSuccess(c, http.StatusOK, pool)
}

// ── error mapping ────────────────────────────────────────────────────────────

// respondOperationError maps domain errors of the three mutating operations to
// HTTP statuses. Wrapped errors are matched with errors.Is since the service
// layer annotates everything with call-site context.
func respondOperationError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrAmountNotPositive):
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", err.Error())
	case errors.Is(err, domain.ErrInvalidWalletAddress):
		respondError(c, http.StatusBadRequest, "ERR_INVALID_WALLET", err.Error())
	case errors.Is(err, domain.ErrInvalidProofRef):
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PROOF_REF", err.Error())
	case errors.Is(err, domain.ErrDuplicateOperation):
		respondError(c, http.StatusConflict, "ERR_DUPLICATE_OPERATION", "fee proof already consumed")
	case errors.Is(err, domain.ErrVerificationFailed):
		respondError(c, http.StatusUnprocessableEntity, "ERR_VERIFICATION_FAILED", err.Error())
	case errors.Is(err, domain.ErrTransientLookup):
		respondError(c, http.StatusServiceUnavailable, "ERR_PROOF_NOT_VISIBLE", "proof transaction not yet visible, retry shortly")
	case errors.Is(err, domain.ErrPositionNotFound):
		respondError(c, http.StatusNotFound, "ERR_POSITION_NOT_FOUND", "no staking position for this user")
	case errors.Is(err, domain.ErrInsufficientPrincipal):
		respondError(c, http.StatusBadRequest, "ERR_INSUFFICIENT_PRINCIPAL", err.Error())
	case errors.Is(err, domain.ErrNothingToClaim):
		respondError(c, http.StatusConflict, "ERR_NOTHING_TO_CLAIM", err.Error())
	case errors.Is(err, domain.ErrInsufficientCustodyFunds):
		respondError(c, http.StatusServiceUnavailable, "ERR_CUSTODY_UNDERFUNDED", "treasury cannot cover the payout right now")
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
	}
}
