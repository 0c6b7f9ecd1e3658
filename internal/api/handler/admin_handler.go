package handler

import (
	"net/http"

	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/service"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the failed-settlement recovery queue to operators.
// Resolution of entries stays with the reconcile CLI; the HTTP surface is
// read-only.
type AdminHandler struct {
	stakingSvc *service.StakingService
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(stakingSvc *service.StakingService) *AdminHandler {
	return &AdminHandler{stakingSvc: stakingSvc}
}

// ListFailedSettlements godoc
// GET /api/admin/failed-settlements?status=PENDING_RECOVERY&page=1&limit=50 [JWT+admin]
func (h *AdminHandler) ListFailedSettlements(c *gin.Context) {
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	status := domain.FailedSettlementStatus(c.Query("status"))
	switch status {
	case "", domain.RecoveryPending, domain.RecoveryRecovered, domain.RecoveryAbandoned:
	default:
		respondError(c, http.StatusBadRequest, "ERR_INVALID_STATUS", "unknown recovery status")
		return
	}

	rows, err := h.stakingSvc.ListFailedSettlements(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch failed settlements")
		return
	}
	respondList(c, rows, len(rows), page, limit)
}
