package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callbilling/internal/auth"
	"callbilling/internal/calls"
	"callbilling/internal/dispatch"
	"callbilling/internal/enrichment"
	"callbilling/internal/rbac"
	"callbilling/internal/reporting"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (calls.Call, error)
}

type CallReader interface {
	Get(ctx context.Context, id string) (calls.Call, error)
}

type WalletService interface {
	GetBalance(ctx context.Context, organizationID string) (wallet.Balance, error)
	Transactions(ctx context.Context, organizationID string, limit int) ([]wallet.Transaction, error)
	Credit(ctx context.Context, organizationID string, amountMinor int64, reference, description string) (wallet.Transaction, error)
}

type CreditService interface {
	Available(ctx context.Context, organizationID string) (int64, error)
	Grant(ctx context.Context, organizationID string, n int64, reference string) (int64, error)
}

type Enricher interface {
	RequestEnrichment(ctx context.Context, req enrichment.Request) (enrichment.Result, error)
}

type Reports interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
	SpendSummary(ctx context.Context, req reporting.SpendSummaryRequest) (reporting.SpendSummary, error)
}

type AdminAudit interface {
	LogAdminAction(ctx context.Context, organizationID, actorUserID, actorRole, reference, message, metadata string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Dispatcher Dispatcher
	Calls      CallReader
	Wallet     WalletService
	Credits    CreditService
	Enrichment Enricher
	Reports    Reports
	// Audit is optional.
	Audit AdminAudit
}

// identity reads the caller from the access token context. RequireOrganization
// runs before every handler, so a missing organization is a wiring error.
func identity(c *gin.Context) (orgID, userID, role string, ok bool) {
	ctx := c.Request.Context()
	orgID, err := auth.OrganizationID(ctx)
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return "", "", "", false
	}
	userID, _ = auth.UserID(ctx)
	role, _ = auth.Role(ctx)
	return orgID, userID, role, true
}

// --- Calls ---

type dispatchRequest struct {
	PhoneNumber   string `json:"phone_number"`
	ContactID     string `json:"contact_id,omitempty"`
	AgentEndpoint string `json:"agent_endpoint,omitempty"`
}

// DispatchCall places an outbound call for the calling agent.
func (h Handlers) DispatchCall(c *gin.Context) {
	orgID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	call, err := h.Dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		OrganizationID: orgID,
		UserID:         userID,
		ContactID:      req.ContactID,
		PhoneNumber:    req.PhoneNumber,
		AgentEndpoint:  req.AgentEndpoint,
	})
	if err != nil {
		if call.ID != "" {
			c.Header("X-Call-Id", call.ID)
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

// GetCall returns one call of the caller's organization. super_admin may read any call.
func (h Handlers) GetCall(c *gin.Context) {
	orgID, _, role, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if call.OrganizationID != orgID && !rbac.IsSuperAdmin(role) {
		abortWithError(c, calls.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, call)
}

type aiAnalysisRequest struct {
	Action string `json:"action"`
}

// RequestAIAnalysis transcribes and/or summarizes a call against AI credits.
func (h Handlers) RequestAIAnalysis(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	var req aiAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	actions, err := enrichment.ParseActions(req.Action)
	if err != nil {
		abortWithError(c, err)
		return
	}

	res, err := h.Enrichment.RequestEnrichment(c.Request.Context(), enrichment.Request{
		CallID:         c.Param("id"),
		OrganizationID: orgID,
		Actions:        actions,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Wallet ---

func (h Handlers) GetWallet(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 500 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 0 and 500"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	bal, err := h.Wallet.GetBalance(ctx, orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	txs, err := h.Wallet.Transactions(ctx, orgID, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	credits, err := h.Credits.Available(ctx, orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal, "transactions": txs, "ai_credits": credits})
}

// --- Reports ---

// reportRange reads ?from=&to= (RFC3339). Defaults to the last 30 days.
func reportRange(c *gin.Context) (reporting.TimeRange, bool) {
	now := time.Now().UTC()
	r := reporting.TimeRange{From: now.AddDate(0, 0, -30), To: now}
	for key, dst := range map[string]*time.Time{"from": &r.From, "to": &r.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		*dst = t
	}
	return r, true
}

func (h Handlers) CallsReport(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	r, ok := reportRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{OrganizationID: orgID, Range: r})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SpendReport(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	r, ok := reportRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{OrganizationID: orgID, Range: r})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Admin ---

type adminCreditRequest struct {
	// OrganizationID defaults to the caller's; only super_admin may target another.
	OrganizationID string `json:"organization_id,omitempty"`
	AmountMinor    int64  `json:"amount_minor"`
	Credits        int64  `json:"credits"`
	Reason         string `json:"reason"`
	// IdempotencyKey becomes the ledger reference.
	IdempotencyKey string `json:"idempotency_key"`
}

func (h Handlers) adminTarget(c *gin.Context, req *adminCreditRequest) (orgID, userID, role string, ok bool) {
	callerOrg, userID, role, ok := identity(c)
	if !ok {
		return "", "", "", false
	}
	target := strings.TrimSpace(req.OrganizationID)
	if target == "" {
		target = callerOrg
	}
	if target != callerOrg && !rbac.IsSuperAdmin(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", "", "", false
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" || strings.TrimSpace(req.Reason) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reason and idempotency_key required"})
		return "", "", "", false
	}
	return target, userID, role, true
}

// AdminWalletCredit performs a manual wallet top-up.
// RBAC: owner, billing_operator or super_admin.
func (h Handlers) AdminWalletCredit(c *gin.Context) {
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	orgID, userID, role, ok := h.adminTarget(c, &req)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	reference := "admin:" + req.IdempotencyKey
	tx, err := h.Wallet.Credit(ctx, orgID, req.AmountMinor, reference, req.Reason)
	duplicate := errors.Is(err, wallet.ErrDuplicateReference)
	if err != nil && !duplicate {
		abortWithError(c, err)
		return
	}
	if !duplicate {
		h.audit(c, orgID, userID, role, reference, "manual wallet credit: "+req.Reason)
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx, "duplicate": duplicate})
}

// AdminGrantAICredits adds AI credits to an organization.
// RBAC: owner, billing_operator or super_admin.
func (h Handlers) AdminGrantAICredits(c *gin.Context) {
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	orgID, userID, role, ok := h.adminTarget(c, &req)
	if !ok {
		return
	}

	reference := "admin:" + req.IdempotencyKey
	total, err := h.Credits.Grant(c.Request.Context(), orgID, req.Credits, reference)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.audit(c, orgID, userID, role, reference, "ai credit grant: "+req.Reason)
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID, "ai_credits": total})
}

func (h Handlers) audit(c *gin.Context, orgID, userID, role, reference, message string) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogAdminAction(c.Request.Context(), orgID, userID, role, reference, message, ""); err != nil {
		logger.FromGin(c).Warn("audit append failed", "reference", reference, "err", err)
	}
}

// Convenience middleware bundles.

func RequireOrganizationAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOrganization(), rbac.RequireAnyRole(roles...)}
}
