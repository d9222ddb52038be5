package wallet

import (
	"context"
	"errors"
	"net/http"

	"callbilling/internal/auth"
	"callbilling/internal/rbac"

	"github.com/gin-gonic/gin"
)

// BalanceService is the minimal wallet service interface needed by middleware.
type BalanceService interface {
	GetBalance(ctx context.Context, organizationID string) (Balance, error)
}

// RequireFundedWallet blocks new dispatches (402) under OverdraftReject when the
// organization's balance cannot cover minMinor (one billable minute).
// Under OverdraftAllow it only checks that the wallet exists.
// super_admin bypasses.
func RequireFundedWallet(svc BalanceService, policy OverdraftPolicy, minMinor int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if rbac.IsSuperAdmin(role) {
			c.Next()
			return
		}

		orgID, err := auth.OrganizationID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), orgID)
		if errors.Is(err, ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "wallet not found"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if policy == OverdraftReject && bal.BalanceMinor < minMinor {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":         "insufficient balance",
				"balance_minor": bal.BalanceMinor,
				"required":      minMinor,
			})
			return
		}
		c.Next()
	}
}
