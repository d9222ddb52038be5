package main

import (
	"net/http"
	"time"

	"callbilling/internal/app"
	"callbilling/internal/auth"
	"callbilling/internal/httpapi"
	"callbilling/internal/rbac"
	"callbilling/internal/telephony"
	"callbilling/internal/wallet"
	"callbilling/pkg/metrics"
	"callbilling/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, deps healthDeps) {
	cfg := a.Config

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	// Provider webhooks (public, signature protected when enabled).
	{
		twilio := r.Group("")
		if cfg.Twilio.ValidateSignature {
			twilio.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL))
		}
		h := httpapi.TwilioWebhooks{Reconciler: a.Reconciler}
		twilio.POST(telephony.PathVoiceWebhook, h.Voice)
		twilio.POST(telephony.PathStatusWebhook, h.Status)
		twilio.POST(telephony.PathRecordingWebhook, h.Recording)

		r.POST("/webhooks/stripe", httpapi.StripeWebhook(a.Stripe))
	}

	h := httpapi.Handlers{
		Dispatcher: a.Dispatcher,
		Calls:      a.Calls,
		Wallet:     a.Wallet,
		Credits:    a.Credits,
		Enrichment: a.Enrichment,
		Reports:    a.Reports,
		Audit:      a.Audit,
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.Auth), rbac.RequireOrganization())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			oid, _ := auth.OrganizationID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "organization_id": oid, "role": role})
		})

		// CALLS routes
		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent),
				wallet.RequireFundedWallet(a.Wallet, a.Wallet.Policy(), cfg.Billing.RatePerMinuteMinor),
				h.DispatchCall,
			)
			callsGroup.GET("/:id",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleAnalyst, rbac.RoleFinance),
				h.GetCall,
			)
			callsGroup.POST("/:id/ai-analysis",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleAnalyst),
				h.RequestAIAnalysis,
			)
		}

		// WALLET routes
		v1.GET("/wallet", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleFinance, rbac.RoleAgent), h.GetWallet)

		// REPORTS routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleFinance))
		{
			reports.GET("/calls", h.CallsReport)
			reports.GET("/spend", h.SpendReport)
		}

		// ADMIN routes
		// billing_operator is opt-in and only granted here.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleBillingOperator))
		{
			admin.POST("/wallet/credit", h.AdminWalletCredit)
			admin.POST("/ai-credits", h.AdminGrantAICredits)
		}
	}
}
