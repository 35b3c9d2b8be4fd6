package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/knightly/internal/app/service/quota"
	"github.com/fatflowers/knightly/pkg/response"
)

// QuotaService is the subset of the quota engine the HTTP layer uses.
type QuotaService interface {
	CheckAndIncrementGameQuota(ctx context.Context, userID string) (*quota.GameQuotaResult, error)
	GetSubscriptionStatus(ctx context.Context, userID string) (*quota.SubscriptionStatus, error)
}

type ConsumeGameQuotaRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// @Summary      Subscription status
// @Description  Tier, trial and monthly quota usage of a user.
// @Tags         Subscription
// @Produce      json
// @Param        user_id query string true "User ID"
// @Success      200  {object}  handlers.RespSubscriptionStatus
// @Router       /api/v1/subscription/status [get]
func ApiSubscriptionStatus(svc QuotaService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}
		res, err := svc.GetSubscriptionStatus(c.Request.Context(), userID)
		if errors.Is(err, quota.ErrUserNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Consume game quota
// @Description  Checks whether the user may create a game and counts it when allowed. A denial answers with code 40200 and the quota result.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        request body ConsumeGameQuotaRequest true "User"
// @Success      200  {object}  handlers.RespGameQuota
// @Router       /api/v1/quota/games [post]
func ApiConsumeGameQuota(svc QuotaService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConsumeGameQuotaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.CheckAndIncrementGameQuota(c.Request.Context(), req.UserID)
		if errors.Is(err, quota.ErrUserNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if !res.Allowed {
			c.JSON(http.StatusOK, response.ErrorT(response.APIResponseCodeUpgradeRequired, res))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, svc QuotaService) {
	r.GET("/subscription/status", ApiSubscriptionStatus(svc))
	r.POST("/quota/games", ApiConsumeGameQuota(svc))
}
