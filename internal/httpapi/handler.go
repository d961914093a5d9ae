package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"tipcast/pkg/errutil"
	"tipcast/pkg/health"
	"tipcast/pkg/middleware"
	"tipcast/services/leaderboard"
	"tipcast/services/tips"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

type Handler struct {
	tips  *tips.Service
	board *leaderboard.Service
}

type Params struct {
	fx.In

	Tips   *tips.Service
	Board  *leaderboard.Service
	Health health.HealthService
}

func NewRouter(p Params) *gin.Engine {
	h := &Handler{tips: p.Tips, board: p.Board}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	v1 := r.Group("/v1")
	{
		v1.POST("/tips", h.submitTip)
		v1.GET("/tips/:id", h.jobStatus)
		v1.GET("/leaderboard", h.leaderboard)
		v1.GET("/users/:id/stats", h.userStats)
	}

	return r
}

type submitTipRequest struct {
	SenderID        string `json:"sender_id" binding:"required"`
	RecipientID     string `json:"recipient_id" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	Message         string `json:"message"`
	SenderWallet    string `json:"sender_wallet"`
	RecipientWallet string `json:"recipient_wallet"`
	Tier            int    `json:"tier"`
}

func (h *Handler) submitTip(c *gin.Context) {
	var req submitTipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	amount, err := strconv.ParseUint(req.Amount, 10, 64)
	if err != nil {
		c.Error(errutil.ValidationFailed("amount must be an unsigned integer string"))
		return
	}

	res, err := h.tips.SubmitTip(c.Request.Context(), tips.SubmitRequest{
		SenderID:        req.SenderID,
		RecipientID:     req.RecipientID,
		Amount:          amount,
		Message:         req.Message,
		SenderAddr:      c.ClientIP(),
		SenderWallet:    req.SenderWallet,
		RecipientWallet: req.RecipientWallet,
		Tier:            req.Tier,
	})
	if err != nil {
		c.Error(err)
		return
	}

	if !res.Accepted {
		if res.RetryAfterSeconds > 0 {
			c.Header("Retry-After", strconv.FormatInt(res.RetryAfterSeconds, 10))
			c.JSON(http.StatusTooManyRequests, res)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}

	c.JSON(http.StatusAccepted, res)
}

func (h *Handler) jobStatus(c *gin.Context) {
	status, err := h.tips.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) leaderboard(c *gin.Context) {
	period := c.DefaultQuery("period", leaderboard.PeriodAll)

	limit := int64(10)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			c.Error(errutil.ValidationFailed("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.board.GetLeaderboard(c.Request.Context(), period, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "entries": entries})
}

func (h *Handler) userStats(c *gin.Context) {
	stats, err := h.board.GetUserStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
