package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"riskwatch/internal/dispatch"
	"riskwatch/internal/evaluation"
	"riskwatch/internal/risk"
	"riskwatch/internal/store"
	"riskwatch/internal/trigger"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type TradeClosedHandler interface {
	OnTradeClosed(ctx context.Context, tradeID int64) error
}

type SweepTrigger interface {
	RunOnce(ctx context.Context, window time.Duration) (evaluation.SweepReport, error)
}

type IncidentService interface {
	List(ctx context.Context, filter store.IncidentFilter) ([]risk.Incident, error)
	Resolve(ctx context.Context, id int64, at time.Time) (*risk.Incident, error)
}

type AccountReader interface {
	FindByID(ctx context.Context, id int64) (*risk.Account, error)
}

type StatsProvider interface {
	Stats() dispatch.Stats
}

const maxSweepMinutes = 7 * 24 * 60

// Router 挂载 /api 下的接口。
type Router struct {
	listener  TradeClosedHandler
	sweeper   SweepTrigger
	incidents IncidentService
	accounts  AccountReader
	stats     StatsProvider
	nowFn     func() time.Time
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		listener:  cfg.Listener,
		sweeper:   cfg.Sweeper,
		incidents: cfg.Incidents,
		accounts:  cfg.Accounts,
		stats:     cfg.Stats,
		nowFn:     time.Now,
	}
}

// Register 将路由挂载到给定分组下；未配置的依赖不注册对应接口。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.listener != nil {
		group.POST("/events/trade-closed", r.handleTradeClosed)
	}
	if r.sweeper != nil {
		group.POST("/sweep", r.handleSweep)
	}
	if r.incidents != nil {
		group.GET("/incidents", r.handleListIncidents)
		group.POST("/incidents/:id/resolve", r.handleResolveIncident)
	}
	if r.accounts != nil {
		group.GET("/accounts/:id", r.handleAccount)
	}
	if r.stats != nil {
		group.GET("/dispatcher/stats", r.handleStats)
	}
}

type tradeClosedRequest struct {
	TradeID int64 `json:"trade_id"`
}

func (r *Router) handleTradeClosed(c *gin.Context) {
	var req tradeClosedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TradeID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trade_id is required"})
		return
	}
	if err := r.listener.OnTradeClosed(c.Request.Context(), req.TradeID); err != nil {
		if errors.Is(err, trigger.ErrEventDropped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "trade_id": req.TradeID})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "trade_id": req.TradeID})
}

func (r *Router) handleSweep(c *gin.Context) {
	var window time.Duration
	if raw := strings.TrimSpace(c.Query("minutes")); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 || minutes > maxSweepMinutes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be between 1 and 10080"})
			return
		}
		window = time.Duration(minutes) * time.Minute
	}
	report, err := r.sweeper.RunOnce(c.Request.Context(), window)
	switch {
	case errors.Is(err, trigger.ErrSweepRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusOK, gin.H{"report": report, "error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"report": report})
	}
}

func (r *Router) handleListIncidents(c *gin.Context) {
	var filter store.IncidentFilter
	var err error
	if filter.AccountID, err = optionalID(c.Query("account_id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
		return
	}
	if filter.RuleID, err = optionalID(c.Query("rule_id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule_id"})
		return
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		switch s := risk.IncidentStatus(status); s {
		case risk.IncidentPending, risk.IncidentProcessed, risk.IncidentActionExecuted:
			filter.Status = s
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = ts.UTC()
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	filter.Limit = limit

	items, err := r.incidents.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]incidentView, 0, len(items))
	for _, inc := range items {
		out = append(out, newIncidentView(inc))
	}
	c.JSON(http.StatusOK, gin.H{"incidents": out, "count": len(out)})
}

func (r *Router) handleResolveIncident(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident id"})
		return
	}
	inc, err := r.incidents.Resolve(c.Request.Context(), id, r.nowFn().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrIncidentNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"incident": newIncidentView(*inc)})
	}
}

func (r *Router) handleAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	acc, err := r.accounts.FindByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              acc.ID,
		"login":           acc.Login,
		"trading_status":  acc.TradingStatus,
		"status":          acc.Status,
		"trading_enabled": acc.TradingEnabled(),
	})
}

func (r *Router) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.stats.Stats())
}

func optionalID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
