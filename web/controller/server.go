package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/web/service"

	"github.com/gin-gonic/gin"
)

const (
	defaultLogCount = 100
	maxLogCount     = 10000
)

// ServerController exposes traffic statistics, logs and reconciliation.
type ServerController struct {
	ctx              context.Context
	statsService     *service.StatsService
	reconcileService *service.ReconcileService
}

// NewServerController registers its routes on g. Background passes run
// under ctx, which outlives any single request.
func NewServerController(ctx context.Context, g *gin.RouterGroup, statsService *service.StatsService, reconcileService *service.ReconcileService) *ServerController {
	a := &ServerController{
		ctx:              ctx,
		statsService:     statsService,
		reconcileService: reconcileService,
	}
	a.initRouter(g)
	return a
}

func (a *ServerController) initRouter(g *gin.RouterGroup) {
	g.GET("/stats", a.getStats)
	g.GET("/logs", a.getLogs)
	g.GET("/routine", a.getRoutine)
	g.POST("/routine", a.startRoutine)
}

// Health answers liveness probes. It needs no API key.
func Health(c *gin.Context) {
	c.Status(http.StatusTeapot)
}

func (a *ServerController) getStats(c *gin.Context) {
	stats, err := a.statsService.GetInboundStats(c.Request.Context())
	if err != nil {
		jsonMsg(c, "get stats", err)
		return
	}
	jsonObj(c, http.StatusOK, stats)
}

func (a *ServerController) getLogs(c *gin.Context) {
	count := defaultLogCount
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			pureJsonMsg(c, http.StatusBadRequest, false, "count must be a positive integer")
			return
		}
		count = min(n, maxLogCount)
	}
	jsonObj(c, http.StatusOK, logger.GetLogs(count, c.Query("level")))
}

func (a *ServerController) getRoutine(c *gin.Context) {
	jsonObj(c, http.StatusOK, a.reconcileService.LastSummary())
}

func (a *ServerController) startRoutine(c *gin.Context) {
	if err := a.reconcileService.StartPass(a.ctx); err != nil {
		jsonMsg(c, "start reconcile pass", err)
		return
	}
	pureJsonMsg(c, http.StatusAccepted, true, "reconcile pass started")
}
