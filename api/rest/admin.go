package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/game/care"
	"github.com/kasuganosora/equipets/scheduler"
	"github.com/kasuganosora/equipets/store"
	"go.uber.org/zap"
)

// AdminHandler handles operator endpoints: metrics, scheduler state and
// manual triggers of the background jobs.
type AdminHandler struct {
	store       *store.Store
	care        *care.Service
	sched       *scheduler.Scheduler
	audit       *audit.Service
	decayPeriod time.Duration
	logger      *zap.Logger
}

// NewAdminHandler creates an AdminHandler. auditSvc may be nil.
func NewAdminHandler(
	st *store.Store,
	svc *care.Service,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	decayPeriod time.Duration,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		store:       st,
		care:        svc,
		sched:       sched,
		audit:       auditSvc,
		decayPeriod: decayPeriod,
		logger:      logger,
	}
}

// Metrics returns service health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()
	equipment, err := h.store.CountEquipment(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	pending, err := h.store.CountPending(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	lastDecay, err := h.care.LastDecay(ctx)
	if err != nil {
		h.logger.Warn("read last decay failed", zap.Error(err))
	}
	resp := gin.H{
		"equipment":       equipment,
		"pending_logs":    pending,
		"policy":          h.care.Policy().Name(),
		"last_decay":      lastDecay,
		"scheduler_tasks": h.sched.ListTickers(),
	}
	if h.audit != nil {
		resp["audit_dropped"] = h.audit.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

// ListSchedulerTasks returns all registered ticker tasks with run statistics.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// Decay runs the gated decay tick for the current period.
// POST /api/admin/decay
func (h *AdminHandler) Decay(c *gin.Context) {
	sum, ran, err := h.care.DecayTick(c.Request.Context(), h.decayPeriod)
	if err != nil {
		h.logger.Error("admin decay failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ran {
		c.JSON(http.StatusOK, gin.H{"ran": false, "reason": "decay already ran this period"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ran": true, "summary": sum})
}

// Process applies pending maintenance log entries.
// POST /api/admin/process
func (h *AdminHandler) Process(c *gin.Context) {
	sum, err := h.care.ProcessPending(c.Request.Context())
	if err != nil {
		h.logger.Error("admin process failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// AuditLog returns recent audit rows, optionally for one machine.
// GET /api/admin/audit?machine_id=FL-01&limit=50
func (h *AdminHandler) AuditLog(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit disabled"})
		return
	}
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	rows, err := h.audit.Recent(c.Request.Context(), c.Query("machine_id"), limit)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows})
}
