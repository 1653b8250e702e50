package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/equipets/game/care"
	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/model"
	"github.com/kasuganosora/equipets/store"
	"go.uber.org/zap"
)

// EquipmentHandler handles the equipment list, care actions and history.
type EquipmentHandler struct {
	store  *store.Store
	care   *care.Service
	logger *zap.Logger
}

// NewEquipmentHandler creates an EquipmentHandler.
func NewEquipmentHandler(st *store.Store, svc *care.Service, logger *zap.Logger) *EquipmentHandler {
	return &EquipmentHandler{store: st, care: svc, logger: logger}
}

// EquipmentView is one item as shown in the equipment list.
type EquipmentView struct {
	care.EquipmentStatus
	Name      string `json:"machine_name"`
	StatusNow string `json:"status_now"`
}

func viewOf(st care.EquipmentStatus, eq *model.Equipment) EquipmentView {
	v := EquipmentView{EquipmentStatus: st}
	if eq != nil {
		v.Name = eq.Name
		v.StatusNow = eq.StatusNow
	}
	return v
}

// respondError maps domain errors to HTTP status codes.
func (h *EquipmentHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "equipment not found"})
	case errors.Is(err, care.ErrMissingField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "machine_id already exists"})
	default:
		h.logger.Error("equipment request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
	}
}

// List returns every item with its progression and condition.
// GET /api/equipment
func (h *EquipmentHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	statuses, err := h.care.Statuses(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rows, err := h.store.ListEquipment(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	byID := make(map[string]*model.Equipment, len(rows))
	for i := range rows {
		byID[rows[i].MachineID] = &rows[i]
	}
	out := make([]EquipmentView, len(statuses))
	for i, st := range statuses {
		out[i] = viewOf(st, byID[st.MachineID])
	}
	c.JSON(http.StatusOK, gin.H{"equipment": out, "count": len(out)})
}

// Get returns one item.
// GET /api/equipment/:id
func (h *EquipmentHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	eq, err := h.store.GetEquipment(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	st, err := h.care.Status(ctx, eq.MachineID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(*st, eq))
}

// Create registers a new item at baseline progression.
// POST /api/equipment
func (h *EquipmentHandler) Create(c *gin.Context) {
	var req struct {
		MachineID string `json:"machine_id"`
		Name      string `json:"machine_name"`
		StatusNow string `json:"status_now"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	id := strings.TrimSpace(req.MachineID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine_id is required"})
		return
	}
	eq := model.NewEquipment(id, strings.TrimSpace(req.Name))
	eq.StatusNow = strings.TrimSpace(req.StatusNow)
	if err := h.store.CreateEquipment(c.Request.Context(), eq); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("equipment created", zap.String("machine_id", id))
	c.JSON(http.StatusCreated, eq)
}

// Maintain logs a care action and applies it immediately.
// POST /api/equipment/:id/maintenance {"action": "給油"}
func (h *EquipmentHandler) Maintain(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Action) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}
	res, err := h.care.RecordMaintenance(c.Request.Context(), c.Param("id"), req.Action)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := res.Outcome
	_, needed := pet.Progress(h.care.Policy(), out.Record)
	c.JSON(http.StatusOK, gin.H{
		"machine_id":    out.Record.ID,
		"action":        res.Event.Action,
		"leveled_up":    out.LeveledUp,
		"levels_gained": out.LevelsGained,
		"new_level":     out.Record.Level,
		"new_xp":        out.Record.XP,
		"xp_to_next":    needed,
		"xp_gained":     out.XPGained,
		"health":        out.Record.Health,
	})
}

// History returns the maintenance log of one item, newest first.
// GET /api/equipment/:id/history?limit=50
func (h *EquipmentHandler) History(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.store.GetEquipment(ctx, id); err != nil {
		h.respondError(c, err)
		return
	}
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	rows, err := h.store.History(ctx, id, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine_id": id, "history": rows})
}

// Actions returns the care catalog for the care dialog.
// GET /api/actions
func (h *EquipmentHandler) Actions(c *gin.Context) {
	p := h.care.Policy()
	c.JSON(http.StatusOK, gin.H{
		"policy":     p.Name(),
		"actions":    h.care.ActionCatalog(),
		"default_xp": p.XPFor(""),
	})
}
