package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/equipets/game/ranking"
	"go.uber.org/zap"
)

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	board  *ranking.Board
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(board *ranking.Board, logger *zap.Logger) *RankingHandler {
	return &RankingHandler{board: board, logger: logger}
}

// TopLevel returns the items sorted by level, then xp.
// GET /api/ranking/level?limit=20
func (h *RankingHandler) TopLevel(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.board.TopN(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("ranking query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}

// RefreshRanking rebuilds the ranking sorted set from the DB.
// Called periodically by the scheduler; also exposed as POST /api/ranking/refresh.
func (h *RankingHandler) RefreshRanking(c *gin.Context) {
	n, err := h.board.Refresh(c.Request.Context())
	if err != nil {
		h.logger.Error("ranking refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}
