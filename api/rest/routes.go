package rest

import "github.com/gin-gonic/gin"

// Handlers groups the REST handlers mounted under /api.
type Handlers struct {
	Equipment *EquipmentHandler
	Ranking   *RankingHandler
	Admin     *AdminHandler
	// AdminGuard, when set, runs before every admin endpoint.
	AdminGuard gin.HandlerFunc
}

// RegisterRoutes mounts every REST endpoint on api. Nil handlers are skipped.
func RegisterRoutes(api *gin.RouterGroup, h Handlers) {
	if h.Equipment != nil {
		api.GET("/actions", h.Equipment.Actions)

		eqG := api.Group("/equipment")
		eqG.GET("", h.Equipment.List)
		eqG.POST("", h.Equipment.Create)
		eqG.GET("/:id", h.Equipment.Get)
		eqG.GET("/:id/history", h.Equipment.History)
		eqG.POST("/:id/maintenance", h.Equipment.Maintain)
	}

	if h.Ranking != nil {
		rankG := api.Group("/ranking")
		rankG.GET("/level", h.Ranking.TopLevel)
		rankG.POST("/refresh", h.Ranking.RefreshRanking)
	}

	if h.Admin != nil {
		adminG := api.Group("/admin")
		if h.AdminGuard != nil {
			adminG.Use(h.AdminGuard)
		}
		adminG.GET("/metrics", h.Admin.Metrics)
		adminG.GET("/scheduler", h.Admin.ListSchedulerTasks)
		adminG.GET("/audit", h.Admin.AuditLog)
		adminG.POST("/decay", h.Admin.Decay)
		adminG.POST("/process", h.Admin.Process)
	}
}
