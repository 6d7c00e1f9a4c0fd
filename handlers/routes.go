package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/logger"
	"github.com/freshgroup/dashboard/backend/middleware"
)

// NewRouter wires the middleware chain and every API route.
func NewRouter(h *Handler, issuer *auth.Issuer, log *logger.Logger, corsOrigins []string) *gin.Engine {
	router := gin.New()

	// CORS must run before auth so preflights are answered
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(log),
		middleware.CORSMiddleware(corsOrigins),
	)

	router.GET("/health", h.Health)

	api := router.Group("/api", middleware.AuthMiddleware(issuer, log))
	viewers := api.Group("", middleware.RequireRoles(auth.RoleAdmin, auth.RoleViewer))
	{
		clusters := viewers.Group("/clusters")
		{
			clusters.GET("", h.GetClusters)
			clusters.POST("/recluster", h.Recluster)
			clusters.GET("/preview", h.Preview)
			clusters.GET("/playground", h.Playground)
			clusters.GET("/pairwise", h.Pairwise)
		}

		viewers.GET("/reports/cluster_playground", h.PlaygroundReport)

		students := viewers.Group("/students")
		{
			students.GET("", h.ListStudents)
			students.PUT("/:id", h.UpdateStudent)
		}
	}

	datasets := api.Group("/datasets", middleware.RequireRoles(auth.RoleAdmin))
	{
		datasets.GET("", h.ListDatasets)
		datasets.POST("/elbow", h.Elbow)
		datasets.POST("/upload", h.UploadDataset)
		datasets.POST("/:id/activate", h.ActivateDataset)
		datasets.DELETE("/:id", h.DeleteDataset)
		datasets.GET("/:id/preview", h.PreviewDataset)
		datasets.GET("/:id/download", h.DownloadDataset)
		datasets.GET("/:id/source", h.DatasetSource)
	}

	return router
}
