package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/codemage/backend/config"
	"github.com/codemage/backend/internal/handler"
)

func Setup(
	cfg *config.Config,
	genHandler *handler.GenerationHandler,
	configHandler *handler.ConfigHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	api := r.Group("/api")
	{
		gens := api.Group("/generations")
		{
			gens.POST("", genHandler.Start)
			gens.GET("/active", genHandler.Active)
			gens.GET("/status", genHandler.Status)
			gens.GET("/:id", genHandler.Get)
			gens.POST("/active/approve", genHandler.Approve)
			gens.POST("/active/reject", genHandler.Reject)
			gens.POST("/active/modify", genHandler.Modify)
		}

		api.GET("/config", configHandler.Get)
	}

	return r
}
