package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"linkdrop/internal/middleware/requestid"
)

// NewRouter mounts the link endpoints, health check and swagger UI.
func NewRouter(handler *Handler) *gin.Engine {
	r := gin.New()
	r.Use(requestid.New(), gin.Logger(), gin.Recovery())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/healthz", handler.Health)

	r.POST("/send", handler.Send)
	r.GET("/view/:token", handler.View)
	r.GET("/image/:token", handler.Image)

	return r
}
