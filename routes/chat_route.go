package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"

	"huddle_back_end_go/auth"
	"huddle_back_end_go/services"
)

func SetupChatRoutes(r *gin.Engine, pool *pgxpool.Pool, verifier *auth.Verifier) {
	api := r.Group("/api/v1")
	api.Use(auth.Middleware(verifier))

	api.POST("/channels", func(c *gin.Context) {
		services.CreateChannelHandler(c, pool)
	})

	api.GET("/channels", func(c *gin.Context) {
		services.ListChannelsHandler(c, pool)
	})

	api.GET("/channels/:channelId", func(c *gin.Context) {
		services.GetChannelHandler(c, pool)
	})

	api.GET("/channels/:channelId/messages", func(c *gin.Context) {
		services.ListMessagesHandler(c, pool)
	})

	api.POST("/channels/:channelId/messages", func(c *gin.Context) {
		services.SendMessageHandler(c, pool)
	})

	api.POST("/messages/:messageId/read", func(c *gin.Context) {
		services.MarkReadHandler(c, pool)
	})
}
