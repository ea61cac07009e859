package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"

	"huddle_back_end_go/auth"
	"huddle_back_end_go/services"
)

func SetupUserRoutes(r *gin.Engine, pool *pgxpool.Pool, verifier *auth.Verifier) {
	r.POST("/api/v1/users/register", func(c *gin.Context) {
		services.RegisterUser(c, pool)
	})

	r.POST("/api/v1/users/login", func(c *gin.Context) {
		services.LoginUser(c, pool, verifier)
	})
}
