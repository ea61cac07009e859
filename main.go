package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"huddle_back_end_go/auth"
	"huddle_back_end_go/config"
	"huddle_back_end_go/db"
	"huddle_back_end_go/routes"
	"huddle_back_end_go/services"
	"huddle_back_end_go/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	pool, err := db.InitDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	defer pool.Close()

	// Redis is optional; without it group fan-out is process-local only,
	// which is fine for a single instance.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
	} else {
		log.Println("REDIS_ADDR not set, broadcasts are process-local")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	store := &services.Store{Pool: pool}

	registry := ws.NewRegistry()
	router := ws.NewRouter(registry, rdb)

	routerCtx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	go router.Run(routerCtx)

	server := &ws.Server{
		Registry: registry,
		Router:   router,
		Presence: ws.NewPresenceTracker(rdb, cfg.PresenceTTL),
		Verifier: verifier,
		Channels: store,
		Messages: store,
		Cfg:      cfg,
	}

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/ws", server.ServeChat)
	r.GET("/ws/presence", server.ServePresence)

	routes.SetupUserRoutes(r, pool, verifier)
	routes.SetupChatRoutes(r, pool, verifier)

	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
