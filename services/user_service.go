package services

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"huddle_back_end_go/apperrors"
	"huddle_back_end_go/auth"
	"huddle_back_end_go/models"
)

const tokenTTL = 24 * time.Hour

type registerRequest struct {
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterUser handles POST /api/v1/users/register.
func RegisterUser(c *gin.Context, pool *pgxpool.Pool) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.TenantID == "" || req.Username == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id, username, email and password are required"})
		return
	}

	var exists bool
	err := pool.QueryRow(c.Request.Context(),
		`SELECT EXISTS(SELECT 1 FROM tenant_users WHERE tenant_id = $1 AND email = $2)`,
		req.TenantID, req.Email).Scan(&exists)
	if err != nil {
		log.Printf("Error checking email: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if exists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email already exists"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var user models.User
	err = pool.QueryRow(c.Request.Context(), `
		INSERT INTO tenant_users (tenant_id, username, email, hashed_password, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING user_id, created_at`,
		req.TenantID, req.Username, req.Email, string(hashed)).Scan(&user.UserID, &user.CreatedAt)
	if err != nil {
		log.Printf("Error registering user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	user.TenantID = req.TenantID
	user.Username = req.Username
	user.Email = req.Email

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginUser handles POST /api/v1/users/login and issues the bearer token
// the websocket auth event and REST middleware consume.
func LoginUser(c *gin.Context, pool *pgxpool.Pool, verifier *auth.Verifier) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := pool.QueryRow(c.Request.Context(), `
		SELECT user_id, tenant_id, username, email, hashed_password, created_at
		FROM tenant_users
		WHERE tenant_id = $1 AND email = $2`,
		req.TenantID, req.Email).Scan(&user.UserID, &user.TenantID, &user.Username,
		&user.Email, &user.HashedPassword, &user.CreatedAt)
	if err == pgx.ErrNoRows {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		log.Printf("Error fetching user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := verifier.GenerateToken(auth.Identity{
		UserID:   user.UserID,
		TenantID: user.TenantID,
		Username: user.Username,
	}, tokenTTL)
	if err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindInternal, "Internal server error", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}
