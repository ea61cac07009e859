package models

import (
	"time"
)

type User struct {
	UserID         string    `json:"user_id"`
	TenantID       string    `json:"tenant_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
