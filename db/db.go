package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
)

func InitDatabase() (*pgxpool.Pool, error) {

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	host := os.Getenv("DATABASE_HOST")
	port := os.Getenv("DATABASE_PORT")
	user := os.Getenv("DATABASE_USER")
	password := os.Getenv("DATABASE_PASSWORD")
	databaseName := os.Getenv("DATABASE_NAME")

	config, err := pgxpool.ParseConfig(" host=" + host + " port=" + port + " user=" + user + " password=" + password + " database=" + databaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	conn, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// Create tables. Every chat table carries tenant_id and every query
	// filters on it; user identity is an opaque tenant-scoped id, so no
	// foreign keys point at tenant_users.
	sqlQueries := []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

		`CREATE TABLE IF NOT EXISTS tenant_users (
			user_id uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
			tenant_id VARCHAR(100) NOT NULL,
			username VARCHAR(150) NOT NULL,
			email VARCHAR(190) NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, email)
		)`,

		`CREATE TABLE IF NOT EXISTS chat_channels (
			id uuid PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			channel_type VARCHAR(20) NOT NULL,
			name VARCHAR(255),
			host_application_id VARCHAR(100),
			context_object_type VARCHAR(100),
			context_object_id VARCHAR(255),
			created_by uuid NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// One contextual channel per external object per tenant.
		`CREATE UNIQUE INDEX IF NOT EXISTS unique_contextual_chat
			ON chat_channels (tenant_id, host_application_id, context_object_type, context_object_id)
			WHERE host_application_id IS NOT NULL
			AND context_object_type IS NOT NULL
			AND context_object_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS channel_participants (
			id BIGSERIAL PRIMARY KEY,
			channel_id uuid NOT NULL REFERENCES chat_channels (id),
			user_id uuid NOT NULL,
			tenant_id VARCHAR(100) NOT NULL,
			role VARCHAR(10) NOT NULL DEFAULT 'member',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (channel_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_channel_participants_user
			ON channel_participants (tenant_id, user_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id uuid PRIMARY KEY,
			channel_id uuid NOT NULL REFERENCES chat_channels (id),
			user_id uuid NOT NULL,
			tenant_id VARCHAR(100) NOT NULL,
			content TEXT NOT NULL,
			parent_id uuid,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_channel_created
			ON messages (channel_id, created_at DESC, id DESC)`,

		`CREATE TABLE IF NOT EXISTS message_read_status (
			message_id uuid NOT NULL REFERENCES messages (id),
			user_id uuid NOT NULL,
			tenant_id VARCHAR(100) NOT NULL,
			read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,
	}

	for _, query := range sqlQueries {
		if _, err := conn.Exec(context.Background(), query); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute schema query: %v", err)
		}
	}

	return conn, nil
}
