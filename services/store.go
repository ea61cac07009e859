package services

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"huddle_back_end_go/models"
)

// Store adapts the pool-backed service functions to the narrow interfaces
// the websocket layer consumes.
type Store struct {
	Pool *pgxpool.Pool
}

func (s *Store) IsParticipant(ctx context.Context, tenantID, channelID, userID string) (bool, error) {
	return IsParticipant(ctx, s.Pool, tenantID, channelID, userID)
}

func (s *Store) ContactsForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	return ContactsForUser(ctx, s.Pool, tenantID, userID)
}

func (s *Store) Append(ctx context.Context, tenantID, channelID, userID, content string) (models.Message, error) {
	return AppendMessage(ctx, s.Pool, AppendMessageParams{
		TenantID:  tenantID,
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
	})
}
