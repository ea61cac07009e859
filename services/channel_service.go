package services

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"huddle_back_end_go/apperrors"
	"huddle_back_end_go/auth"
	"huddle_back_end_go/models"
)

type CreateChannelParams struct {
	TenantID          string
	CreatorID         string
	Name              *string
	ParticipantIDs    []string
	IsContextual      bool
	HostApplicationID *string
	ContextObjectType *string
	ContextObjectID   *string
}

// dedupParticipants returns the unique non-creator participant ids in
// input order.
func dedupParticipants(creatorID string, participantIDs []string) []string {
	seen := map[string]bool{creatorID: true}
	var out []string
	for _, id := range participantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// deriveChannelType types a non-contextual channel from its final
// participant count: creator plus exactly one other is a direct chat,
// anything larger is a group.
func deriveChannelType(totalParticipants int) string {
	if totalParticipants == 2 {
		return models.ChannelTypeDirect
	}
	return models.ChannelTypeGroup
}

func validateContextKey(p CreateChannelParams) error {
	hasAny := p.HostApplicationID != nil || p.ContextObjectType != nil || p.ContextObjectID != nil
	hasAll := p.HostApplicationID != nil && p.ContextObjectType != nil && p.ContextObjectID != nil

	if p.IsContextual && !hasAll {
		return apperrors.New(apperrors.KindInvalidArgument,
			"Contextual channels require host_application_id, context_object_type and context_object_id")
	}
	if !p.IsContextual && hasAny {
		return apperrors.New(apperrors.KindInvalidArgument,
			"Context fields are only valid for contextual channels")
	}
	return nil
}

func userExistsInTenant(ctx context.Context, q pgxtype, tenantID, userID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM tenant_users WHERE tenant_id = $1 AND user_id = $2)`,
		tenantID, userID).Scan(&exists)
	return exists, err
}

// pgxtype is the querying surface shared by pools, connections and
// transactions.
type pgxtype interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func findContextualChannel(ctx context.Context, q pgxtype, p CreateChannelParams) (models.Channel, bool, error) {
	var existing models.Channel
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, channel_type, name, host_application_id,
		       context_object_type, context_object_id, created_by, created_at, updated_at
		FROM chat_channels
		WHERE tenant_id = $1
		AND host_application_id = $2
		AND context_object_type = $3
		AND context_object_id = $4
		LIMIT 1`,
		p.TenantID, *p.HostApplicationID, *p.ContextObjectType, *p.ContextObjectID).Scan(
		&existing.ID, &existing.TenantID, &existing.ChannelType, &existing.Name,
		&existing.HostApplicationID, &existing.ContextObjectType, &existing.ContextObjectID,
		&existing.CreatedBy, &existing.CreatedAt, &existing.UpdatedAt)
	if err == nil {
		return existing, true, nil
	}
	if err != pgx.ErrNoRows {
		return models.Channel{}, false, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}
	return models.Channel{}, false, nil
}

// CreateOrGetChannel creates a channel with its participants, or returns
// the existing one when a contextual channel with the same context key
// already exists for the tenant. The second return reports whether an
// existing channel was reused; on reuse, membership is left untouched.
func CreateOrGetChannel(ctx context.Context, pool *pgxpool.Pool, p CreateChannelParams) (models.Channel, bool, error) {
	if err := validateContextKey(p); err != nil {
		return models.Channel{}, false, err
	}

	others := dedupParticipants(p.CreatorID, p.ParticipantIDs)
	if len(others) == 0 {
		return models.Channel{}, false, apperrors.New(apperrors.KindNoParticipants,
			"At least one participant is required to create a channel")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return models.Channel{}, false, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}
	defer tx.Rollback(ctx)

	if p.IsContextual {
		existing, found, err := findContextualChannel(ctx, tx, p)
		if err != nil {
			return models.Channel{}, false, err
		}
		if found {
			log.Printf("Found existing contextual channel %s for tenant %s", existing.ID, p.TenantID)
			return existing, true, nil
		}
	}

	channelType := models.ChannelTypeContextual
	name := p.Name
	if !p.IsContextual {
		channelType = deriveChannelType(len(others) + 1)
		// A direct chat carries no name regardless of what was supplied.
		if channelType == models.ChannelTypeDirect {
			name = nil
		}
	}

	channel := models.Channel{
		ID:                uuid.NewString(),
		TenantID:          p.TenantID,
		ChannelType:       channelType,
		Name:              name,
		HostApplicationID: p.HostApplicationID,
		ContextObjectType: p.ContextObjectType,
		ContextObjectID:   p.ContextObjectID,
		CreatedBy:         p.CreatorID,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO chat_channels (
			id, tenant_id, channel_type, name,
			host_application_id, context_object_type, context_object_id,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at`,
		channel.ID, channel.TenantID, channel.ChannelType, channel.Name,
		channel.HostApplicationID, channel.ContextObjectType, channel.ContextObjectID,
		channel.CreatedBy).Scan(&channel.CreatedAt, &channel.UpdatedAt)
	if err != nil {
		// Two clients can race past the lookup with the same context key;
		// the loser trips the partial unique index and gets the winner's row.
		var pgErr *pgconn.PgError
		if p.IsContextual && errors.As(err, &pgErr) && pgErr.Code == "23505" {
			tx.Rollback(ctx)
			existing, found, lookupErr := findContextualChannel(ctx, pool, p)
			if lookupErr == nil && found {
				log.Printf("Lost contextual create race for tenant %s, returning channel %s", p.TenantID, existing.ID)
				return existing, true, nil
			}
		}
		return models.Channel{}, false, apperrors.Wrap(apperrors.KindStoreUnavailable, "Failed to create channel", err)
	}

	// Creator is always an admin participant.
	_, err = tx.Exec(ctx, `
		INSERT INTO channel_participants (channel_id, user_id, tenant_id, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		channel.ID, p.CreatorID, p.TenantID, models.RoleAdmin)
	if err != nil {
		return models.Channel{}, false, apperrors.Wrap(apperrors.KindStoreUnavailable, "Failed to create channel", err)
	}
	channel.Participants = append(channel.Participants, models.Participant{
		ChannelID: channel.ID, UserID: p.CreatorID, TenantID: p.TenantID, Role: models.RoleAdmin,
	})

	// A participant that does not resolve in the tenant is skipped, not
	// fatal; only the channel row itself failing aborts creation.
	for _, userID := range others {
		exists, err := userExistsInTenant(ctx, tx, p.TenantID, userID)
		if err != nil {
			log.Printf("Error resolving participant %s in tenant %s: %v", userID, p.TenantID, err)
			continue
		}
		if !exists {
			log.Printf("Participant %s not found in tenant %s, skipping", userID, p.TenantID)
			continue
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO channel_participants (channel_id, user_id, tenant_id, role, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (channel_id, user_id) DO NOTHING`,
			channel.ID, userID, p.TenantID, models.RoleMember)
		if err != nil {
			log.Printf("Error adding participant %s to channel %s: %v", userID, channel.ID, err)
			continue
		}
		channel.Participants = append(channel.Participants, models.Participant{
			ChannelID: channel.ID, UserID: userID, TenantID: p.TenantID, Role: models.RoleMember,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Channel{}, false, apperrors.Wrap(apperrors.KindStoreUnavailable, "Failed to create channel", err)
	}

	return channel, false, nil
}

// GetChannelsForUser lists the channels a user participates in, most
// recently active first. updated_at is the activity proxy and ids break
// ties so the ordering is stable.
func GetChannelsForUser(ctx context.Context, pool *pgxpool.Pool, tenantID, userID string) ([]models.Channel, error) {
	rows, err := pool.Query(ctx, `
		SELECT c.id, c.tenant_id, c.channel_type, c.name,
		       c.host_application_id, c.context_object_type, c.context_object_id,
		       c.created_by, c.created_at, c.updated_at
		FROM chat_channels AS c
		JOIN channel_participants AS p ON p.channel_id = c.id
		WHERE c.tenant_id = $1 AND p.tenant_id = $1 AND p.user_id = $2
		ORDER BY c.updated_at DESC, c.id ASC`,
		tenantID, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.TenantID, &ch.ChannelType, &ch.Name,
			&ch.HostApplicationID, &ch.ContextObjectType, &ch.ContextObjectID,
			&ch.CreatedBy, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}

	return channels, nil
}

// GetChannel retrieves a single channel with its participants.
func GetChannel(ctx context.Context, pool *pgxpool.Pool, tenantID, channelID string) (models.Channel, error) {
	var ch models.Channel
	err := pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel_type, name,
		       host_application_id, context_object_type, context_object_id,
		       created_by, created_at, updated_at
		FROM chat_channels
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, channelID).Scan(&ch.ID, &ch.TenantID, &ch.ChannelType, &ch.Name,
		&ch.HostApplicationID, &ch.ContextObjectType, &ch.ContextObjectID,
		&ch.CreatedBy, &ch.CreatedAt, &ch.UpdatedAt)
	if err == pgx.ErrNoRows {
		return models.Channel{}, apperrors.New(apperrors.KindNotFound, "Channel not found")
	}
	if err != nil {
		return models.Channel{}, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT channel_id, user_id, tenant_id, role, created_at
		FROM channel_participants
		WHERE tenant_id = $1 AND channel_id = $2
		ORDER BY created_at ASC, id ASC`,
		tenantID, channelID)
	if err != nil {
		return models.Channel{}, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ChannelID, &p.UserID, &p.TenantID, &p.Role, &p.CreatedAt); err != nil {
			return models.Channel{}, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
		}
		ch.Participants = append(ch.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return models.Channel{}, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}

	return ch, nil
}

// IsParticipant reports whether the user belongs to the channel within the
// tenant.
func IsParticipant(ctx context.Context, pool *pgxpool.Pool, tenantID, channelID, userID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM channel_participants
			WHERE tenant_id = $1 AND channel_id = $2 AND user_id = $3
		)`,
		tenantID, channelID, userID).Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}
	return exists, nil
}

// ContactsForUser returns the distinct users sharing at least one channel
// with the given user. Presence changes are pushed to these contacts.
func ContactsForUser(ctx context.Context, pool *pgxpool.Pool, tenantID, userID string) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT DISTINCT p2.user_id
		FROM channel_participants AS p1
		JOIN channel_participants AS p2 ON p2.channel_id = p1.channel_id
		WHERE p1.tenant_id = $1 AND p2.tenant_id = $1
		AND p1.user_id = $2 AND p2.user_id != $2`,
		tenantID, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "Channel store unavailable", err)
		}
		contacts = append(contacts, id)
	}
	return contacts, rows.Err()
}

type createChannelRequest struct {
	Name              *string  `json:"name"`
	Participants      []string `json:"participants"`
	IsContextualChat  bool     `json:"is_contextual_chat"`
	HostApplicationID *string  `json:"host_application_id"`
	ContextObjectType *string  `json:"context_object_type"`
	ContextObjectID   *string  `json:"context_object_id"`
}

// CreateChannelHandler handles POST /api/v1/channels.
func CreateChannelHandler(c *gin.Context, pool *pgxpool.Pool) {
	identity := auth.MustIdentity(c)

	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	channel, existed, err := CreateOrGetChannel(c.Request.Context(), pool, CreateChannelParams{
		TenantID:          identity.TenantID,
		CreatorID:         identity.UserID,
		Name:              req.Name,
		ParticipantIDs:    req.Participants,
		IsContextual:      req.IsContextualChat,
		HostApplicationID: req.HostApplicationID,
		ContextObjectType: req.ContextObjectType,
		ContextObjectID:   req.ContextObjectID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"channel": channel, "is_existing": existed})
}

// ListChannelsHandler handles GET /api/v1/channels.
func ListChannelsHandler(c *gin.Context, pool *pgxpool.Pool) {
	identity := auth.MustIdentity(c)

	channels, err := GetChannelsForUser(c.Request.Context(), pool, identity.TenantID, identity.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// GetChannelHandler handles GET /api/v1/channels/:channelId. Only
// participants may retrieve a channel.
func GetChannelHandler(c *gin.Context, pool *pgxpool.Pool) {
	identity := auth.MustIdentity(c)
	channelID := c.Param("channelId")

	ok, err := IsParticipant(c.Request.Context(), pool, identity.TenantID, channelID, identity.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, apperrors.New(apperrors.KindPermissionDenied, "You don't have permission to access this channel."))
		return
	}

	channel, err := GetChannel(c.Request.Context(), pool, identity.TenantID, channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel})
}

// touchChannel bumps the channel's activity timestamp after a write.
func touchChannel(ctx context.Context, pool *pgxpool.Pool, tenantID, channelID string) {
	if _, err := pool.Exec(ctx,
		`UPDATE chat_channels SET updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, channelID); err != nil {
		log.Printf("Failed to bump channel %s activity: %v", channelID, err)
	}
}

func respondError(c *gin.Context, err error) {
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(apperrors.HTTPStatus(err), gin.H{
		"error": apperrors.UserMessage(err),
		"kind":  apperrors.KindOf(err),
	})
}
