package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"huddle_back_end_go/apperrors"
	"huddle_back_end_go/auth"
	"huddle_back_end_go/models"
)

const defaultMessagePageSize = 50
const maxMessagePageSize = 200

type AppendMessageParams struct {
	TenantID  string
	ChannelID string
	UserID    string
	Content   string
	ParentID  *string
	Metadata  map[string]string
}

// AppendMessage persists a message. Participation is re-checked here even
// though sessions gate on it first, so a store caller can never write into
// a channel it does not belong to.
func AppendMessage(ctx context.Context, pool *pgxpool.Pool, p AppendMessageParams) (models.Message, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return models.Message{}, apperrors.New(apperrors.KindInvalidArgument, "Message content is required")
	}

	ok, err := IsParticipant(ctx, pool, p.TenantID, p.ChannelID, p.UserID)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, apperrors.New(apperrors.KindPermissionDenied,
			"You don't have permission to post in this channel.")
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		ChannelID: p.ChannelID,
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		Content:   content,
		ParentID:  p.ParentID,
		Metadata:  metadata,
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO messages (id, channel_id, user_id, tenant_id, content, parent_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`,
		msg.ID, msg.ChannelID, msg.UserID, msg.TenantID, msg.Content, msg.ParentID, metadata).Scan(&msg.CreatedAt)
	if err != nil {
		return models.Message{}, apperrors.Wrap(apperrors.KindStoreUnavailable, "Failed to save message.", err)
	}

	touchChannel(ctx, pool, p.TenantID, p.ChannelID)

	return msg, nil
}

// messageCursor is the keyset position for message pagination: the
// created_at and id of the last message on the previous page. Ids break
// timestamp ties so pages stay stable under concurrent inserts.
type messageCursor struct {
	CreatedAt time.Time
	ID        string
}

func encodeMessageCursor(cur messageCursor) string {
	raw := strconv.FormatInt(cur.CreatedAt.UnixNano(), 10) + "|" + cur.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeMessageCursor(s string) (messageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return messageCursor{}, apperrors.New(apperrors.KindInvalidArgument, "Invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return messageCursor{}, apperrors.New(apperrors.KindInvalidArgument, "Invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return messageCursor{}, apperrors.New(apperrors.KindInvalidArgument, "Invalid cursor")
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return messageCursor{}, apperrors.New(apperrors.KindInvalidArgument, "Invalid cursor")
	}
	return messageCursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: parts[1]}, nil
}

// GetMessages pages through a channel's history newest-first. An empty
// cursor starts from the latest message; the returned cursor is empty on
// the last page.
func GetMessages(ctx context.Context, pool *pgxpool.Pool, tenantID, channelID, cursor string, limit int) ([]models.Message, string, error) {
	if limit <= 0 {
		limit = defaultMessagePageSize
	}
	if limit > maxMessagePageSize {
		limit = maxMessagePageSize
	}

	query := `
		SELECT id, channel_id, user_id, tenant_id, content, parent_id, metadata, created_at
		FROM messages
		WHERE tenant_id = $1 AND channel_id = $2`
	args := []interface{}{tenantID, channelID}

	if cursor != "" {
		cur, err := decodeMessageCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, cur.CreatedAt, cur.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindStoreUnavailable, "Message store unavailable", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.UserID, &msg.TenantID,
			&msg.Content, &msg.ParentID, &msg.Metadata, &msg.CreatedAt); err != nil {
			return nil, "", apperrors.Wrap(apperrors.KindStoreUnavailable, "Message store unavailable", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindStoreUnavailable, "Message store unavailable", err)
	}

	var next string
	if len(messages) > limit {
		messages = messages[:limit]
		last := messages[len(messages)-1]
		next = encodeMessageCursor(messageCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return messages, next, nil
}

// MarkMessageRead records that a user has read a message. Re-marking is a
// no-op, not an error.
func MarkMessageRead(ctx context.Context, pool *pgxpool.Pool, tenantID, messageID, userID string) error {
	var channelID string
	err := pool.QueryRow(ctx,
		`SELECT channel_id FROM messages WHERE tenant_id = $1 AND id = $2`,
		tenantID, messageID).Scan(&channelID)
	if err == pgx.ErrNoRows {
		return apperrors.New(apperrors.KindNotFound, "Message not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, "Message store unavailable", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO message_read_status (message_id, user_id, tenant_id, read_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, tenantID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, "Message store unavailable", err)
	}
	return nil
}

type sendMessageRequest struct {
	Content  string            `json:"content"`
	ParentID *string           `json:"parent_id"`
	Metadata map[string]string `json:"metadata"`
}

// SendMessageHandler handles POST /api/v1/channels/:channelId/messages,
// the REST counterpart of the websocket chat_message event.
func SendMessageHandler(c *gin.Context, pool *pgxpool.Pool) {
	identity := auth.MustIdentity(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	msg, err := AppendMessage(c.Request.Context(), pool, AppendMessageParams{
		TenantID:  identity.TenantID,
		ChannelID: c.Param("channelId"),
		UserID:    identity.UserID,
		Content:   req.Content,
		ParentID:  req.ParentID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// ListMessagesHandler handles GET /api/v1/channels/:channelId/messages.
func ListMessagesHandler(c *gin.Context, pool *pgxpool.Pool) {
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

	limit := 0
	if v := c.Query("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	messages, next, err := GetMessages(c.Request.Context(), pool, identity.TenantID, channelID, c.Query("cursor"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "next_cursor": next})
}

// MarkReadHandler handles POST /api/v1/messages/:messageId/read.
func MarkReadHandler(c *gin.Context, pool *pgxpool.Pool) {
	identity := auth.MustIdentity(c)

	if err := MarkMessageRead(c.Request.Context(), pool, identity.TenantID, c.Param("messageId"), identity.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
