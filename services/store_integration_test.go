package services

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle_back_end_go/apperrors"
	"huddle_back_end_go/db"
	"huddle_back_end_go/models"
)

// These tests exercise the store against a real postgres and only run
// when DATABASE_HOST is set. Each test works inside its own throwaway
// tenant so runs never collide.

func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DATABASE_HOST") == "" {
		t.Skip("DATABASE_HOST not set, skipping store integration tests")
	}
	pool, err := db.InitDatabase()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, tenantID, username string) string {
	t.Helper()
	userID := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO tenant_users (user_id, tenant_id, username, email, hashed_password)
		VALUES ($1, $2, $3, $4, 'x')`,
		userID, tenantID, username, username+"@"+tenantID+".test")
	require.NoError(t, err)
	return userID
}

func TestIntegrationContextualCreateIsIdempotent(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	tenantID := uuid.NewString()
	alice := seedUser(t, pool, tenantID, "alice")
	bob := seedUser(t, pool, tenantID, "bob")

	params := CreateChannelParams{
		TenantID:          tenantID,
		CreatorID:         alice,
		ParticipantIDs:    []string{bob},
		IsContextual:      true,
		HostApplicationID: strptr("crm"),
		ContextObjectType: strptr("deal"),
		ContextObjectID:   strptr("d-100"),
	}

	first, existed, err := CreateOrGetChannel(ctx, pool, params)
	require.NoError(t, err)
	assert.False(t, existed)

	second, existed, err := CreateOrGetChannel(ctx, pool, params)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_channels WHERE tenant_id = $1`, tenantID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIntegrationConcurrentContextualCreates(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	tenantID := uuid.NewString()
	alice := seedUser(t, pool, tenantID, "alice")
	bob := seedUser(t, pool, tenantID, "bob")

	params := CreateChannelParams{
		TenantID:          tenantID,
		CreatorID:         alice,
		ParticipantIDs:    []string{bob},
		IsContextual:      true,
		HostApplicationID: strptr("crm"),
		ContextObjectType: strptr("ticket"),
		ContextObjectID:   strptr("t-42"),
	}

	// All racers must land on the same channel, whether they created it
	// or lost to the unique index and re-read the winner.
	const racers = 8
	ids := make([]string, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, _, err := CreateOrGetChannel(ctx, pool, params)
			ids[i] = ch.ID
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_channels WHERE tenant_id = $1`, tenantID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIntegrationNonParticipantCannotAppend(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	tenantID := uuid.NewString()
	alice := seedUser(t, pool, tenantID, "alice")
	bob := seedUser(t, pool, tenantID, "bob")
	mallory := seedUser(t, pool, tenantID, "mallory")

	channel, _, err := CreateOrGetChannel(ctx, pool, CreateChannelParams{
		TenantID:       tenantID,
		CreatorID:      alice,
		ParticipantIDs: []string{bob},
	})
	require.NoError(t, err)

	_, err = AppendMessage(ctx, pool, AppendMessageParams{
		TenantID:  tenantID,
		ChannelID: channel.ID,
		UserID:    mallory,
		Content:   "let me in",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPermissionDenied, apperrors.KindOf(err))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE channel_id = $1`, channel.ID).Scan(&count))
	assert.Equal(t, 0, count, "a rejected append must not leave a row behind")
}

func TestIntegrationMarkReadIsIdempotent(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	tenantID := uuid.NewString()
	alice := seedUser(t, pool, tenantID, "alice")
	bob := seedUser(t, pool, tenantID, "bob")

	channel, _, err := CreateOrGetChannel(ctx, pool, CreateChannelParams{
		TenantID:       tenantID,
		CreatorID:      alice,
		ParticipantIDs: []string{bob},
	})
	require.NoError(t, err)

	msg, err := AppendMessage(ctx, pool, AppendMessageParams{
		TenantID:  tenantID,
		ChannelID: channel.ID,
		UserID:    alice,
		Content:   "hello",
	})
	require.NoError(t, err)

	require.NoError(t, MarkMessageRead(ctx, pool, tenantID, msg.ID, bob))
	require.NoError(t, MarkMessageRead(ctx, pool, tenantID, msg.ID, bob))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_read_status WHERE message_id = $1 AND user_id = $2`,
		msg.ID, bob).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIntegrationDirectChannelDropsName(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	tenantID := uuid.NewString()
	alice := seedUser(t, pool, tenantID, "alice")
	bob := seedUser(t, pool, tenantID, "bob")

	channel, _, err := CreateOrGetChannel(ctx, pool, CreateChannelParams{
		TenantID:       tenantID,
		CreatorID:      alice,
		Name:           strptr("just us"),
		ParticipantIDs: []string{bob},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ChannelTypeDirect, channel.ChannelType)
	assert.Nil(t, channel.Name)

	var channelType string
	var name *string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT channel_type, name FROM chat_channels WHERE id = $1`, channel.ID).Scan(&channelType, &name))
	assert.Equal(t, models.ChannelTypeDirect, channelType)
	assert.Nil(t, name, "the supplied name must not be persisted for a direct chat")
}
