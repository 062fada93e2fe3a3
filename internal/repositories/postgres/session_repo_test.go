package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/utils"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Session{}, &models.Message{}))
	return db
}

func strPtr(s string) *string { return &s }

func TestSessionRepo_CreateAndGet(t *testing.T) {
	repo := NewSessionRepo(setupTestDB(t))
	ctx := context.Background()

	id := uuid.NewString()
	sess, err := repo.Create(ctx, id, strPtr("user-1"), strPtr("What are the visit hours"), map[string]any{"channel": "web"})
	require.NoError(t, err)
	assert.True(t, sess.IsActive)
	assert.Equal(t, sess.CreatedAt, sess.LastAccessedAt)

	got, err := repo.GetBySessionID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user-1", *got.UserID)
	assert.Equal(t, "What are the visit hours", *got.Title)
	assert.Equal(t, "web", got.Metadata["channel"])
	// timestamps must scan back as time.Time on every dialect
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.LastAccessedAt.IsZero())
}

func TestSessionRepo_CreateDuplicate(t *testing.T) {
	repo := NewSessionRepo(setupTestDB(t))
	ctx := context.Background()

	id := uuid.NewString()
	_, err := repo.Create(ctx, id, nil, nil, nil)
	require.NoError(t, err)

	_, err = repo.Create(ctx, id, nil, nil, nil)
	assert.Equal(t, utils.CodeConflict, utils.ErrCode(err))
}

func TestSessionRepo_GetMissing(t *testing.T) {
	repo := NewSessionRepo(setupTestDB(t))

	_, err := repo.GetBySessionID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestSessionRepo_TouchOnlyActive(t *testing.T) {
	repo := NewSessionRepo(setupTestDB(t))
	ctx := context.Background()

	id := uuid.NewString()
	_, err := repo.Create(ctx, id, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Touch(ctx, id))

	ok, err := repo.Deactivate(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, repo.Touch(ctx, id), utils.ErrNotFound)
	assert.ErrorIs(t, repo.Touch(ctx, uuid.NewString()), utils.ErrNotFound)
}

func TestSessionRepo_ListPagination(t *testing.T) {
	repo := NewSessionRepo(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, uuid.NewString(), strPtr("user-1"), nil, nil)
		require.NoError(t, err)
	}
	// someone else's session must not leak in
	_, err := repo.Create(ctx, uuid.NewString(), strPtr("user-2"), nil, nil)
	require.NoError(t, err)

	rows, info, err := repo.List(ctx, "user-1", true, 1, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int64(5), info.Total)
	assert.Equal(t, 3, info.TotalPages)
	assert.True(t, info.HasNext)
	assert.False(t, info.HasPrevious)

	rows, info, err = repo.List(ctx, "user-1", true, 3, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.False(t, info.HasNext)
	assert.True(t, info.HasPrevious)
}

func TestSessionRepo_ListActiveOnly(t *testing.T) {
	repo := NewSessionRepo(setupTestDB(t))
	ctx := context.Background()

	active := uuid.NewString()
	inactive := uuid.NewString()
	_, err := repo.Create(ctx, active, strPtr("user-1"), nil, nil)
	require.NoError(t, err)
	_, err = repo.Create(ctx, inactive, strPtr("user-1"), nil, nil)
	require.NoError(t, err)
	_, err = repo.Deactivate(ctx, inactive)
	require.NoError(t, err)

	rows, _, err := repo.List(ctx, "user-1", true, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, active, rows[0].SessionID)

	rows, _, err = repo.List(ctx, "user-1", false, 1, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSessionRepo_DeletePermanentlyRemovesMessages(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionRepo(db)
	messages := NewMessageRepo(db)
	ctx := context.Background()

	id := uuid.NewString()
	_, err := sessions.Create(ctx, id, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, messages.Insert(ctx, &models.Message{
		ID: uuid.NewString(), SessionID: id, Role: models.RoleHuman, Content: "hi",
	}))

	ok, err := sessions.DeletePermanently(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := messages.CountBySession(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err = sessions.DeletePermanently(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionRepo_DeleteOld(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionRepo(db)
	messages := NewMessageRepo(db)
	ctx := context.Background()

	stale := uuid.NewString()
	fresh := uuid.NewString()
	activeStale := uuid.NewString()
	for _, id := range []string{stale, fresh, activeStale} {
		_, err := sessions.Create(ctx, id, nil, nil, nil)
		require.NoError(t, err)
	}
	_, err := sessions.Deactivate(ctx, stale)
	require.NoError(t, err)
	require.NoError(t, messages.Insert(ctx, &models.Message{
		ID: uuid.NewString(), SessionID: stale, Role: models.RoleHuman, Content: "old",
	}))

	// backdate the deactivated session
	past := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&models.Session{}).
		Where("session_id = ?", stale).
		Update("last_accessed_at", past).Error)
	// an active session past the cutoff must survive
	require.NoError(t, db.Model(&models.Session{}).
		Where("session_id = ?", activeStale).
		Update("last_accessed_at", past).Error)

	purged, err := sessions.DeleteOld(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = sessions.GetBySessionID(ctx, stale)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	n, err := messages.CountBySession(ctx, stale)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = sessions.GetBySessionID(ctx, fresh)
	assert.NoError(t, err)
	_, err = sessions.GetBySessionID(ctx, activeStale)
	assert.NoError(t, err)
}

func TestSessionRepo_MergeMetadata(t *testing.T) {
	repo := NewSessionRepo(setupTestDB(t))
	ctx := context.Background()

	id := uuid.NewString()
	_, err := repo.Create(ctx, id, nil, nil, map[string]any{"channel": "web", "locale": "en"})
	require.NoError(t, err)

	require.NoError(t, repo.MergeMetadata(ctx, id, map[string]any{"locale": "de", "device": "mobile"}))

	got, err := repo.GetBySessionID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "web", got.Metadata["channel"])
	assert.Equal(t, "de", got.Metadata["locale"])
	assert.Equal(t, "mobile", got.Metadata["device"])

	assert.ErrorIs(t, repo.MergeMetadata(ctx, uuid.NewString(), map[string]any{"k": "v"}), utils.ErrNotFound)
}

func TestSessionRepo_Stats(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSessionRepo(db)
	messages := NewMessageRepo(db)
	ctx := context.Background()

	a := uuid.NewString()
	b := uuid.NewString()
	_, err := sessions.Create(ctx, a, strPtr("user-1"), nil, nil)
	require.NoError(t, err)
	_, err = sessions.Create(ctx, b, strPtr("user-1"), nil, nil)
	require.NoError(t, err)
	_, err = sessions.Create(ctx, uuid.NewString(), strPtr("user-2"), nil, nil)
	require.NoError(t, err)
	_, err = sessions.Deactivate(ctx, b)
	require.NoError(t, err)

	for _, m := range []models.Message{
		{ID: uuid.NewString(), SessionID: a, Role: models.RoleHuman, Content: "q1"},
		{ID: uuid.NewString(), SessionID: a, Role: models.RoleAI, Content: "a1"},
		{ID: uuid.NewString(), SessionID: b, Role: models.RoleHuman, Content: "q2"},
	} {
		msg := m
		require.NoError(t, messages.Insert(ctx, &msg))
	}

	stats, err := sessions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Sessions.Total)
	assert.Equal(t, int64(2), stats.Sessions.Active)
	assert.Equal(t, int64(1), stats.Sessions.Inactive)
	assert.Equal(t, int64(2), stats.Sessions.UniqueUsers)
	assert.Equal(t, int64(3), stats.Messages.Total)
	assert.Equal(t, int64(2), stats.Messages.Human)
	assert.Equal(t, int64(1), stats.Messages.AI)
	assert.InDelta(t, 1.5, stats.Messages.AvgPerSession, 0.001)
}
