package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"actionit/backend/conversation/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *GormMessageRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	repo := NewGormMessageRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func seed(t *testing.T, repo *GormMessageRepository, conv string, n int) {
	t.Helper()
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), &models.Message{
			ID:             fmt.Sprintf("%s-m%d", conv, i),
			ConversationID: conv,
			Sender:         models.SenderUser,
			Content:        fmt.Sprintf("msg %d", i),
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			Status:         models.StatusSent,
		}))
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.EnsureConversation(ctx, "conv-1"))
	require.NoError(t, repo.EnsureConversation(ctx, "conv-1"), "ensuring twice is a no-op")

	msg := &models.Message{ID: "m1", ClientID: "c1", ConversationID: "conv-1", Sender: models.SenderUser, Content: "hello", Timestamp: time.Now()}
	require.NoError(t, repo.Create(ctx, msg))

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, models.SenderUser, got.Sender)

	got, err = repo.GetByClientID(ctx, "conv-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByConversationOrdered(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, "conv-1", 3)
	seed(t, repo, "conv-2", 1)

	msgs, err := repo.GetByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "conv-1-m0", msgs[0].ID)
	assert.Equal(t, "conv-1-m2", msgs[2].ID)

	page, err := repo.GetByConversationPaginated(context.Background(), "conv-1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "conv-1-m1", page[0].ID)
}

func TestDeleteByConversation(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, "conv-1", 3)
	seed(t, repo, "conv-2", 2)

	n, err := repo.DeleteByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	msgs, err := repo.GetByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	other, err := repo.GetByConversation(context.Background(), "conv-2")
	require.NoError(t, err)
	assert.Len(t, other, 2)
}
