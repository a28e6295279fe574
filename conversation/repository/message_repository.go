package repository

import (
	"context"
	"errors"

	"actionit/backend/conversation/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a message does not exist
var ErrNotFound = errors.New("message not found")

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByClientID(ctx context.Context, conversationID, clientID string) (*models.Message, error)
	GetByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	GetByConversationPaginated(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
	EnsureConversation(ctx context.Context, conversationID string) error
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// AutoMigrate creates the tables backing the repository
func (r *GormMessageRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.Conversation{}, &models.Message{})
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *GormMessageRepository) GetByClientID(ctx context.Context, conversationID, clientID string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND client_id = ?", conversationID, clientID).
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *GormMessageRepository) GetByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) GetByConversationPaginated(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}

// DeleteByConversation removes every message of the conversation in one
// transaction so callers never observe a partial deletion.
func (r *GormMessageRepository) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

func (r *GormMessageRepository) EnsureConversation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Conversation{ID: conversationID}).Error
}
