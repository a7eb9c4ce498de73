// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
)

// CreateMessage inserts a new message row attributed to userID.
func CreateMessage(ctx context.Context, db *gorm.DB, roomID, userID, text string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Text:      text,
		CreatedBy: userID,
		UpdatedBy: userID,
		CreatedAt: time.Now().UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// filterClause builds the case-insensitive substring match used by the
// message read path. An empty filter matches everything.
func filterClause(q *gorm.DB, filter string) *gorm.DB {
	if filter == "" {
		return q
	}
	return q.Where("lower(text) LIKE ?", "%"+strings.ToLower(filter)+"%")
}

// ListMessagesPage returns a window of a room's messages matching filter,
// ordered deterministically (CreatedAt DESC, ID DESC). A limit <= 0 means
// no limit.
func ListMessagesPage(ctx context.Context, db *gorm.DB, roomID, filter string, offset, limit int) ([]domain.Message, error) {
	q := filterClause(db.WithContext(ctx).Where("room_id = ?", roomID), filter).
		Order("created_at DESC, id DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.Message
	err := q.Find(&out).Error
	return out, err
}

// CountMessages returns the number of messages in a room matching filter,
// regardless of pagination.
func CountMessages(ctx context.Context, db *gorm.DB, roomID, filter string) (int64, error) {
	var total int64
	err := filterClause(db.WithContext(ctx).Model(&domain.Message{}).Where("room_id = ?", roomID), filter).
		Count(&total).Error
	return total, err
}

// LatestMessage returns the most recent message in a room, or nil when the
// room has none.
func LatestMessage(ctx context.Context, db *gorm.DB, roomID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// GetMessage fetches a message by ID, or ErrNotFound if missing.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetRoomMessage fetches a message by ID scoped to a room, or ErrNotFound
// when it is absent or belongs to a different room.
func GetRoomMessage(ctx context.Context, db *gorm.DB, roomID, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).Where("id = ? AND room_id = ?", id, roomID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageText sets the text, updater, and modification timestamp of a
// message. Ownership checks belong to the service layer.
func UpdateMessageText(ctx context.Context, db *gorm.DB, id, actorID, text string) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"text":       text,
			"updated_by": actorID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteMessage removes a single message row by ID.
func DeleteMessage(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{}).Error
}
