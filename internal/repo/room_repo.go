// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Room
// model and its membership rows.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Membership discipline: RoomParticipant rows are only ever written through
// ReplaceParticipants, which deletes and reinserts the full set. Callers
// wrap it (and the room-deletion cascade) in a transaction so a crash or a
// concurrent writer can never leave a half-updated membership set.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
)

// CreateRoom inserts a new room row owned by ownerID. The room ID is a
// randomly generated UUID and CreatedAt is set to UTC. Membership rows are
// written separately via ReplaceParticipants.
func CreateRoom(ctx context.Context, db *gorm.DB, ownerID string, roomType domain.RoomType, name *string) (*domain.Room, error) {
	r := &domain.Room{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      roomType,
		CreatedBy: ownerID,
		UpdatedBy: ownerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRoom fetches a single room by ID, or ErrNotFound if missing.
func GetRoom(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	var r domain.Room
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRoomsNamed returns how many rooms other than excludeID carry the
// given name. Used for unique-name conflict checks inside create/update
// transactions.
func CountRoomsNamed(ctx context.Context, db *gorm.DB, name, excludeID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Room{}).
		Where("name = ? AND id <> ?", name, excludeID).
		Count(&total).Error
	return total, err
}

// UpdateRoomName sets the name and updater of a room. Returns ErrNotFound
// when no row was affected.
func UpdateRoomName(ctx context.Context, db *gorm.DB, id, actorID, name string) error {
	res := db.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_by": actorID})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchRoomUpdater records actorID as the last updater of a room.
func TouchRoomUpdater(ctx context.Context, db *gorm.DB, id, actorID string) error {
	return db.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", id).
		Update("updated_by", actorID).Error
}

// ListRoomsForUser returns every room the user is a member of, ordered by
// creation time descending. Ordering across rooms is stable for a given
// snapshot but otherwise carries no meaning.
func ListRoomsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Room, error) {
	var out []domain.Room
	err := db.WithContext(ctx).
		Joins("JOIN room_participants rp ON rp.room_id = rooms.id").
		Where("rp.user_id = ?", userID).
		Order("rooms.created_at desc").
		Find(&out).Error
	return out, err
}

// ListParticipants returns the users holding membership rows for roomID.
// Credential fields come back as stored; callers sanitize before the
// records leave the store boundary.
func ListParticipants(ctx context.Context, db *gorm.DB, roomID string) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Joins("JOIN room_participants rp ON rp.user_id = users.id").
		Where("rp.room_id = ?", roomID).
		Order("rp.created_at asc").
		Find(&out).Error
	return out, err
}

// ReplaceParticipants atomically swaps the membership set of a room for
// userIDs, recording actorID as creator/updater of every row. The caller
// is expected to run this inside a transaction; the delete+reinsert is
// what serializes concurrent membership updates.
func ReplaceParticipants(ctx context.Context, db *gorm.DB, roomID, actorID string, userIDs []string) error {
	if err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&domain.RoomParticipant{}).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	rows := make([]domain.RoomParticipant, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, domain.RoomParticipant{
			RoomID:    roomID,
			UserID:    id,
			CreatedBy: actorID,
			UpdatedBy: actorID,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}

// DeleteRoomCascade removes a room's messages, membership rows, and the
// room row itself, in that dependency order, inside one transaction.
// Returns ErrNotFound when the room row did not exist.
func DeleteRoomCascade(ctx context.Context, db *gorm.DB, roomID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&domain.RoomParticipant{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", roomID).Delete(&domain.Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
