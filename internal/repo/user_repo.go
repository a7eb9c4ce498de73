// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides lookup functions for the User model.
// Account lifecycle (sign-up, profile edits) belongs to an external
// service; the chat core only reads identities.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
)

// CreateUser inserts a user row. Used by the seed path and tests; the
// production account service writes to the same table.
func CreateUser(ctx context.Context, db *gorm.DB, email, firstName, lastName, password string) (*domain.User, error) {
	u := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Password:  password,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by ID, or ErrNotFound if missing.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by email, or ErrNotFound if missing.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsersByID returns the users whose IDs appear in ids, in no
// particular order. Missing IDs are silently absent from the result.
func ListUsersByID(ctx context.Context, db *gorm.DB, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	var out []domain.User
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}
