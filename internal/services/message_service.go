// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the lifecycle of room messages. It enforces the immutable-creator
// rule, serves the filtered, paginated read path, and attaches sanitized
// creator records to every message that leaves the store boundary.
//
// Observability: public methods are OpenTelemetry-instrumented; spans
// include room/message identifiers and pagination parameters.
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/repo"
	"github.com/tbourn/go-chat-server/internal/utils"
)

// DefaultPageSize is the message window size used when a caller does not
// specify one.
const DefaultPageSize = 20

// MessageService coordinates message persistence and retrieval.
type MessageService struct {
	DB *gorm.DB
}

// Create inserts a message attributed to userID, then returns the first
// page of the room's recent-message window so the caller can immediately
// present fresh context.
func (s *MessageService) Create(ctx context.Context, userID, roomID, text string) (*domain.MessagePage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := repo.CreateMessage(ctx, s.DB, roomID, userID, text); err != nil {
		return nil, fmt.Errorf("%w: create message: %v", ErrStorage, err)
	}
	return s.ListPage(ctx, roomID, "", 0, DefaultPageSize)
}

// ListPage returns (items, total) for a room: items ordered by creation
// time descending, filtered by a case-insensitive substring match against
// the text, with total counting every match regardless of the page.
// Each item's creator is attached sanitized.
func (s *MessageService) ListPage(ctx context.Context, roomID, filter string, offset, limit int) (*domain.MessagePage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.Int("offset", offset),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	offset, limit = utils.PageWindow(offset, limit, DefaultPageSize)

	total, err := repo.CountMessages(ctx, s.DB, roomID, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: count messages: %v", ErrStorage, err)
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, roomID, filter, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrStorage, err)
	}
	attachCreators(ctx, s.DB, items)
	return &domain.MessagePage{Items: items, Total: total}, nil
}

// Get fetches a single message by ID. Used by the dispatcher to resolve
// the target room before authorizing an edit.
func (s *MessageService) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return nil, fmt.Errorf("%w: load message: %v", ErrStorage, err)
	}
	return m, nil
}

// Update changes the text of a message. Only the creator may edit; the
// modification timestamp is refreshed and the updated message returned.
func (s *MessageService) Update(ctx context.Context, userID, messageID, text string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	existing, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if existing.CreatedBy != userID {
		return nil, fmt.Errorf("%w: only the creator can update a message", ErrAuthorization)
	}
	if err := repo.UpdateMessageText(ctx, s.DB, messageID, userID, text); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return nil, fmt.Errorf("%w: update message: %v", ErrStorage, err)
	}

	updated, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	msgs := []domain.Message{*updated}
	attachCreators(ctx, s.DB, msgs)
	return &msgs[0], nil
}

// DeleteBatch removes the given messages from a room. A message that does
// not exist, or belongs to a different room, is silently skipped. The
// first message found to belong to someone else stops the batch with
// ErrAuthorization, leaving already-processed deletions applied; the
// batch is deliberately not atomic.
func (s *MessageService) DeleteBatch(ctx context.Context, userID, roomID string, messageIDs []string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "DeleteBatch",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("user.id", userID),
			attribute.Int("count", len(messageIDs)),
		),
	)
	defer span.End()

	for _, id := range messageIDs {
		m, err := repo.GetRoomMessage(ctx, s.DB, roomID, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return fmt.Errorf("%w: load message: %v", ErrStorage, err)
		}
		if m.CreatedBy != userID {
			return fmt.Errorf("%w: only the creator can delete a message", ErrAuthorization)
		}
		if err := repo.DeleteMessage(ctx, s.DB, id); err != nil {
			return fmt.Errorf("%w: delete message: %v", ErrStorage, err)
		}
	}
	return nil
}

// attachCreators resolves the creator of each message in one query and
// attaches a sanitized copy. Messages whose creator row is gone keep a nil
// Creator.
func attachCreators(ctx context.Context, db *gorm.DB, messages []domain.Message) {
	if len(messages) == 0 {
		return
	}
	idSet := make(map[string]struct{}, len(messages))
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		if _, ok := idSet[m.CreatedBy]; !ok {
			idSet[m.CreatedBy] = struct{}{}
			ids = append(ids, m.CreatedBy)
		}
	}
	users, err := repo.ListUsersByID(ctx, db, ids)
	if err != nil {
		return
	}
	byID := make(map[string]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u.Sanitized()
	}
	for i := range messages {
		if u, ok := byID[messages[i].CreatedBy]; ok {
			creator := u
			messages[i].Creator = &creator
		}
	}
}
