// Package services – RoomService
//
// This file implements RoomService, the application-level component that
// owns room records and their membership. It validates participant lists
// against the room type, performs the atomic create/replace/delete
// mutations, and sanitizes participant records before they leave the
// store boundary.
//
// Membership is never mutated incrementally: every membership write is a
// full replacement of the room's set (delete + reinsert inside one
// transaction), which is what keeps the invariant check simple and
// serializes concurrent updates.
//
// Observability: public methods are OpenTelemetry-instrumented; spans
// include room/user identifiers.
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
)

// RoomService coordinates room persistence and membership invariants.
type RoomService struct {
	DB *gorm.DB

	// MessagePageSize bounds the recent-message window included in room
	// detail views. Zero means DefaultPageSize.
	MessagePageSize int
}

// ValidateParticipants applies the participant-list rules to the "other"
// participants of a room (the acting user excluded):
//
//  1. the acting user must not appear in the list;
//  2. the list must not contain duplicates;
//  3. DIRECT rooms take exactly one other participant;
//  4. GROUP rooms take at least one.
//
// Every violation is reported as ErrValidation naming the failed rule.
func ValidateParticipants(actorID string, roomType domain.RoomType, participants []string) error {
	if !roomType.Valid() {
		return fmt.Errorf("%w: unknown room type %q", ErrValidation, roomType)
	}
	seen := make(map[string]struct{}, len(participants))
	for _, id := range participants {
		if id == actorID {
			return fmt.Errorf("%w: the acting user must not be listed as a participant", ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: the participants list contains duplicates", ErrValidation)
		}
		seen[id] = struct{}{}
	}
	switch roomType {
	case domain.RoomTypeDirect:
		if len(participants) != 1 {
			return fmt.Errorf("%w: a direct room takes exactly one participant besides the acting user", ErrValidation)
		}
	case domain.RoomTypeGroup:
		if len(participants) < 1 {
			return fmt.Errorf("%w: a group room takes at least one participant besides the acting user", ErrValidation)
		}
	}
	return nil
}

// Create validates the participant list, then inserts the room row and the
// full membership set (owner + participants) in one transaction. The
// created room is returned with its participants loaded.
func (s *RoomService) Create(ctx context.Context, ownerID string, roomType domain.RoomType, name *string, participants []string) (*domain.RoomDetail, error) {
	tr := otel.Tracer("services/RoomService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.String("room.type", string(roomType)),
		),
	)
	defer span.End()

	if err := ValidateParticipants(ownerID, roomType, participants); err != nil {
		return nil, err
	}

	var roomID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if name != nil {
			taken, err := repo.CountRoomsNamed(ctx, tx, *name, "")
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStorage, err)
			}
			if taken > 0 {
				return fmt.Errorf("%w: room name %q", ErrConflict, *name)
			}
		}
		room, err := repo.CreateRoom(ctx, tx, ownerID, roomType, name)
		if err != nil {
			// The count above cannot see a concurrent insert; the unique
			// index is the arbiter.
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: create room: %v", ErrConflict, err)
			}
			return fmt.Errorf("%w: create room: %v", ErrStorage, err)
		}
		roomID = room.ID
		members := append([]string{ownerID}, participants...)
		if err := repo.ReplaceParticipants(ctx, tx, room.ID, ownerID, members); err != nil {
			return fmt.Errorf("%w: assign participants: %v", ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID, roomID)
}

// Get loads a room with its sanitized participants and recent messages.
// It fails with ErrNotFound when the room does not exist and with
// ErrAuthorization when the requester is not a member.
func (s *RoomService) Get(ctx context.Context, requesterID, roomID string) (*domain.RoomDetail, error) {
	tr := otel.Tracer("services/RoomService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	room, err := repo.GetRoom(ctx, s.DB, roomID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
		}
		return nil, fmt.Errorf("%w: load room: %v", ErrStorage, err)
	}

	participants, err := repo.ListParticipants(ctx, s.DB, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: load participants: %v", ErrStorage, err)
	}
	if !isMember(participants, requesterID) {
		return nil, fmt.Errorf("%w: user %s is not a participant of room %s", ErrAuthorization, requesterID, roomID)
	}

	messages, err := repo.ListMessagesPage(ctx, s.DB, roomID, "", 0, s.pageSize())
	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %v", ErrStorage, err)
	}
	attachCreators(ctx, s.DB, messages)

	return &domain.RoomDetail{
		Room:         *room,
		Participants: sanitizeAll(participants),
		Messages:     messages,
	}, nil
}

// ListForUser returns every room the user participates in, each annotated
// with its sanitized participants and most recent message.
func (s *RoomService) ListForUser(ctx context.Context, userID string) ([]domain.RoomSummary, error) {
	tr := otel.Tracer("services/RoomService")
	ctx, span := tr.Start(ctx, "ListForUser",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	rooms, err := repo.ListRoomsForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", ErrStorage, err)
	}

	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		participants, err := repo.ListParticipants(ctx, s.DB, room.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: load participants: %v", ErrStorage, err)
		}
		last, err := repo.LatestMessage(ctx, s.DB, room.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: load last message: %v", ErrStorage, err)
		}
		if last != nil {
			msgs := []domain.Message{*last}
			attachCreators(ctx, s.DB, msgs)
			last = &msgs[0]
		}
		out = append(out, domain.RoomSummary{
			Room:         room,
			Participants: sanitizeAll(participants),
			LastMessage:  last,
		})
	}
	return out, nil
}

// Update applies a partial update to a room. A non-nil participants pointer
// means the membership set is replaced in full (after re-running the
// validation algorithm against the room's type); a nil pointer leaves
// membership untouched. Supplying participants for a DIRECT room fails
// with ErrValidation, since DIRECT membership is immutable after creation.
func (s *RoomService) Update(ctx context.Context, actorID, roomID string, name *string, participants *[]string) (*domain.RoomDetail, error) {
	tr := otel.Tracer("services/RoomService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("user.id", actorID),
		),
	)
	defer span.End()

	current, err := s.Get(ctx, actorID, roomID)
	if err != nil {
		return nil, err
	}
	if participants != nil {
		if current.Type == domain.RoomTypeDirect {
			return nil, fmt.Errorf("%w: direct rooms cannot have their participants updated", ErrValidation)
		}
		if err := ValidateParticipants(actorID, current.Type, *participants); err != nil {
			return nil, err
		}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if name != nil {
			taken, err := repo.CountRoomsNamed(ctx, tx, *name, roomID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStorage, err)
			}
			if taken > 0 {
				return fmt.Errorf("%w: room name %q", ErrConflict, *name)
			}
			if err := repo.UpdateRoomName(ctx, tx, roomID, actorID, *name); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("%w: room %s", ErrNotFound, roomID)
				}
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: room name %q", ErrConflict, *name)
				}
				return fmt.Errorf("%w: update name: %v", ErrStorage, err)
			}
		}
		if participants != nil {
			members := append([]string{actorID}, *participants...)
			if err := repo.ReplaceParticipants(ctx, tx, roomID, actorID, members); err != nil {
				return fmt.Errorf("%w: replace participants: %v", ErrStorage, err)
			}
		}
		if err := repo.TouchRoomUpdater(ctx, tx, roomID, actorID); err != nil {
			return fmt.Errorf("%w: touch updater: %v", ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actorID, roomID)
}

// Delete atomically removes all messages in the room, all membership rows,
// and the room row itself, in that dependency order. ErrNotFound when the
// room row was already gone. Authorization is the dispatcher's concern,
// via a prior Get.
func (s *RoomService) Delete(ctx context.Context, roomID string) error {
	tr := otel.Tracer("services/RoomService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("room.id", roomID)),
	)
	defer span.End()

	if err := repo.DeleteRoomCascade(ctx, s.DB, roomID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: room %s", ErrNotFound, roomID)
		}
		return fmt.Errorf("%w: delete room: %v", ErrStorage, err)
	}
	return nil
}

func (s *RoomService) pageSize() int {
	if s.MessagePageSize > 0 {
		return s.MessagePageSize
	}
	return DefaultPageSize
}

func isMember(participants []domain.User, userID string) bool {
	for _, p := range participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func sanitizeAll(users []domain.User) []domain.User {
	out := make([]domain.User, len(users))
	for i, u := range users {
		out[i] = u.Sanitized()
	}
	return out
}
