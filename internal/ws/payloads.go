// Inbound payload shapes and their structural validation.
//
// Validation is a pure function over the decoded payload (validator tags
// plus DecodePayload), kept outside the gateway's dispatch logic so it can
// be unit-tested independently. Rule-level validation (room-type
// invariants, membership) stays in the services.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/services"
)

var validate = validator.New()

// CreateRoomPayload is the body of a createRoom event. Participants lists
// the other members; the acting user is implied.
type CreateRoomPayload struct {
	Type         domain.RoomType `json:"type" validate:"required,oneof=DIRECT GROUP"`
	Name         *string         `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Participants []string        `json:"participants" validate:"required,dive,required"`
}

// RoomFetchPayload is the body of getRoomDetails and deleteRoom events.
type RoomFetchPayload struct {
	RoomID string `json:"room_id" validate:"required"`
}

// UpdateRoomPayload is the body of an updateRoom event. A nil Participants
// pointer means membership is untouched; a present list is a full
// replacement.
type UpdateRoomPayload struct {
	RoomID       string    `json:"room_id" validate:"required"`
	Name         *string   `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Participants *[]string `json:"participants,omitempty" validate:"omitempty,dive,required"`
}

// CreateMessagePayload is the body of a sendMessage event.
type CreateMessagePayload struct {
	RoomID string `json:"room_id" validate:"required"`
	Text   string `json:"text" validate:"required,max=4000"`
}

// FilterMessagesPayload is the body of a findAllMessages event. First and
// Rows carry the pagination window (offset / page size).
type FilterMessagesPayload struct {
	RoomID string `json:"room_id" validate:"required"`
	Filter string `json:"filter,omitempty"`
	First  int    `json:"first,omitempty" validate:"gte=0"`
	Rows   int    `json:"rows,omitempty" validate:"gte=0,lte=100"`
}

// UpdateMessagePayload is the body of an updateMessage event.
type UpdateMessagePayload struct {
	MessageID string `json:"message_id" validate:"required"`
	Text      string `json:"text" validate:"required,max=4000"`
}

// DeleteMessagePayload is the body of a deleteMessage event.
type DeleteMessagePayload struct {
	RoomID     string   `json:"room_id" validate:"required"`
	MessageIDs []string `json:"message_ids" validate:"required,min=1,dive,required"`
}

// DecodePayload unmarshals an event body into dst and runs structural
// validation. Every failure comes back as services.ErrValidation with the
// offending fields named.
func DecodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", services.ErrValidation)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", services.ErrValidation, err)
	}
	return ValidatePayload(dst)
}

// ValidatePayload runs the validator tags of a payload struct and folds
// the failures into one services.ErrValidation.
func ValidatePayload(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: invalid fields: %s", services.ErrValidation, strings.Join(fields, ", "))
}
