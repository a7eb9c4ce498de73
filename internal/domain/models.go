// Package domain defines the persistence models for users, rooms, room
// membership, and messages. These types are mapped with GORM and form the
// core data layer of the chat server.
package domain

import "time"

// RoomType discriminates between two-party and multi-party rooms.
type RoomType string

const (
	// RoomTypeDirect is a two-party conversation. Its membership is fixed
	// at creation time.
	RoomTypeDirect RoomType = "DIRECT"
	// RoomTypeGroup is a multi-party conversation with at least two members.
	RoomTypeGroup RoomType = "GROUP"
)

// Valid reports whether t is one of the known room types.
func (t RoomType) Valid() bool {
	return t == RoomTypeDirect || t == RoomTypeGroup
}

// User represents an account identity. Account lifecycle (sign-up, profile
// updates, credential issuance) is owned by an external service; this model
// exists so rooms and messages can reference and render their members.
//
// Password and RefreshToken are credential fields. They are never serialized
// (json:"-") and are additionally zeroed by Sanitized before a User leaves
// the store boundary.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex"`
	FirstName    string    `json:"first_name" gorm:"type:varchar(100)"`
	LastName     string    `json:"last_name"  gorm:"type:varchar(100)"`
	Password     string    `json:"-"          gorm:"type:varchar(255)"`
	RefreshToken string    `json:"-"          gorm:"type:varchar(512)"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Sanitized returns a copy of the user with credential fields cleared.
func (u User) Sanitized() User {
	u.Password = ""
	u.RefreshToken = ""
	return u
}

// Room represents a conversation container.
//
// Invariants (enforced by services.RoomService, not by the schema):
//   - DIRECT rooms have exactly 2 distinct participants.
//   - GROUP rooms have at least 2.
//   - The creator/updater is always a member.
//
// Membership is stored as explicit RoomParticipant rows and loaded through
// dedicated queries; there is no GORM association on this struct.
type Room struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      *string   `json:"name,omitempty" gorm:"type:varchar(255);uniqueIndex"`
	Type      RoomType  `json:"type"       gorm:"type:varchar(16);not null;check:type IN ('DIRECT','GROUP')"`
	CreatedBy string    `json:"created_by" gorm:"type:char(36);not null;index"`
	UpdatedBy string    `json:"updated_by" gorm:"type:char(36);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// RoomParticipant is a membership row joining a room to a user. Rows are
// only ever written as a full atomic replacement of a room's membership set
// (see repo.ReplaceParticipants); there is no incremental add/remove path.
type RoomParticipant struct {
	RoomID    string    `json:"room_id"    gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);primaryKey;index"`
	CreatedBy string    `json:"created_by" gorm:"type:char(36);not null"`
	UpdatedBy string    `json:"updated_by" gorm:"type:char(36);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for RoomParticipant.
func (RoomParticipant) TableName() string { return "room_participants" }

// Message is a single utterance inside a room. The creator is immutable;
// text and the update timestamp may only be changed by the creator.
//
// Creator is a read-side view field populated (sanitized) by the message
// store when listing; it is not a database association.
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RoomID    string    `json:"room_id"    gorm:"type:char(36);not null;index:idx_room_msgs,priority:1"`
	Text      string    `json:"text"       gorm:"type:text;not null"`
	CreatedBy string    `json:"created_by" gorm:"type:char(36);not null;index"`
	UpdatedBy string    `json:"updated_by" gorm:"type:char(36);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_room_msgs,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`

	Creator *User `json:"creator,omitempty" gorm:"-"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// RoomDetail is the full view of a room: the room row plus its current
// (sanitized) participants and its recent messages. This is what room
// mutations and fetches hand back to the protocol layer.
type RoomDetail struct {
	Room
	Participants []User    `json:"participants"`
	Messages     []Message `json:"messages"`
}

// RoomSummary annotates a room with its participants and most recent
// message (nil when the room is empty). Used for the per-user room
// snapshot pushed on connect.
type RoomSummary struct {
	Room
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"last_message,omitempty"`
}

// MessagePage is a filtered window over a room's messages together with
// the total number of matches across all pages.
type MessagePage struct {
	Items []Message `json:"items"`
	Total int64     `json:"total"`
}
