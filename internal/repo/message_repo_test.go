package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-chat-server/internal/domain"
)

func TestListMessagesPage_FilterAndOrdering(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	roomID := uuid.NewString()

	base := time.Now().UTC().Add(-time.Hour)
	for i, text := range []string{"Apple pie", "banana bread", "apple turnover"} {
		m, err := CreateMessage(ctx, db, roomID, "u1", text)
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if err := db.Model(&domain.Message{}).Where("id = ?", m.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Second)).Error; err != nil {
			t.Fatalf("stamp: %v", err)
		}
	}

	items, err := ListMessagesPage(ctx, db, roomID, "APPLE", 0, 10)
	if err != nil {
		t.Fatalf("ListMessagesPage: %v", err)
	}
	if len(items) != 2 || items[0].Text != "apple turnover" || items[1].Text != "Apple pie" {
		t.Fatalf("wrong filter/order: %+v", items)
	}

	total, err := CountMessages(ctx, db, roomID, "apple")
	if err != nil || total != 2 {
		t.Fatalf("CountMessages: total=%d err=%v", total, err)
	}

	// Zero limit leaves the window unbounded.
	all, err := ListMessagesPage(ctx, db, roomID, "", 0, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("unbounded window: len=%d err=%v", len(all), err)
	}
}

func TestLatestMessage(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	roomID := uuid.NewString()

	got, err := LatestMessage(ctx, db, roomID)
	if err != nil {
		t.Fatalf("LatestMessage empty: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for empty room, got %+v", got)
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 2; i++ {
		m, err := CreateMessage(ctx, db, roomID, "u1", fmt.Sprintf("m-%d", i))
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if err := db.Model(&domain.Message{}).Where("id = ?", m.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Second)).Error; err != nil {
			t.Fatalf("stamp: %v", err)
		}
	}
	got, err = LatestMessage(ctx, db, roomID)
	if err != nil {
		t.Fatalf("LatestMessage: %v", err)
	}
	if got == nil || got.Text != "m-1" {
		t.Fatalf("wrong latest: %+v", got)
	}
}

func TestGetRoomMessage_ScopedToRoom(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	roomA := uuid.NewString()
	roomB := uuid.NewString()
	m, err := CreateMessage(ctx, db, roomA, "u1", "hello")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if _, err := GetRoomMessage(ctx, db, roomA, m.ID); err != nil {
		t.Fatalf("GetRoomMessage same room: %v", err)
	}
	if _, err := GetRoomMessage(ctx, db, roomB, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across rooms, got %v", err)
	}
}

func TestUpdateMessageText_RefreshesTimestamp(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	roomID := uuid.NewString()

	m, err := CreateMessage(ctx, db, roomID, "u1", "before")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	old := time.Now().UTC().Add(-time.Hour)
	if err := db.Model(&domain.Message{}).Where("id = ?", m.ID).
		Update("updated_at", old).Error; err != nil {
		t.Fatalf("stamp: %v", err)
	}

	if err := UpdateMessageText(ctx, db, m.ID, "u1", "after"); err != nil {
		t.Fatalf("UpdateMessageText: %v", err)
	}
	got, err := GetMessage(ctx, db, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Text != "after" || got.UpdatedBy != "u1" {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.UpdatedAt.After(old) {
		t.Fatalf("updated_at not refreshed: %v", got.UpdatedAt)
	}

	if err := UpdateMessageText(ctx, db, uuid.NewString(), "u1", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	roomID := uuid.NewString()

	m, err := CreateMessage(ctx, db, roomID, "u1", "gone soon")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := DeleteMessage(ctx, db, m.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, err := GetMessage(ctx, db, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Deleting an absent ID is a no-op.
	if err := DeleteMessage(ctx, db, m.ID); err != nil {
		t.Fatalf("second DeleteMessage: %v", err)
	}
}
