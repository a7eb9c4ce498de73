package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/repo"
)

// ----- Helpers -----

func newRoomSvcDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:roomsvc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *domain.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), db, email, "Test", "User", "secret-hash")
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func strptr(s string) *string { return &s }

// ----- ValidateParticipants -----

func TestValidateParticipants(t *testing.T) {
	cases := []struct {
		name         string
		roomType     domain.RoomType
		participants []string
		wantErr      bool
	}{
		{"direct one other", domain.RoomTypeDirect, []string{"b"}, false},
		{"direct none", domain.RoomTypeDirect, nil, true},
		{"direct two others", domain.RoomTypeDirect, []string{"b", "c"}, true},
		{"group one other", domain.RoomTypeGroup, []string{"b"}, false},
		{"group many", domain.RoomTypeGroup, []string{"b", "c", "d"}, false},
		{"group empty", domain.RoomTypeGroup, []string{}, true},
		{"actor listed", domain.RoomTypeGroup, []string{"a", "b"}, true},
		{"duplicates", domain.RoomTypeGroup, []string{"b", "b"}, true},
		{"unknown type", domain.RoomType("BROADCAST"), []string{"b"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParticipants("a", tc.roomType, tc.participants)
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// ----- Create -----

func TestRoomService_Create_Group(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	c := seedUser(t, db, "c@example.com")

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("standup"), []string{b.ID, c.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if detail.ID == "" || detail.Type != domain.RoomTypeGroup {
		t.Fatalf("unexpected room: %+v", detail.Room)
	}
	if detail.Name == nil || *detail.Name != "standup" {
		t.Fatalf("name not persisted: %v", detail.Name)
	}
	if detail.CreatedBy != a.ID || detail.UpdatedBy != a.ID {
		t.Fatalf("audit fields wrong: %+v", detail.Room)
	}
	if len(detail.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(detail.Participants))
	}
	for _, p := range detail.Participants {
		if p.Password != "" || p.RefreshToken != "" {
			t.Fatalf("participant %s not sanitized", p.ID)
		}
	}
	if len(detail.Messages) != 0 {
		t.Fatalf("new room should have no messages, got %d", len(detail.Messages))
	}
}

func TestRoomService_Create_DirectParticipantCount(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	c := seedUser(t, db, "c@example.com")

	if _, err := svc.Create(ctx, a.ID, domain.RoomTypeDirect, nil, []string{b.ID, c.ID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for two others, got %v", err)
	}
	if _, err := svc.Create(ctx, a.ID, domain.RoomTypeDirect, nil, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero others, got %v", err)
	}

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeDirect, nil, []string{b.ID})
	if err != nil {
		t.Fatalf("Create direct: %v", err)
	}
	if len(detail.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(detail.Participants))
	}
}

func TestRoomService_Create_NameConflict(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")

	if _, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("general"), []string{b.ID}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("general"), []string{b.ID})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRoomService_Create_UniqueIndexViolationIsConflict(t *testing.T) {
	db := newRoomSvcDB(t)
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")

	if _, err := repo.CreateRoom(ctx, db, a.ID, domain.RoomTypeGroup, strptr("general")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// A second writer can slip past the name count and land on the unique
	// index instead. That failure must classify as a conflict, not a
	// storage fault.
	_, err := repo.CreateRoom(ctx, db, a.ID, domain.RoomTypeGroup, strptr("general"))
	if err == nil {
		t.Fatal("expected unique index violation")
	}
	if !isUniqueViolation(err) {
		t.Fatalf("driver error not recognized as unique violation: %v", err)
	}
}

// ----- Get -----

func TestRoomService_Get_NotFoundAndAuthorization(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	outsider := seedUser(t, db, "x@example.com")

	if _, err := svc.Get(ctx, a.ID, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeDirect, nil, []string{b.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Get(ctx, outsider.ID, detail.ID); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization for outsider, got %v", err)
	}
	if _, err := svc.Get(ctx, b.ID, detail.ID); err != nil {
		t.Fatalf("member Get: %v", err)
	}
}

func TestRoomService_Get_MessageWindow(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db, MessagePageSize: 2}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeDirect, nil, []string{b.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		m, err := repo.CreateMessage(ctx, db, detail.ID, a.ID, fmt.Sprintf("msg-%d", i))
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
		if err := db.Model(&domain.Message{}).Where("id = ?", m.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Second)).Error; err != nil {
			t.Fatalf("stamp message: %v", err)
		}
	}

	got, err := svc.Get(ctx, a.ID, detail.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected a 2-message window, got %d", len(got.Messages))
	}
	if got.Messages[0].Text != "msg-2" || got.Messages[1].Text != "msg-1" {
		t.Fatalf("wrong window order: %q, %q", got.Messages[0].Text, got.Messages[1].Text)
	}
	if got.Messages[0].Creator == nil || got.Messages[0].Creator.ID != a.ID {
		t.Fatalf("creator not attached: %+v", got.Messages[0].Creator)
	}
}

// ----- ListForUser -----

func TestRoomService_ListForUser(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	c := seedUser(t, db, "c@example.com")

	direct, err := svc.Create(ctx, a.ID, domain.RoomTypeDirect, nil, []string{b.ID})
	if err != nil {
		t.Fatalf("Create direct: %v", err)
	}
	if _, err := svc.Create(ctx, b.ID, domain.RoomTypeGroup, strptr("others"), []string{c.ID}); err != nil {
		t.Fatalf("Create group: %v", err)
	}
	if _, err := repo.CreateMessage(ctx, db, direct.ID, b.ID, "hi there"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rooms, err := svc.ListForUser(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room for a, got %d", len(rooms))
	}
	summary := rooms[0]
	if summary.ID != direct.ID || len(summary.Participants) != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.LastMessage == nil || summary.LastMessage.Text != "hi there" {
		t.Fatalf("last message missing: %+v", summary.LastMessage)
	}
	if summary.LastMessage.Creator == nil || summary.LastMessage.Creator.ID != b.ID {
		t.Fatalf("last message creator not attached: %+v", summary.LastMessage.Creator)
	}

	none, err := svc.ListForUser(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("ListForUser unknown: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no rooms, got %d", len(none))
	}
}

// ----- Update -----

func TestRoomService_Update_DirectMembershipImmutable(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	c := seedUser(t, db, "c@example.com")

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeDirect, nil, []string{b.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = svc.Update(ctx, a.ID, detail.ID, nil, &[]string{c.ID})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRoomService_Update_ReplacesMembership(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	c := seedUser(t, db, "c@example.com")

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("team"), []string{b.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := svc.Update(ctx, a.ID, detail.ID, strptr("team-renamed"), &[]string{c.ID})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name == nil || *updated.Name != "team-renamed" {
		t.Fatalf("rename not applied: %v", updated.Name)
	}
	ids := make(map[string]bool, len(updated.Participants))
	for _, p := range updated.Participants {
		ids[p.ID] = true
	}
	if len(ids) != 2 || !ids[a.ID] || !ids[c.ID] || ids[b.ID] {
		t.Fatalf("membership not replaced: %v", ids)
	}

	// The removed member can no longer read the room.
	if _, err := svc.Get(ctx, b.ID, detail.ID); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization for removed member, got %v", err)
	}
}

func TestRoomService_Update_ConcurrentMembershipReplace(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	c := seedUser(t, db, "c@example.com")
	d := seedUser(t, db, "d@example.com")

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("crowded"), []string{b.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// One writer at a time, as SQLite itself enforces.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	setOne := []string{b.ID, c.ID}
	setTwo := []string{d.ID}
	var errOne, errTwo error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errOne = svc.Update(ctx, a.ID, detail.ID, nil, &setOne)
	}()
	go func() {
		defer wg.Done()
		_, errTwo = svc.Update(ctx, a.ID, detail.ID, nil, &setTwo)
	}()
	wg.Wait()

	if errOne != nil && errTwo != nil {
		t.Fatalf("both updates failed: %v / %v", errOne, errTwo)
	}

	members, err := repo.ListParticipants(ctx, db, detail.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	got := make(map[string]bool, len(members))
	for _, m := range members {
		if got[m.ID] {
			t.Fatalf("duplicate participant row for %s", m.ID)
		}
		got[m.ID] = true
	}

	same := func(want ...string) bool {
		if len(got) != len(want) {
			return false
		}
		for _, id := range want {
			if !got[id] {
				return false
			}
		}
		return true
	}
	// Whichever update committed last wins outright. The two sets must
	// never interleave.
	if !same(a.ID, b.ID, c.ID) && !same(a.ID, d.ID) {
		t.Fatalf("membership is a blend of both updates: %v", got)
	}
}

func TestRoomService_Update_NameConflictAndNonMember(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")
	outsider := seedUser(t, db, "x@example.com")

	first, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("alpha"), []string{b.ID})
	if err != nil {
		t.Fatalf("Create alpha: %v", err)
	}
	if _, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("beta"), []string{b.ID}); err != nil {
		t.Fatalf("Create beta: %v", err)
	}

	if _, err := svc.Update(ctx, a.ID, first.ID, strptr("beta"), nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// Renaming to the current name is not a conflict with itself.
	if _, err := svc.Update(ctx, a.ID, first.ID, strptr("alpha"), nil); err != nil {
		t.Fatalf("self-rename: %v", err)
	}
	if _, err := svc.Update(ctx, outsider.ID, first.ID, strptr("gamma"), nil); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
}

// ----- Delete -----

func TestRoomService_Delete_Cascade(t *testing.T) {
	db := newRoomSvcDB(t)
	svc := &RoomService{DB: db}
	ctx := context.Background()

	a := seedUser(t, db, "a@example.com")
	b := seedUser(t, db, "b@example.com")

	detail, err := svc.Create(ctx, a.ID, domain.RoomTypeGroup, strptr("doomed"), []string{b.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.CreateMessage(ctx, db, detail.ID, a.ID, "last words"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if err := svc.Delete(ctx, detail.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, a.ID, detail.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	var msgs int64
	if err := db.Model(&domain.Message{}).Where("room_id = ?", detail.ID).Count(&msgs).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	var members int64
	if err := db.Model(&domain.RoomParticipant{}).Where("room_id = ?", detail.ID).Count(&members).Error; err != nil {
		t.Fatalf("count participants: %v", err)
	}
	if msgs != 0 || members != 0 {
		t.Fatalf("cascade incomplete: %d messages, %d participants left", msgs, members)
	}

	if err := svc.Delete(ctx, detail.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
