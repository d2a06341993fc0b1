package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/db/dbtest"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"
)

type published struct {
	chatID  string
	userIDs []string
	frame   []byte
}

// fakeBroadcaster 记录所有出站调用。
type fakeBroadcaster struct {
	mu           sync.Mutex
	published    []published
	unsubscribed []string
	closed       []string
}

func (f *fakeBroadcaster) Publish(chatID string, userIDs []string, frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{chatID: chatID, userIDs: userIDs, frame: frame})
}

func (f *fakeBroadcaster) Unsubscribe(chatID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, chatID+"/"+userID)
}

func (f *fakeBroadcaster) CloseRoom(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, chatID)
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func ident(u models.User) auth.Identity { return auth.IdentityFromUser(u) }

func TestParticipantService_AddIsUnique(t *testing.T) {
	gdb := dbtest.New(t)
	owner := dbtest.User(t, gdb, "owner", "owner@example.com", "Olive", "")
	dbtest.User(t, gdb, "bob", "bob@example.com", "Bob", "")
	dbtest.Room(t, gdb, "r1", "owner", "owner")
	s := NewParticipantService(gdb, &fakeBroadcaster{})
	ctx := context.Background()

	added, err := s.Add(ctx, ident(owner), "r1", "bob", "")
	if err != nil || !added {
		t.Fatalf("first Add() = %v, %v", added, err)
	}
	added, err = s.Add(ctx, ident(owner), "r1", "bob", models.RoomRoleAdmin)
	if err != nil || added {
		t.Fatalf("second Add() = %v, %v; want false, nil", added, err)
	}
	var n int64
	gdb.Model(&models.Participant{}).Where("chat_id = ? AND user_id = ?", "r1", "bob").Count(&n)
	if n != 1 {
		t.Errorf("got %d participant rows for bob, want 1", n)
	}
}

func TestParticipantService_Add_Errors(t *testing.T) {
	gdb := dbtest.New(t)
	owner := dbtest.User(t, gdb, "owner", "owner@example.com", "", "")
	bob := dbtest.User(t, gdb, "bob", "bob@example.com", "", "")
	dbtest.Room(t, gdb, "r1", "owner", "owner", "bob")
	s := NewParticipantService(gdb, &fakeBroadcaster{})
	ctx := context.Background()

	tests := []struct {
		name   string
		actor  auth.Identity
		chatID string
		userID string
		role   models.RoomRole
		want   error
	}{
		{"plain member cannot add", ident(bob), "r1", "owner", "", ErrForbidden},
		{"unknown room", ident(owner), "nope", "bob", "", ErrChatNotFound},
		{"unknown user", ident(owner), "r1", "ghost", "", ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Add(ctx, tt.actor, tt.chatID, tt.userID, tt.role)
			if !errors.Is(err, tt.want) {
				t.Errorf("Add() err = %v, want %v", err, tt.want)
			}
		})
	}

	var verr *ValidationError
	if _, err := s.Add(ctx, ident(owner), "r1", "bob", "captain"); !errors.As(err, &verr) {
		t.Errorf("invalid role: err = %v, want ValidationError", err)
	}
}

func TestParticipantService_Authorize(t *testing.T) {
	gdb := dbtest.New(t)
	alice := dbtest.User(t, gdb, "alice", "alice@example.com", "Alice", "")
	bob := dbtest.User(t, gdb, "bob", "bob@example.com", "Bob", "")
	admin := dbtest.Admin(t, gdb, "root")
	dbtest.Room(t, gdb, "r1", "alice", "alice")
	s := NewParticipantService(gdb, &fakeBroadcaster{})
	ctx := context.Background()

	tests := []struct {
		name   string
		id     auth.Identity
		chatID string
		want   error
	}{
		{"member", ident(alice), "r1", nil},
		{"non member", ident(bob), "r1", ErrNotParticipant},
		{"admin bypass", ident(admin), "r1", nil},
		{"missing room", ident(alice), "r2", ErrChatNotFound},
		{"anonymous", auth.Identity{}, "r1", ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Authorize(ctx, tt.chatID, tt.id)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authorize() err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParticipantService_Remove(t *testing.T) {
	gdb := dbtest.New(t)
	owner := dbtest.User(t, gdb, "owner", "owner@example.com", "", "")
	bob := dbtest.User(t, gdb, "bob", "bob@example.com", "", "")
	carol := dbtest.User(t, gdb, "carol", "carol@example.com", "", "")
	dbtest.Room(t, gdb, "r1", "owner", "owner", "bob", "carol")
	bc := &fakeBroadcaster{}
	s := NewParticipantService(gdb, bc)
	ctx := context.Background()

	if err := s.Remove(ctx, ident(bob), "r1", "carol"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member removing another: err = %v, want ErrForbidden", err)
	}
	if err := s.Remove(ctx, ident(carol), "r1", "carol"); err != nil {
		t.Fatalf("self removal: %v", err)
	}
	if err := s.Remove(ctx, ident(owner), "r1", "bob"); err != nil {
		t.Fatalf("owner removal: %v", err)
	}
	if err := s.Remove(ctx, ident(owner), "r1", "bob"); !errors.Is(err, ErrParticipantNotFound) {
		t.Errorf("second removal: err = %v, want ErrParticipantNotFound", err)
	}
	if len(bc.unsubscribed) != 2 || bc.unsubscribed[0] != "r1/carol" || bc.unsubscribed[1] != "r1/bob" {
		t.Errorf("unsubscribed = %v", bc.unsubscribed)
	}
	ids, _ := s.MemberIDs(ctx, "r1")
	if len(ids) != 1 || ids[0] != "owner" {
		t.Errorf("MemberIDs() = %v, want [owner]", ids)
	}
}
