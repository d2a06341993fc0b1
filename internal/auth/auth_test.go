package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/db/dbtest"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt 最多 72 字节
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	token, err := GenerateAccessToken("user-42", models.PlatformRoleCoordinator, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	expired, err := GenerateAccessToken("user-42", models.PlatformRoleUser, secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID string
		wantErr bool
	}{
		{"valid token", token, secret, "user-42", false},
		{"wrong secret", token, "wrong-secret", "", true},
		{"expired token", expired, secret, "", true},
		{"invalid token", "invalid.token.here", secret, "", true},
		{"empty token", "", secret, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && claims.UserID != tt.wantUID {
				t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestGenerateSessionToken(t *testing.T) {
	token1, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}
	token2, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}
	if token1 == token2 {
		t.Error("GenerateSessionToken() should generate unique tokens")
	}
	if len(token1) != 64 {
		t.Errorf("GenerateSessionToken() token length = %d, want 64", len(token1))
	}
}

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query token", "/ws?token=abc", "", "abc"},
		{"bearer header", "/ws", "Bearer xyz", "xyz"},
		{"lowercase bearer", "/ws", "bearer xyz", "xyz"},
		{"query wins", "/ws?token=abc", "Bearer xyz", "abc"},
		{"basic header ignored", "/ws", "Basic Zm9v", ""},
		{"nothing", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := CredentialFromRequest(r); got != tt.want {
				t.Errorf("CredentialFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticator(t *testing.T) {
	gdb := dbtest.New(t)
	alice := dbtest.User(t, gdb, "alice", "alice@example.com", "Alice", "Smith")
	dbtest.User(t, gdb, "bob", "bob.jones@example.com", "", "")

	secret := "test-secret"
	access, err := GenerateAccessToken(alice.ID, alice.Role, secret, 15)
	if err != nil {
		t.Fatal(err)
	}
	ghost, err := GenerateAccessToken("ghost", models.PlatformRoleUser, secret, 15)
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveSession(gdb, "bob", "live-session", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := SaveSession(gdb, "bob", "expired-session", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := SaveSession(gdb, "bob", "revoked-session", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := RevokeSession(gdb, "revoked-session"); err != nil {
		t.Fatal(err)
	}

	strict := NewAuthenticator(gdb, secret, false)
	permissive := NewAuthenticator(gdb, secret, true)

	tests := []struct {
		name   string
		authn  *Authenticator
		cred   string
		wantID string
		wantNm string
	}{
		{"signed token", strict, access, "alice", "Alice Smith"},
		{"session token", strict, "live-session", "bob", "bob.jones"},
		{"token for missing user", strict, ghost, "", ""},
		{"expired session", strict, "expired-session", "", ""},
		{"revoked session", strict, "revoked-session", "", ""},
		{"raw user id rejected by default", strict, "alice", "", ""},
		{"raw user id when enabled", permissive, "alice", "alice", "Alice Smith"},
		{"unknown credential when enabled", permissive, "nobody", "", ""},
		{"empty credential", permissive, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.authn.AuthenticateSocket(context.Background(), tt.cred)
			if tt.wantID == "" {
				if !errors.Is(err, ErrUnauthenticated) {
					t.Fatalf("AuthenticateSocket() error = %v, want ErrUnauthenticated", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthenticateSocket() error = %v", err)
			}
			if id.ID != tt.wantID || id.DisplayName != tt.wantNm {
				t.Errorf("AuthenticateSocket() = %+v, want id %s name %s", id, tt.wantID, tt.wantNm)
			}
		})
	}

	if _, err := permissive.AuthenticateBearer(context.Background(), "alice"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("AuthenticateBearer() must never accept a raw user id, got %v", err)
	}
}
