package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/config"
	"github.com/Dot-Click/proactive-be-sub000/internal/db/dbtest"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"
)

func testConfig() config.Config {
	return config.Config{JWTSecret: "test-secret", AccessTokenTTLMinutes: 15, SessionTTLDays: 7}
}

func TestUserService_RegisterAndLogin(t *testing.T) {
	gdb := dbtest.New(t)
	s := NewUserService(gdb, testConfig())
	ctx := context.Background()

	u, err := s.Register(ctx, RegisterInput{Email: " Alice@Example.com ", Password: "password1", FirstName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "alice@example.com" || u.Role != models.PlatformRoleUser || u.ID == "" {
		t.Errorf("registered user = %+v", u)
	}
	if _, err := s.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password2"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate register: err = %v, want ErrEmailTaken", err)
	}

	if _, err := s.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v", err)
	}
	if _, err := s.Login(ctx, "nobody@example.com", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: err = %v", err)
	}

	res, err := s.Login(ctx, "ALICE@example.com", "password1")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := auth.ParseAccessToken(res.AccessToken, "test-secret")
	if err != nil || claims.UserID != u.ID {
		t.Errorf("access token claims = %+v, %v", claims, err)
	}
	if res.SessionToken == "" {
		t.Error("missing session token")
	}
}

func TestUserService_Register_Validation(t *testing.T) {
	gdb := dbtest.New(t)
	s := NewUserService(gdb, testConfig())

	var verr *ValidationError
	_, err := s.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: "short"})
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("got %d field errors, want 2: %v", len(verr.Fields), verr)
	}
}

func TestUserService_RefreshAndLogout(t *testing.T) {
	gdb := dbtest.New(t)
	s := NewUserService(gdb, testConfig())
	ctx := context.Background()

	if _, err := s.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "password1"}); err != nil {
		t.Fatal(err)
	}
	login, err := s.Login(ctx, "bob@example.com", "password1")
	if err != nil {
		t.Fatal(err)
	}

	ref, err := s.RefreshTokens(ctx, login.SessionToken)
	if err != nil {
		t.Fatal(err)
	}
	if ref.SessionToken == login.SessionToken {
		t.Error("refresh should rotate the session token")
	}
	if _, err := s.RefreshTokens(ctx, login.SessionToken); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("reusing old token: err = %v, want ErrInvalidSession", err)
	}

	if err := s.Logout(ctx, ref.SessionToken); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefreshTokens(ctx, ref.SessionToken); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("after logout: err = %v, want ErrInvalidSession", err)
	}
}
