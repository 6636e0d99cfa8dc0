package httpapi

import (
	"context"
	"testing"
	"time"

	"spbukita/backend/internal/domain"
)

// userStoreStub records password upgrades so the bcrypt migration path can be
// asserted.
type userStoreStub struct {
	users   []domain.UserAccount
	updated map[string]string
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.users = append(s.users, user)
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	return s.users, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	if s.updated == nil {
		s.updated = make(map[string]string)
	}
	s.updated[username] = password
	return nil
}

func TestBootstrapUpgradesPlainTextPasswords(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{
		{Username: "legacy", Password: "plain-secret", Role: "staff", Active: true, CreatedAt: time.Now()},
	}}

	auth := NewAuthManager("test-secret-key-not-for-production", time.Hour, stub)

	upgraded, ok := stub.updated["legacy"]
	if !ok {
		t.Fatalf("plain-text password must be rewritten in the store")
	}
	if !isPasswordHash(upgraded) {
		t.Fatalf("rewritten password must be a bcrypt hash, got %q", upgraded)
	}

	// The original plain password still logs in after the upgrade.
	resp, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plain-secret"})
	if err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
	if resp.Role != "staff" {
		t.Fatalf("role = %s, want staff", resp.Role)
	}
}

func TestLoginRejectsBadPasswordAndInactiveAccount(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{
		{Username: "wati", Password: "secret123", Role: "staff", Active: true, CreatedAt: time.Now()},
		{Username: "gone", Password: "secret123", Role: "staff", Active: false, CreatedAt: time.Now()},
	}}
	auth := NewAuthManager("test-secret-key-not-for-production", time.Hour, stub)

	if _, err := auth.Login(domain.LoginRequest{Username: "wati", Password: "nope"}); err == nil {
		t.Fatalf("wrong password must fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "gone", Password: "secret123"}); err == nil {
		t.Fatalf("inactive account must fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "nobody", Password: "secret123"}); err == nil {
		t.Fatalf("unknown user must fail")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{
		{Username: "wati", Password: "secret123", Role: "staff", Active: true, CreatedAt: time.Now()},
	}}
	auth := NewAuthManager("test-secret-key-not-for-production", time.Hour, stub)

	resp, err := auth.Login(domain.LoginRequest{Username: "wati", Password: "secret123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "wati" || actor.Role != "staff" {
		t.Fatalf("actor = %+v", actor)
	}

	// A token signed with a different secret must not parse.
	other := NewAuthManager("a-completely-different-secret-key", time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("token from another secret must be rejected")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth := NewAuthManager("test-secret-key-not-for-production", time.Hour, &userStoreStub{})

	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "ab", Password: "secret123"}); err == nil {
		t.Fatalf("short username must fail")
	}
	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "budi", Password: "123"}); err == nil {
		t.Fatalf("short password must fail")
	}

	created, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "Budi", Password: "secret123"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Username != "budi" {
		t.Fatalf("username must be lowercased, got %s", created.Username)
	}
	if created.Role != "staff" {
		t.Fatalf("role = %s, want staff", created.Role)
	}

	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "budi", Password: "secret123"}); err == nil {
		t.Fatalf("duplicate username must fail")
	}

	staff := auth.ListStaff()
	if len(staff) != 1 || staff[0].Username != "budi" {
		t.Fatalf("staff listing = %+v", staff)
	}
}
