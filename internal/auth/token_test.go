package auth

import (
	"testing"
	"time"

	"barstock/internal/core"
)

func testService(ttl time.Duration) *Service {
	return &Service{secret: []byte("test-secret"), accessTTL: ttl}
}

func TestMintAndParseAccess(t *testing.T) {
	s := testService(15 * time.Minute)
	payload := UserPayload{
		UserID:        42,
		BusinessID:    7,
		EffectiveRole: core.RoleManager,
		Roles:         map[int64]core.Role{3: core.RoleManager, 9: core.RoleStaff},
		LocationIDs:   []int64{3, 9},
	}

	raw, expiresAt, err := s.MintAccess(payload)
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if remaining := time.Until(expiresAt); remaining < 14*time.Minute {
		t.Fatalf("expiry too soon: %v", remaining)
	}

	got, err := s.ParseAccess(raw)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if got.UserID != 42 || got.BusinessID != 7 || got.EffectiveRole != core.RoleManager {
		t.Fatalf("payload mismatch: %+v", got)
	}
	if got.RoleAt(3) != core.RoleManager || got.RoleAt(9) != core.RoleStaff {
		t.Fatalf("roles mismatch: %v", got.Roles)
	}
	if got.RoleAt(99) != "" || got.HasLocation(99) {
		t.Fatal("unknown location should have no role")
	}
	if len(got.LocationIDs) != 2 {
		t.Fatalf("location ids mismatch: %v", got.LocationIDs)
	}
}

func TestParseAccessRejectsTampered(t *testing.T) {
	s := testService(15 * time.Minute)
	raw, _, err := s.MintAccess(UserPayload{UserID: 1, BusinessID: 1, EffectiveRole: core.RoleStaff})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.ParseAccess(raw + "x"); err == nil {
		t.Fatal("tampered token parsed")
	}

	other := testService(15 * time.Minute)
	other.secret = []byte("different-secret")
	_, err = other.ParseAccess(raw)
	if err == nil {
		t.Fatal("token signed with another secret parsed")
	}
	if de, ok := core.AsDomainError(err); !ok || de.Code != core.CodeUnauthenticated {
		t.Fatalf("want ERR_UNAUTHENTICATED, got %v", err)
	}
}

func TestParseAccessRejectsExpired(t *testing.T) {
	s := testService(-1 * time.Minute)
	raw, _, err := s.MintAccess(UserPayload{UserID: 1, BusinessID: 1, EffectiveRole: core.RoleStaff})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ParseAccess(raw); err == nil {
		t.Fatal("expired token parsed")
	}
}

func TestBuildPayloadEffectiveRole(t *testing.T) {
	user := &core.User{ID: 5, BusinessID: 2}

	p := buildPayload(user, map[int64]core.Role{
		10: core.RoleStaff,
		11: core.RoleBusinessAdmin,
		12: core.RoleManager,
	})
	if p.EffectiveRole != core.RoleBusinessAdmin {
		t.Fatalf("effective role = %s, want business_admin", p.EffectiveRole)
	}
	if len(p.LocationIDs) != 3 || p.LocationIDs[0] != 10 || p.LocationIDs[2] != 12 {
		t.Fatalf("location ids not sorted: %v", p.LocationIDs)
	}

	empty := buildPayload(user, map[int64]core.Role{})
	if empty.EffectiveRole != core.RoleStaff {
		t.Fatalf("user with no grants should be staff, got %s", empty.EffectiveRole)
	}
	if len(empty.LocationIDs) != 0 {
		t.Fatalf("user with no grants should have no locations: %v", empty.LocationIDs)
	}
}
