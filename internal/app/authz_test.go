package app

import (
	"context"
	"testing"

	"barstock/internal/auth"
	"barstock/internal/core"
)

func payload(business int64, effective core.Role, roles map[int64]core.Role) *auth.UserPayload {
	return &auth.UserPayload{
		UserID:        1,
		BusinessID:    business,
		EffectiveRole: effective,
		Roles:         roles,
	}
}

func codeOf(t *testing.T, err error) core.ErrorCode {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	de, ok := core.AsDomainError(err)
	if !ok {
		t.Fatalf("not a domain error: %v", err)
	}
	return de.Code
}

func TestRoleCheckTenantScope(t *testing.T) {
	p := payload(1, core.RoleBusinessAdmin, nil)

	if err := roleCheck(p, 1, 0, core.RoleBusinessAdmin); err != nil {
		t.Fatalf("admin denied in own business: %v", err)
	}

	// Another business's resource must read as not-found, never forbidden.
	if code := codeOf(t, roleCheck(p, 2, 0, core.RoleStaff)); code != core.CodeNotFound {
		t.Fatalf("cross-tenant business = %s, want ERR_NOT_FOUND", code)
	}
	if code := codeOf(t, roleCheck(p, 2, 77, core.RoleStaff)); code != core.CodeNotFound {
		t.Fatalf("cross-tenant location = %s, want ERR_NOT_FOUND", code)
	}
}

func TestRoleCheckPlatformAdminBypass(t *testing.T) {
	p := payload(1, core.RolePlatformAdmin, nil)
	if err := roleCheck(p, 2, 0, core.RoleBusinessAdmin); err != nil {
		t.Fatalf("platform admin denied cross-tenant: %v", err)
	}
	if err := roleCheck(p, 2, 55, core.RoleManager); err != nil {
		t.Fatalf("platform admin denied location op: %v", err)
	}
}

func TestRoleCheckLocationScope(t *testing.T) {
	// Manager at location 10, staff at location 11, nothing at 12.
	p := payload(1, core.RoleManager, map[int64]core.Role{
		10: core.RoleManager,
		11: core.RoleStaff,
	})

	if err := roleCheck(p, 1, 10, core.RoleManager); err != nil {
		t.Fatalf("manager denied at own location: %v", err)
	}
	if err := roleCheck(p, 1, 11, core.RoleStaff); err != nil {
		t.Fatalf("staff op denied at staff location: %v", err)
	}

	// Role at the location counts, not the effective role.
	if code := codeOf(t, roleCheck(p, 1, 11, core.RoleManager)); code != core.CodeForbidden {
		t.Fatalf("staff-at-location passing manager gate: %s", code)
	}
	// No grant at the location at all.
	if code := codeOf(t, roleCheck(p, 1, 12, core.RoleStaff)); code != core.CodeForbidden {
		t.Fatalf("no-grant location = %s, want ERR_FORBIDDEN", code)
	}
}

func TestRoleCheckBusinessAdminSkipsLocationGrants(t *testing.T) {
	p := payload(1, core.RoleBusinessAdmin, map[int64]core.Role{})
	if err := roleCheck(p, 1, 10, core.RoleManager); err != nil {
		t.Fatalf("business admin needs no per-location grant: %v", err)
	}
}

func TestRoleCheckBusinessScopedMinimum(t *testing.T) {
	p := payload(1, core.RoleManager, map[int64]core.Role{10: core.RoleManager})

	if err := roleCheck(p, 1, 0, core.RoleManager); err != nil {
		t.Fatalf("manager denied manager-level business op: %v", err)
	}
	if code := codeOf(t, roleCheck(p, 1, 0, core.RoleBusinessAdmin)); code != core.CodeForbidden {
		t.Fatalf("manager passing admin gate: %s", code)
	}
}

func TestRoleCheckNilPrincipal(t *testing.T) {
	if code := codeOf(t, roleCheck(nil, 1, 0, core.RoleStaff)); code != core.CodeUnauthenticated {
		t.Fatalf("nil principal = %s, want ERR_UNAUTHENTICATED", code)
	}
}

func TestGrantUserRoleCannotEscalate(t *testing.T) {
	// A business admin must not be able to mint a platform admin. The
	// rank guard runs before any lookup, so no database is needed.
	s := &appService{}
	p := payload(1, core.RoleBusinessAdmin, map[int64]core.Role{10: core.RoleBusinessAdmin})

	err := s.GrantUserRole(context.Background(), p, 2, 10, core.RolePlatformAdmin)
	if code := codeOf(t, err); code != core.CodeForbidden {
		t.Fatalf("escalating grant = %s, want ERR_FORBIDDEN", code)
	}

	_, err = s.InviteUser(context.Background(), p, InviteUserRequest{
		Email:       "new@bar.test",
		DisplayName: "New User",
		Password:    "longenough",
		Roles:       map[int64]core.Role{10: core.RolePlatformAdmin},
	})
	if code := codeOf(t, err); code != core.CodeForbidden {
		t.Fatalf("escalating invite = %s, want ERR_FORBIDDEN", code)
	}
}
