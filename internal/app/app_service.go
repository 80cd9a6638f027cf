package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"barstock/internal/auth"
	"barstock/internal/cache"
	"barstock/internal/core"
)

type appService struct {
	pool          *pgxpool.Pool
	authsvc       *auth.Service
	ledger        *core.Ledger
	engine        *core.DepletionEngine
	hub           *core.SessionHub
	catalog       core.CatalogService
	mappings      core.MappingService
	taps          core.TapService
	sales         core.SalesService
	sessions      core.SessionService
	settings      core.SettingsService
	users         core.UserService
	businesses    core.BusinessService
	notifications core.NotificationService
	expected      core.ExpectedService
	par           core.ParService
	pattern       core.PatternService
	alerts        core.AlertService
	reporting     core.ReportingService
	audit         core.AuditService
	cache         *cache.Cache
	importers     []POSImporter
	log           *zap.Logger
}

// Deps carries everything the facade composes. Cache may be nil;
// Importers is usually empty because the POS adapters live outside
// this module.
type Deps struct {
	Pool          *pgxpool.Pool
	Auth          *auth.Service
	Ledger        *core.Ledger
	Engine        *core.DepletionEngine
	Hub           *core.SessionHub
	Catalog       core.CatalogService
	Mappings      core.MappingService
	Taps          core.TapService
	Sales         core.SalesService
	Sessions      core.SessionService
	Settings      core.SettingsService
	Users         core.UserService
	Businesses    core.BusinessService
	Notifications core.NotificationService
	Expected      core.ExpectedService
	Par           core.ParService
	Pattern       core.PatternService
	Alerts        core.AlertService
	Reporting     core.ReportingService
	Audit         core.AuditService
	Cache         *cache.Cache
	Importers     []POSImporter
	Log           *zap.Logger
}

// NewAppService constructs the facade that satisfies ApplicationService.
func NewAppService(d Deps) ApplicationService {
	return &appService{
		pool:          d.Pool,
		authsvc:       d.Auth,
		ledger:        d.Ledger,
		engine:        d.Engine,
		hub:           d.Hub,
		catalog:       d.Catalog,
		mappings:      d.Mappings,
		taps:          d.Taps,
		sales:         d.Sales,
		sessions:      d.Sessions,
		settings:      d.Settings,
		users:         d.Users,
		businesses:    d.Businesses,
		notifications: d.Notifications,
		expected:      d.Expected,
		par:           d.Par,
		pattern:       d.Pattern,
		alerts:        d.Alerts,
		reporting:     d.Reporting,
		audit:         d.Audit,
		cache:         d.Cache,
		importers:     d.Importers,
		log:           d.Log,
	}
}

// recordAudit writes a best-effort audit row for a state-changing
// operation. objectID accepts anything Sprint can format.
func (s *appService) recordAudit(ctx context.Context, p *auth.UserPayload, action, objectType string, objectID any, before, after any) {
	entry := &core.AuditEntry{
		BusinessID: p.BusinessID,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   fmt.Sprint(objectID),
	}
	userID := p.UserID
	entry.ActorUserID = &userID
	if before != nil {
		if raw, err := json.Marshal(before); err == nil {
			entry.Before = raw
		}
	}
	if after != nil {
		if raw, err := json.Marshal(after); err == nil {
			entry.After = raw
		}
	}
	s.audit.Record(ctx, entry)
}

// ── auth ──

func (s *appService) Login(ctx context.Context, email, password, remoteIP string) (*auth.Session, error) {
	return s.authsvc.Login(ctx, email, password, remoteIP)
}

func (s *appService) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	return s.authsvc.Refresh(ctx, refreshToken)
}

func (s *appService) Logout(ctx context.Context, refreshToken string) error {
	return s.authsvc.Logout(ctx, refreshToken)
}

func (s *appService) Me(ctx context.Context, p *auth.UserPayload) (*MeResult, error) {
	if p == nil {
		return nil, errUnauthenticated()
	}
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return &MeResult{
		User:          user,
		EffectiveRole: p.EffectiveRole,
		Roles:         p.Roles,
		LocationIDs:   p.LocationIDs,
	}, nil
}

func (s *appService) ChangePassword(ctx context.Context, p *auth.UserPayload, currentPassword, newPassword string) error {
	if p == nil {
		return errUnauthenticated()
	}
	if len(newPassword) < 8 {
		return core.ErrValidation("new password must be at least 8 characters")
	}

	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	ok, err := auth.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return core.NewDomainError(core.CodeUnauthenticated, "current password is incorrect")
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, p.UserID, hash); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "password.change", "user", p.UserID, nil, nil)
	return nil
}

// ── businesses and locations ──

func (s *appService) CreateBusiness(ctx context.Context, p *auth.UserPayload, name string) (*core.Business, error) {
	if p == nil {
		return nil, errUnauthenticated()
	}
	if p.EffectiveRole != core.RolePlatformAdmin {
		return nil, core.ErrForbidden("only platform admins may create businesses")
	}
	b, err := s.businesses.CreateBusiness(ctx, name)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "business.create", "business", b.ID, nil, b)
	return b, nil
}

func (s *appService) GetBusiness(ctx context.Context, p *auth.UserPayload) (*core.Business, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleStaff); err != nil {
		return nil, err
	}
	return s.businesses.GetBusiness(ctx, p.BusinessID)
}

func (s *appService) CreateLocation(ctx context.Context, p *auth.UserPayload, name, timezone string) (*core.Location, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleBusinessAdmin); err != nil {
		return nil, err
	}
	loc, err := s.businesses.CreateLocation(ctx, p.BusinessID, name, timezone)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "location.create", "location", loc.ID, nil, loc)
	return loc, nil
}

func (s *appService) ListLocations(ctx context.Context, p *auth.UserPayload) ([]core.Location, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleStaff); err != nil {
		return nil, err
	}
	return s.businesses.ListLocations(ctx, p.BusinessID)
}

// businessOf lets the tenant check run against the caller's own
// business for operations with no explicit resource id. A nil principal
// still fails the role check itself.
func businessOf(p *auth.UserPayload) int64 {
	if p == nil {
		return 0
	}
	return p.BusinessID
}

// ── users ──

func (s *appService) InviteUser(ctx context.Context, p *auth.UserPayload, req InviteUserRequest) (*core.User, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleBusinessAdmin); err != nil {
		return nil, err
	}
	if len(req.Password) < 8 {
		return nil, core.ErrValidation("initial password must be at least 8 characters")
	}
	for locID, role := range req.Roles {
		if !core.ValidRole(role) {
			return nil, core.ErrValidation("invalid role %q", role)
		}
		// Nobody hands out a role above their own.
		if !core.RoleAtLeast(p.EffectiveRole, role) {
			return nil, core.ErrForbidden("cannot grant role %q above your own", role)
		}
		if err := s.requireLocationRole(ctx, p, locID, core.RoleBusinessAdmin); err != nil {
			return nil, err
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Create(ctx, p.BusinessID, req.Email, req.DisplayName, hash)
	if err != nil {
		return nil, err
	}
	for locID, role := range req.Roles {
		if err := s.users.GrantRole(ctx, user.ID, locID, role); err != nil {
			return nil, err
		}
	}
	s.recordAudit(ctx, p, "user.invite", "user", user.ID, nil, user)
	return user, nil
}

func (s *appService) ListUsers(ctx context.Context, p *auth.UserPayload) ([]core.User, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleBusinessAdmin); err != nil {
		return nil, err
	}
	return s.users.ListByBusiness(ctx, p.BusinessID)
}

// sameBusinessUser guards user-management operations against ids from
// other tenants.
func (s *appService) sameBusinessUser(ctx context.Context, p *auth.UserPayload, userID int64) (*core.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.BusinessID != p.BusinessID && p.EffectiveRole != core.RolePlatformAdmin {
		return nil, core.ErrNotFound("user", userID)
	}
	return user, nil
}

func (s *appService) GrantUserRole(ctx context.Context, p *auth.UserPayload, userID, locationID int64, role core.Role) error {
	if err := requireBusinessRole(p, businessOf(p), core.RoleBusinessAdmin); err != nil {
		return err
	}
	if !core.RoleAtLeast(p.EffectiveRole, role) {
		return core.ErrForbidden("cannot grant role %q above your own", role)
	}
	if _, err := s.sameBusinessUser(ctx, p, userID); err != nil {
		return err
	}
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleBusinessAdmin); err != nil {
		return err
	}
	if err := s.users.GrantRole(ctx, userID, locationID, role); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "user.grant_role", "user", userID,
		nil, map[string]any{"location_id": locationID, "role": role})
	return nil
}

func (s *appService) RevokeUserRole(ctx context.Context, p *auth.UserPayload, userID, locationID int64) error {
	if err := requireBusinessRole(p, businessOf(p), core.RoleBusinessAdmin); err != nil {
		return err
	}
	if _, err := s.sameBusinessUser(ctx, p, userID); err != nil {
		return err
	}
	if err := s.users.RevokeRole(ctx, userID, locationID); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "user.revoke_role", "user", userID,
		map[string]any{"location_id": locationID}, nil)
	return nil
}

func (s *appService) DeactivateUser(ctx context.Context, p *auth.UserPayload, userID int64) error {
	if err := requireBusinessRole(p, businessOf(p), core.RoleBusinessAdmin); err != nil {
		return err
	}
	if userID == p.UserID {
		return core.ErrValidation("cannot deactivate your own account")
	}
	user, err := s.sameBusinessUser(ctx, p, userID)
	if err != nil {
		return err
	}
	if err := s.users.Deactivate(ctx, userID); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "user.deactivate", "user", userID, user, nil)
	return nil
}

// ── settings and audit ──

func (s *appService) BusinessSettings(ctx context.Context, p *auth.UserPayload) (*core.Settings, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleManager); err != nil {
		return nil, err
	}
	return s.settings.ForBusiness(ctx, p.BusinessID)
}

func (s *appService) LocationSettings(ctx context.Context, p *auth.UserPayload, locationID int64) (*core.Settings, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.settings.ForLocation(ctx, locationID)
}

func (s *appService) UpdateBusinessSettings(ctx context.Context, p *auth.UserPayload, patch json.RawMessage) (*core.Settings, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleBusinessAdmin); err != nil {
		return nil, err
	}
	before, err := s.settings.ForBusiness(ctx, p.BusinessID)
	if err != nil {
		return nil, err
	}
	after, err := s.settings.UpdateBusiness(ctx, p.BusinessID, patch)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "settings.update", "business", p.BusinessID, before, after)
	return after, nil
}

func (s *appService) UpdateLocationSettings(ctx context.Context, p *auth.UserPayload, locationID int64, patch json.RawMessage) (*core.Settings, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleBusinessAdmin); err != nil {
		return nil, err
	}
	before, err := s.settings.ForLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	after, err := s.settings.UpdateLocation(ctx, locationID, patch)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "settings.update", "location", locationID, before, after)
	return after, nil
}

func (s *appService) AuditLog(ctx context.Context, p *auth.UserPayload, filter core.AuditFilter) ([]core.AuditEntry, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleAccounting); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, p.BusinessID, filter)
}

// ── notifications ──

func (s *appService) MyNotifications(ctx context.Context, p *auth.UserPayload, unreadOnly bool, limit int) ([]core.Notification, error) {
	if p == nil {
		return nil, errUnauthenticated()
	}
	return s.notifications.List(ctx, p.UserID, unreadOnly, limit)
}

func (s *appService) MarkNotificationRead(ctx context.Context, p *auth.UserPayload, notificationID int64) error {
	if p == nil {
		return errUnauthenticated()
	}
	return s.notifications.MarkRead(ctx, p.UserID, notificationID)
}

func (s *appService) MarkAllNotificationsRead(ctx context.Context, p *auth.UserPayload) (int64, error) {
	if p == nil {
		return 0, errUnauthenticated()
	}
	return s.notifications.MarkAllRead(ctx, p.UserID)
}
