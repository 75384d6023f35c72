package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/audit"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/auth"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// DirectoryService implements user and group administration.
type DirectoryService struct {
	users  repository.UserRepository
	groups repository.GroupRepository
	audit  audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewDirectoryService creates a new directory service.
func NewDirectoryService(store *repository.Store, sink audit.Sink, logger *slog.Logger) *DirectoryService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &DirectoryService{
		users:  store.Users,
		groups: store.Groups,
		audit:  sink,
		logger: logger,
		now:    time.Now,
	}
}

// CreateUserInput holds the parameters for creating a user as an admin.
type CreateUserInput struct {
	Email         string
	Password      string
	Role          string
	EmailVerified bool
	Metadata      map[string]any
	ProfileFields map[string]any
}

// UpdateUserInput holds the mutable user fields; nil fields are left unchanged.
type UpdateUserInput struct {
	Password          *string
	Role              *string
	EmailVerified     *bool
	TwoFactorEnabled  *bool
	Locked            *bool
	ProfilePictureURL *string
	Metadata          map[string]any
	ProfileFields     map[string]any
}

// GroupInput holds the editable group fields.
type GroupInput struct {
	Name        string
	Description string
	Metadata    map[string]any
}

// --- Users ---

// ListUsers returns one page of users and the total match count.
func (s *DirectoryService) ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, int, error) {
	filter.Query = strings.ToLower(strings.TrimSpace(filter.Query))
	return s.users.List(ctx, filter)
}

// Directory returns the public projection of users.
func (s *DirectoryService) Directory(ctx context.Context, filter domain.UserFilter) ([]domain.DirectoryEntry, int, error) {
	users, total, err := s.ListUsers(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.DirectoryEntry, 0, len(users))
	for _, u := range users {
		out = append(out, domain.DirectoryEntry{Email: u.Email, ProfileFields: u.ProfileFields})
	}
	return out, total, nil
}

// GetUser retrieves a user by email.
func (s *DirectoryService) GetUser(ctx context.Context, email string) (*domain.User, error) {
	return s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
}

// CreateUser creates a user. The password is optional; users without one sign
// in through magic links or a later reset.
func (s *DirectoryService) CreateUser(ctx context.Context, actor string, in CreateUserInput) (*domain.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role, err := normalizeRole(in.Role)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &domain.User{
		Email:         email,
		Role:          role,
		EmailVerified: in.EmailVerified,
		Metadata:      orEmpty(in.Metadata),
		ProfileFields: orEmpty(in.ProfileFields),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Password != "" {
		if err := validatePassword(in.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = &hash
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.record(ctx, audit.EventUserCreated, email, actor, map[string]any{"role": role})
	return user, nil
}

// UpdateUser applies an admin edit. Admins cannot lock or demote themselves.
func (s *DirectoryService) UpdateUser(ctx context.Context, actor, rawEmail string, in UpdateUserInput) (*domain.User, error) {
	email := domain.NormalizeEmail(rawEmail)
	self := email == domain.NormalizeEmail(actor)

	upd := domain.UserUpdate{
		EmailVerified:     in.EmailVerified,
		TwoFactorEnabled:  in.TwoFactorEnabled,
		Locked:            in.Locked,
		ProfilePictureURL: in.ProfilePictureURL,
		Metadata:          in.Metadata,
		ProfileFields:     in.ProfileFields,
	}
	if in.Role != nil {
		role, err := normalizeRole(*in.Role)
		if err != nil {
			return nil, err
		}
		if self && role != domain.RoleAdmin {
			return nil, apperrors.InvalidInput("You cannot remove your own admin role")
		}
		upd.Role = &role
	}
	if self && in.Locked != nil && *in.Locked {
		return nil, apperrors.InvalidInput("You cannot lock your own account")
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		upd.PasswordHash = &hash
	}

	user, err := s.users.Update(ctx, email, upd)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.EventUserUpdated, email, actor, nil)
	return user, nil
}

// DeleteUser removes a user with their sessions, memberships and overrides.
func (s *DirectoryService) DeleteUser(ctx context.Context, actor, rawEmail string) error {
	email := domain.NormalizeEmail(rawEmail)
	if email == domain.NormalizeEmail(actor) {
		return apperrors.InvalidInput("You cannot delete your own account")
	}
	if err := s.users.Delete(ctx, email); err != nil {
		return err
	}
	s.record(ctx, audit.EventUserDeleted, email, actor, nil)
	return nil
}

// --- Groups ---

// ListGroups returns every group with its member count.
func (s *DirectoryService) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return s.groups.List(ctx)
}

// GetGroup retrieves a group by id.
func (s *DirectoryService) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return s.groups.GetByID(ctx, id)
}

// CreateGroup creates a group with a unique name.
func (s *DirectoryService) CreateGroup(ctx context.Context, actor string, in GroupInput) (*domain.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	now := s.now().UTC()
	g := &domain.Group{
		ID:          newID(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Metadata:    orEmpty(in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.groups.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.record(ctx, audit.EventGroupChanged, g.ID, actor, map[string]any{"action": "created", "name": name})
	return g, nil
}

// UpdateGroup replaces a group's editable fields.
func (s *DirectoryService) UpdateGroup(ctx context.Context, actor, id string, in GroupInput) (*domain.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	g, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Name = name
	g.Description = strings.TrimSpace(in.Description)
	if in.Metadata != nil {
		g.Metadata = in.Metadata
	}
	g.UpdatedAt = s.now().UTC()
	if err := s.groups.Update(ctx, g); err != nil {
		return nil, err
	}
	s.record(ctx, audit.EventGroupChanged, id, actor, map[string]any{"action": "updated"})
	return g, nil
}

// DeleteGroup removes a group with its memberships and group permission rows.
func (s *DirectoryService) DeleteGroup(ctx context.Context, actor, id string) error {
	if err := s.groups.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, audit.EventGroupChanged, id, actor, map[string]any{"action": "deleted"})
	return nil
}

// ListGroupMembers returns a group's memberships.
func (s *DirectoryService) ListGroupMembers(ctx context.Context, groupID string) ([]domain.Membership, error) {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return nil, err
	}
	return s.groups.ListMembers(ctx, groupID)
}

// AddGroupMember adds a user to a group.
func (s *DirectoryService) AddGroupMember(ctx context.Context, actor, groupID, rawEmail string) (*domain.Membership, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	m := &domain.Membership{
		GroupID:   groupID,
		UserEmail: email,
		CreatedAt: s.now().UTC(),
		CreatedBy: domain.NormalizeEmail(actor),
	}
	if err := s.groups.AddMember(ctx, m); err != nil {
		return nil, err
	}
	s.record(ctx, audit.EventGroupChanged, groupID, actor, map[string]any{"action": "member_added", "user_email": email})
	return m, nil
}

// RemoveGroupMember removes a user from a group.
func (s *DirectoryService) RemoveGroupMember(ctx context.Context, actor, groupID, rawEmail string) error {
	email := domain.NormalizeEmail(rawEmail)
	if err := s.groups.RemoveMember(ctx, groupID, email); err != nil {
		return err
	}
	s.record(ctx, audit.EventGroupChanged, groupID, actor, map[string]any{"action": "member_removed", "user_email": email})
	return nil
}

// GroupsForUser returns the memberships of a user.
func (s *DirectoryService) GroupsForUser(ctx context.Context, email string) ([]domain.Membership, error) {
	return s.groups.ListForUser(ctx, domain.NormalizeEmail(email))
}

func (s *DirectoryService) record(ctx context.Context, eventType, subject, actor string, data map[string]any) {
	s.audit.Record(ctx, audit.Event{Type: eventType, Subject: subject, Actor: actor, Data: data, At: s.now().UTC()})
}

func normalizeRole(raw string) (string, error) {
	role := strings.ToLower(strings.TrimSpace(raw))
	if role == "" {
		return domain.RoleUser, nil
	}
	if !domain.IsValidRole(role) {
		return "", apperrors.InvalidInput(fmt.Sprintf("role must be one of %s", strings.Join(domain.ValidRoles(), ", ")))
	}
	return role, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
