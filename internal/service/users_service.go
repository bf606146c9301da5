package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/domain"
	"github.com/spec-kit/gatekeeper/internal/events"
	"github.com/spec-kit/gatekeeper/internal/repository"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

// UserChanges is a requested profile change. Password is plaintext and is hashed
// before it reaches the store.
type UserChanges struct {
	Name     *string
	Email    *string
	Password *string
	Role     *domain.Role
}

// UsersService manages user records on behalf of an authenticated actor.
type UsersService struct {
	users        repository.UserRepository
	vault        *auth.PasswordVault
	guard        auth.Guard
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	storeTimeout time.Duration
}

// UsersDependencies encapsulates collaborators of the users service.
type UsersDependencies struct {
	Users        repository.UserRepository
	Vault        *auth.PasswordVault
	Guard        auth.Guard
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// NewUsersService builds the service.
func NewUsersService(deps UsersDependencies) *UsersService {
	s := &UsersService{
		users:        deps.Users,
		vault:        deps.Vault,
		guard:        deps.Guard,
		dispatcher:   deps.Dispatcher,
		logger:       deps.Logger,
		storeTimeout: deps.StoreTimeout,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}
	return s
}

// List returns every identity.
func (s *UsersService) List(ctx context.Context) ([]domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("list users: %w", err))
	}
	out := make([]domain.Identity, 0, len(users))
	for i := range users {
		out = append(out, users[i].Identity())
	}
	return out, nil
}

// Get returns one identity. A missing id is NOT_FOUND; a store fault is INTERNAL.
func (s *UsersService) Get(ctx context.Context, id string) (domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return domain.Identity{}, mapStoreError(err, id)
	}
	return user.Identity(), nil
}

// Update applies changes to the target user after the guard allows it.
func (s *UsersService) Update(ctx context.Context, actor auth.Actor, id string, changes UserChanges) (domain.Identity, error) {
	update := domain.UserUpdate{Name: changes.Name, Role: changes.Role}
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		update.Name = &name
	}
	if changes.Email != nil {
		email := domain.NormalizeEmail(*changes.Email)
		update.Email = &email
	}
	if changes.Role != nil && !changes.Role.Valid() {
		return domain.Identity{}, apperrors.NewValidationError("invalid role", map[string]any{"role": string(*changes.Role)})
	}

	if err := s.guard.CanModify(actor, id, update).Err(); err != nil {
		s.logger.Warn("update denied",
			zap.String("actor_id", actor.ID),
			zap.String("target_id", id),
			zap.Strings("fields", update.Fields()))
		return domain.Identity{}, err
	}

	if changes.Password != nil {
		hash, err := s.vault.Hash(ctx, *changes.Password)
		if err != nil {
			return domain.Identity{}, apperrors.NewInternalError(err)
		}
		update.PasswordHash = &hash
	}
	if update.Empty() {
		return domain.Identity{}, apperrors.NewValidationError("At least one field must be provided for update", nil)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	user, err := s.users.Update(storeCtx, id, update)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.Identity{}, conflictEmail()
		}
		return domain.Identity{}, mapStoreError(err, id)
	}

	publishEvent(ctx, s.dispatcher, s.logger, events.New(events.EventIdentityUpdated, id,
		events.Actor{ID: actor.ID, Role: actor.Role},
		events.IdentityUpdatedPayload{Fields: update.Fields()}))
	return user.Identity(), nil
}

// Delete removes the target user after the guard allows it.
func (s *UsersService) Delete(ctx context.Context, actor auth.Actor, id string) (domain.Identity, error) {
	if err := s.guard.CanDelete(actor, id).Err(); err != nil {
		s.logger.Warn("delete denied", zap.String("actor_id", actor.ID), zap.String("target_id", id))
		return domain.Identity{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	user, err := s.users.Delete(storeCtx, id)
	if err != nil {
		return domain.Identity{}, mapStoreError(err, id)
	}

	identity := user.Identity()
	publishEvent(ctx, s.dispatcher, s.logger, events.New(events.EventIdentityDeleted, id,
		events.Actor{ID: actor.ID, Role: actor.Role},
		events.IdentityDeletedPayload{Email: identity.Email}))
	return identity, nil
}

func mapStoreError(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("User", map[string]any{"id": id})
	}
	return apperrors.NewInternalError(err)
}
