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

var (
	// ErrIdentityNotFound is the cause behind a BAD_CREDENTIAL for an unknown email.
	ErrIdentityNotFound = errors.New("identity not found")
	// errPasswordMismatch is the cause behind a BAD_CREDENTIAL for a wrong password.
	errPasswordMismatch = errors.New("password mismatch")
)

const defaultStoreTimeout = 3 * time.Second

// Session is an authenticated identity plus the token issued for it.
type Session struct {
	Identity  domain.Identity
	Token     string
	ExpiresAt time.Time
}

// IdentityDependencies encapsulates collaborators of the identity service.
type IdentityDependencies struct {
	Users        repository.UserRepository
	Vault        *auth.PasswordVault
	Tokens       *auth.TokenManager
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// IdentityService resolves credentials to identities and registers new accounts.
type IdentityService struct {
	users        repository.UserRepository
	vault        *auth.PasswordVault
	tokens       *auth.TokenManager
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	storeTimeout time.Duration
}

// NewIdentityService builds the service.
func NewIdentityService(deps IdentityDependencies) *IdentityService {
	s := &IdentityService{
		users:        deps.Users,
		vault:        deps.Vault,
		tokens:       deps.Tokens,
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

// Authenticate resolves email and password to an identity. An unknown email and a wrong
// password produce the same BAD_CREDENTIAL error.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string) (domain.Identity, error) {
	email = domain.NormalizeEmail(email)

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.vault.Decoy(ctx, password)
			return domain.Identity{}, apperrors.NewBadCredential(ErrIdentityNotFound)
		}
		return domain.Identity{}, apperrors.NewInternalError(fmt.Errorf("find user by email: %w", err))
	}

	ok, err := s.vault.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return domain.Identity{}, apperrors.NewInternalError(err)
	}
	if !ok {
		return domain.Identity{}, apperrors.NewBadCredential(errPasswordMismatch)
	}
	return user.Identity(), nil
}

// Register creates a new account. A taken email is a CONFLICT whether it is seen by the
// pre-check or by the store's uniqueness constraint.
func (s *IdentityService) Register(ctx context.Context, name, email, password string, role domain.Role) (domain.Identity, error) {
	if !role.Valid() {
		return domain.Identity{}, apperrors.NewValidationError("invalid role", map[string]any{"role": string(role)})
	}
	name = strings.TrimSpace(name)
	email = domain.NormalizeEmail(email)

	_, err := s.findByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.Identity{}, conflictEmail()
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Identity{}, apperrors.NewInternalError(fmt.Errorf("find user by email: %w", err))
	}

	hash, err := s.vault.Hash(ctx, password)
	if err != nil {
		return domain.Identity{}, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.users.Insert(storeCtx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.Identity{}, conflictEmail()
		}
		return domain.Identity{}, apperrors.NewInternalError(fmt.Errorf("insert user: %w", err))
	}

	identity := user.Identity()
	s.publish(ctx, events.New(events.EventIdentityRegistered, identity.ID,
		events.Actor{ID: identity.ID, Role: identity.Role},
		events.IdentityRegisteredPayload{Email: identity.Email, Role: identity.Role}))
	return identity, nil
}

// SignIn authenticates and issues a token.
func (s *IdentityService) SignIn(ctx context.Context, email, password string) (Session, error) {
	identity, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	session, err := s.issue(identity)
	if err != nil {
		return Session{}, err
	}
	s.publish(ctx, events.New(events.EventIdentitySignedIn, identity.ID,
		events.Actor{ID: identity.ID, Role: identity.Role},
		events.IdentitySignedInPayload{Email: identity.Email, ExpiresAt: session.ExpiresAt}))
	return session, nil
}

// SignUp registers and issues a token.
func (s *IdentityService) SignUp(ctx context.Context, name, email, password string, role domain.Role) (Session, error) {
	identity, err := s.Register(ctx, name, email, password, role)
	if err != nil {
		return Session{}, err
	}
	return s.issue(identity)
}

func (s *IdentityService) issue(identity domain.Identity) (Session, error) {
	token, exp, err := s.tokens.Issue(identity.ID, identity.Email, identity.Role)
	if err != nil {
		return Session{}, apperrors.NewInternalError(fmt.Errorf("issue token: %w", err))
	}
	return Session{Identity: identity, Token: token, ExpiresAt: exp}, nil
}

func (s *IdentityService) findByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.users.FindByEmail(ctx, email)
}

func (s *IdentityService) publish(ctx context.Context, event events.Event) {
	publishEvent(ctx, s.dispatcher, s.logger, event)
}

func conflictEmail() error {
	return apperrors.NewConflict("User with this email already exists", nil)
}

// publishEvent delivers an event and logs handler failures. Audit failures never fail the request.
func publishEvent(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
