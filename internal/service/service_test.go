package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/domain"
	"github.com/spec-kit/gatekeeper/internal/events"
	"github.com/spec-kit/gatekeeper/internal/repository"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handler(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	repo     repository.UserRepository
	tokens   *auth.TokenManager
	identity *IdentityService
	users    *UsersService
	recorded *recordedEvents
}

func newFixture(t *testing.T, repo repository.UserRepository) *fixture {
	t.Helper()
	if repo == nil {
		repo = repository.NewMemoryUserRepository()
	}
	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)
	vault := auth.NewPasswordVault(bcrypt.MinCost, 4)

	dispatcher := events.NewInMemoryDispatcher()
	recorded := &recordedEvents{}
	for _, et := range events.AllTypes {
		dispatcher.Subscribe(et, recorded.handler)
	}

	return &fixture{
		repo:   repo,
		tokens: tokens,
		identity: NewIdentityService(IdentityDependencies{
			Users: repo, Vault: vault, Tokens: tokens, Dispatcher: dispatcher,
		}),
		users: NewUsersService(UsersDependencies{
			Users: repo, Vault: vault, Guard: auth.NewGuard(), Dispatcher: dispatcher,
		}),
		recorded: recorded,
	}
}

func (f *fixture) register(t *testing.T, name, email string, role domain.Role) domain.Identity {
	t.Helper()
	id, err := f.identity.Register(context.Background(), name, email, "secret1", role)
	require.NoError(t, err)
	return id
}

// faultyRepo fails every call with err, or only inserts when insertOnly is set.
type faultyRepo struct {
	repository.UserRepository
	err        error
	insertOnly bool
}

func (r *faultyRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	if r.insertOnly {
		return r.UserRepository.FindByEmail(ctx, email)
	}
	return nil, r.err
}

func (r *faultyRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if r.insertOnly {
		return r.UserRepository.FindByID(ctx, id)
	}
	return nil, r.err
}

func (r *faultyRepo) Insert(context.Context, *domain.User) error {
	return r.err
}

// slowRepo blocks lookups until the context is done.
type slowRepo struct {
	repository.UserRepository
}

func (slowRepo) FindByEmail(ctx context.Context, _ string) (*domain.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var errStoreDown = errors.New("connection refused")
