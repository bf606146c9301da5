package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/domain"
	"github.com/spec-kit/gatekeeper/internal/events"
	"github.com/spec-kit/gatekeeper/internal/repository"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

func TestIdentityService_RegisterThenAuthenticate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	registered, err := f.identity.Register(ctx, " Ann ", "A@X.com", "secret1", domain.RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, registered.ID)
	assert.Equal(t, "Ann", registered.Name)
	assert.Equal(t, "a@x.com", registered.Email)
	assert.Equal(t, domain.RoleUser, registered.Role)

	stored, err := f.repo.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	got, err := f.identity.Authenticate(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered, got)
}

func TestIdentityService_RegisterConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.register(t, "Ann", "a@x.com", domain.RoleUser)

	_, err := f.identity.Register(ctx, "Other", "A@x.com", "secret2", domain.RoleUser)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	users, err := f.repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestIdentityService_RegisterConflictOnInsertRace(t *testing.T) {
	repo := &faultyRepo{
		UserRepository: repository.NewMemoryUserRepository(),
		err:            repository.ErrDuplicateEmail,
		insertOnly:     true,
	}
	f := newFixture(t, repo)

	_, err := f.identity.Register(context.Background(), "Ann", "a@x.com", "secret1", domain.RoleUser)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestIdentityService_BadCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "Ann", "a@x.com", domain.RoleUser)

	_, unknown := f.identity.Authenticate(ctx, "nobody@x.com", "secret1")
	_, wrong := f.identity.Authenticate(ctx, "a@x.com", "wrong-password")

	du := apperrors.ToDomainError(unknown)
	dw := apperrors.ToDomainError(wrong)
	assert.Equal(t, apperrors.CodeBadCredential, du.Code)
	assert.Equal(t, du.Code, dw.Code)
	assert.Equal(t, du.Message, dw.Message)
	assert.Equal(t, du.HTTPStatus, dw.HTTPStatus)
	assert.ErrorIs(t, unknown, ErrIdentityNotFound)
}

func TestIdentityService_UnknownEmailSpendsHashingWork(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt timing")
	}
	ctx := context.Background()
	repo := repository.NewMemoryUserRepository()
	vault := auth.NewPasswordVault(bcrypt.MinCost+6, 1)
	identity := NewIdentityService(IdentityDependencies{Users: repo, Vault: vault})

	digest, err := vault.Hash(ctx, "secret1")
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, &domain.User{Name: "Ann", Email: "a@x.com", PasswordHash: digest, Role: domain.RoleUser}))

	// warm the decoy digest so both paths run one comparison
	_, _ = identity.Authenticate(ctx, "nobody@x.com", "secret1")

	start := time.Now()
	_, err = identity.Authenticate(ctx, "a@x.com", "wrong-password")
	require.Error(t, err)
	wrong := time.Since(start)

	start = time.Now()
	_, err = identity.Authenticate(ctx, "nobody@x.com", "wrong-password")
	require.Error(t, err)
	unknown := time.Since(start)

	assert.Greater(t, unknown, wrong/3, "unknown=%s wrong=%s", unknown, wrong)
}

func TestIdentityService_StoreFaultsAreInternal(t *testing.T) {
	f := newFixture(t, &faultyRepo{err: errStoreDown})
	ctx := context.Background()

	_, err := f.identity.Authenticate(ctx, "a@x.com", "secret1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
	assert.ErrorIs(t, err, errStoreDown)

	_, err = f.identity.Register(ctx, "Ann", "a@x.com", "secret1", domain.RoleUser)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
}

func TestIdentityService_StoreTimeoutIsInternal(t *testing.T) {
	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)
	svc := NewIdentityService(IdentityDependencies{
		Users:        slowRepo{},
		Vault:        auth.NewPasswordVault(bcrypt.MinCost, 1),
		Tokens:       tokens,
		StoreTimeout: 20 * time.Millisecond,
	})

	_, err = svc.Authenticate(context.Background(), "a@x.com", "secret1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIdentityService_MalformedDigestIsInternal(t *testing.T) {
	repo := repository.NewMemoryUserRepository()
	require.NoError(t, repo.Insert(context.Background(), &domain.User{
		Name: "Ann", Email: "a@x.com", PasswordHash: "garbage", Role: domain.RoleUser,
	}))
	f := newFixture(t, repo)

	_, err := f.identity.Authenticate(context.Background(), "a@x.com", "secret1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
	assert.ErrorIs(t, err, auth.ErrVaultFailure)
}

func TestIdentityService_SignUpAndSignInIssueTokens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	up, err := f.identity.SignUp(ctx, "Root", "root@x.com", "secret1", domain.RoleAdmin)
	require.NoError(t, err)
	claims, err := f.tokens.Verify(up.Token)
	require.NoError(t, err)
	assert.Equal(t, up.Identity.ID, claims.UserID)
	assert.Equal(t, domain.RoleAdmin, claims.Role)

	in, err := f.identity.SignIn(ctx, "root@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, up.Identity.ID, in.Identity.ID)
	assert.True(t, in.ExpiresAt.After(time.Now()))

	_, err = f.identity.SignIn(ctx, "root@x.com", "nope")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBadCredential))

	assert.Equal(t, []events.EventType{events.EventIdentityRegistered, events.EventIdentitySignedIn}, f.recorded.types())
}

func TestIdentityService_RejectsUnknownRole(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.identity.Register(context.Background(), "Ann", "a@x.com", "secret1", domain.Role("owner"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}
