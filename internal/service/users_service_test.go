package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/domain"
	"github.com/spec-kit/gatekeeper/internal/events"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

func ptr[T any](v T) *T { return &v }

func TestUsersService_GetAndList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ann := f.register(t, "Ann", "a@x.com", domain.RoleUser)
	f.register(t, "Bob", "b@x.com", domain.RoleUser)

	got, err := f.users.Get(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, ann, got)

	_, err = f.users.Get(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	all, err := f.users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUsersService_GetStoreFaultIsInternal(t *testing.T) {
	f := newFixture(t, &faultyRepo{err: errStoreDown})
	_, err := f.users.Get(context.Background(), "x")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
}

func TestUsersService_UpdateRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ann := f.register(t, "Ann", "a@x.com", domain.RoleUser)
	bob := f.register(t, "Bob", "b@x.com", domain.RoleUser)
	root := f.register(t, "Root", "root@x.com", domain.RoleAdmin)

	annActor := auth.Actor{ID: ann.ID, Role: ann.Role}
	rootActor := auth.Actor{ID: root.ID, Role: root.Role}

	updated, err := f.users.Update(ctx, annActor, ann.ID, UserChanges{Name: ptr(" Annie ")})
	require.NoError(t, err)
	assert.Equal(t, "Annie", updated.Name)

	_, err = f.users.Update(ctx, annActor, bob.ID, UserChanges{Name: ptr("Hacked")})
	require.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Equal(t, auth.ReasonNotOwner, apperrors.ToDomainError(err).Message)

	_, err = f.users.Update(ctx, annActor, ann.ID, UserChanges{Role: ptr(domain.RoleAdmin)})
	require.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Equal(t, auth.ReasonRoleChange, apperrors.ToDomainError(err).Message)

	promoted, err := f.users.Update(ctx, rootActor, bob.ID, UserChanges{Role: ptr(domain.RoleAdmin)})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, promoted.Role)

	_, err = f.users.Update(ctx, rootActor, "missing", UserChanges{Name: ptr("X")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.users.Update(ctx, annActor, ann.ID, UserChanges{Email: ptr("B@x.com")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = f.users.Update(ctx, annActor, ann.ID, UserChanges{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestUsersService_PasswordChangeIsRehashed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ann := f.register(t, "Ann", "a@x.com", domain.RoleUser)

	_, err := f.users.Update(ctx, auth.Actor{ID: ann.ID, Role: ann.Role}, ann.ID, UserChanges{Password: ptr("newsecret")})
	require.NoError(t, err)

	stored, err := f.repo.FindByID(ctx, ann.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "newsecret", stored.PasswordHash)

	_, err = f.identity.Authenticate(ctx, "a@x.com", "newsecret")
	require.NoError(t, err)
	_, err = f.identity.Authenticate(ctx, "a@x.com", "secret1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBadCredential))
}

func TestUsersService_DeleteRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ann := f.register(t, "Ann", "a@x.com", domain.RoleUser)
	bob := f.register(t, "Bob", "b@x.com", domain.RoleUser)
	root := f.register(t, "Root", "root@x.com", domain.RoleAdmin)

	_, err := f.users.Delete(ctx, auth.Actor{ID: ann.ID, Role: ann.Role}, bob.ID)
	require.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Equal(t, auth.ReasonDeleteNotOwner, apperrors.ToDomainError(err).Message)

	deleted, err := f.users.Delete(ctx, auth.Actor{ID: ann.ID, Role: ann.Role}, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, ann.ID, deleted.ID)

	_, err = f.users.Delete(ctx, auth.Actor{ID: root.ID, Role: root.Role}, bob.ID)
	require.NoError(t, err)

	_, err = f.users.Delete(ctx, auth.Actor{ID: root.ID, Role: root.Role}, bob.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	assert.Contains(t, f.recorded.types(), events.EventIdentityDeleted)
}
