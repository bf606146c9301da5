package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// ErrVaultFailure wraps faults of the hashing primitive. It is never a credential mismatch.
var ErrVaultFailure = errors.New("auth: password vault failure")

// PasswordVault hashes and verifies secrets with bcrypt.
// Concurrent bcrypt work is bounded so a login burst cannot saturate every CPU.
type PasswordVault struct {
	cost int
	sem  *semaphore.Weighted

	decoyOnce   sync.Once
	decoyDigest string
}

// NewPasswordVault builds a vault with the given bcrypt cost and concurrency bound.
func NewPasswordVault(cost int, maxConcurrent int64) *PasswordVault {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &PasswordVault{cost: cost, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Hash hashes a plaintext secret. Each call uses a fresh salt.
func (v *PasswordVault) Hash(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is empty", ErrVaultFailure)
	}
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: %v", ErrVaultFailure, err)
	}
	defer v.sem.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVaultFailure, err)
	}
	return string(hashed), nil
}

// Verify reports whether secret matches digest. A mismatch is (false, nil);
// a malformed digest or unavailable vault is an ErrVaultFailure.
func (v *PasswordVault) Verify(ctx context.Context, secret, digest string) (bool, error) {
	if digest == "" {
		return false, fmt.Errorf("%w: digest is empty", ErrVaultFailure)
	}
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("%w: %v", ErrVaultFailure, err)
	}
	defer v.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrVaultFailure, err)
	}
}

// Decoy spends the same bcrypt work as Verify against a fixed digest. Callers run it
// when no account exists so the response time does not reveal that.
func (v *PasswordVault) Decoy(ctx context.Context, secret string) {
	digest := v.decoy()
	if digest == "" {
		return
	}
	_, _ = v.Verify(ctx, secret, digest)
}

func (v *PasswordVault) decoy() string {
	v.decoyOnce.Do(func() {
		hashed, err := bcrypt.GenerateFromPassword([]byte("gatekeeper-decoy"), v.cost)
		if err == nil {
			v.decoyDigest = string(hashed)
		}
	})
	return v.decoyDigest
}
