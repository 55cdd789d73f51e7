package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/google/uuid"
)

// UsersRepo is an in-process credential store used in dev mode and tests.
type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User // {"id": user}
	byEmail map[string]string    // {"email": id}
	hasher  user.Hasher
	now     func() time.Time
}

func NewUsersRepo(hasher user.Hasher) *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
		hasher:  hasher,
		now:     time.Now,
	}
}

func (r *UsersRepo) Create(ctx context.Context, in user.NewUser) (user.User, error) {
	in.Email = user.NormalizeEmail(in.Email)
	if in.Role == "" {
		in.Role = user.RoleUser
	}

	err := user.Validate(in)
	if err != nil {
		return user.User{}, err
	}

	hash, err := r.hasher.Hash(in.Password)
	if err != nil {
		return user.User{}, err
	}

	now := r.now().UTC()
	u := user.User{
		ID:                uuid.NewString(),
		Name:              in.Name,
		Email:             in.Email,
		PasswordHash:      hash,
		Role:              in.Role,
		PasswordChangedAt: in.PasswordChangedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[u.Email]; taken {
		return user.User{}, user.DuplicateEmail()
	}

	r.items[u.ID] = u
	r.byEmail[u.Email] = u.ID

	return redact(u, false), nil
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string, includeSecret bool) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return redact(r.items[id], includeSecret), nil
}

func (r *UsersRepo) FindByID(ctx context.Context, id string, includeSecret bool) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return redact(u, includeSecret), nil
}

func (r *UsersRepo) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if !u.HasResetToken() {
			continue
		}
		if *u.PasswordResetTokenHash == tokenHash && u.PasswordResetExpiresAt.After(now) {
			return redact(u, false), nil
		}
	}

	return user.User{}, user.ErrNotFound
}

// Save persists u. With validate set the profile fields and any staged
// password are checked first. An empty PasswordHash keeps the stored one.
func (r *UsersRepo) Save(ctx context.Context, u *user.User, validate bool) error {
	u.Email = user.NormalizeEmail(u.Email)

	if validate {
		err := user.ValidateRecord(*u)
		if err != nil {
			return err
		}
	}

	now := r.now().UTC()

	// bcrypt runs outside the lock; u is only touched once the write lands
	applied := *u
	err := applied.ApplyPendingPassword(r.hasher, now, validate)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[u.ID]
	if !ok {
		return user.ErrNotFound
	}

	if ownerID, taken := r.byEmail[applied.Email]; taken && ownerID != applied.ID {
		return user.DuplicateEmail()
	}

	applied.UpdatedAt = now

	stored := applied
	if stored.PasswordHash == "" {
		stored.PasswordHash = current.PasswordHash
	}

	delete(r.byEmail, current.Email)
	r.byEmail[stored.Email] = stored.ID
	r.items[stored.ID] = stored

	*u = applied

	return nil
}

func (r *UsersRepo) ClearExpiredResets(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared int64
	for id, u := range r.items {
		if u.PasswordResetExpiresAt != nil && !u.PasswordResetExpiresAt.After(now) {
			u.ClearResetToken()
			r.items[id] = u
			cleared++
		}
	}

	return cleared, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}

	delete(r.items, id)
	delete(r.byEmail, u.Email)

	return nil
}

// redact returns a copy detached from the store; the hash is dropped unless
// explicitly requested.
func redact(u user.User, includeSecret bool) user.User {
	if !includeSecret {
		u.PasswordHash = ""
	}

	if u.PasswordResetTokenHash != nil {
		h := *u.PasswordResetTokenHash
		u.PasswordResetTokenHash = &h
	}
	if u.PasswordResetExpiresAt != nil {
		exp := *u.PasswordResetExpiresAt
		u.PasswordResetExpiresAt = &exp
	}
	if u.PasswordChangedAt != nil {
		changed := *u.PasswordChangedAt
		u.PasswordChangedAt = &changed
	}

	return u
}
