package user

import (
	"strings"
	"time"
)

// Hasher turns a plaintext password into a stored hash.
type Hasher interface {
	Hash(plain string) (string, error)
}

type passwordChange struct {
	Password        string `validate:"required,min=8,max=72"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

// SetPassword stages a new password. It is validated, hashed and stamped by the
// store on the next Save.
func (u *User) SetPassword(password, confirm string) {
	u.pending = &passwordChange{Password: password, ConfirmPassword: confirm}
}

func (u User) HasPendingPassword() bool {
	return u.pending != nil
}

// ApplyPendingPassword is the save hook shared by the stores. With validate set
// the staged password must pass the same rules as on signup.
//
// passwordChangedAt is backdated by one second so a token signed right after
// the save is not treated as older than the change.
func (u *User) ApplyPendingPassword(h Hasher, now time.Time, validate bool) error {
	if u.pending == nil {
		return nil
	}

	if validate {
		err := Validate(u.pending)
		if err != nil {
			return err
		}
	}

	hash, err := h.Hash(u.pending.Password)
	if err != nil {
		return err
	}

	changedAt := now.UTC().Add(-time.Second)
	u.PasswordHash = hash
	u.PasswordChangedAt = &changedAt
	u.pending = nil

	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
