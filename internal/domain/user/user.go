package user

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("user not found")

const (
	RoleUser      = "user"
	RoleGuide     = "guide"
	RoleLeadGuide = "lead-guide"
	RoleAdmin     = "admin"
)

type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"` // never expose hash in JSON
	Role              string     `json:"role"`
	PasswordChangedAt *time.Time `json:"-"`

	// reset token pair: both set or both nil
	PasswordResetTokenHash *string    `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	pending *passwordChange
}

// NewUser is the set of fields accepted when a user record is created.
type NewUser struct {
	Name              string     `json:"name" validate:"required,max=120"`
	Email             string     `json:"email" validate:"required,email"`
	Password          string     `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword   string     `json:"confirmPassword" validate:"required,eqfield=Password"`
	Role              string     `json:"role" validate:"omitempty,oneof=user guide lead-guide admin"`
	PasswordChangedAt *time.Time `json:"passwordChangedAt"`
}

// Profile is the outward representation of a user. It carries no secret fields.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// ChangedPasswordAfter reports whether the password was changed after a token
// issued at issuedAt. Comparison is done at second precision, the resolution
// of JWT timestamps. With the one second backdate on passwordChangedAt, a
// token signed up to about two seconds before a change is still accepted.
func (u User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}

	return u.PasswordChangedAt.Unix() > issuedAt.Unix()
}

func (u *User) SetResetToken(hash string, expiresAt time.Time) {
	h := hash
	exp := expiresAt.UTC()
	u.PasswordResetTokenHash = &h
	u.PasswordResetExpiresAt = &exp
}

func (u *User) ClearResetToken() {
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpiresAt = nil
}

func (u User) HasResetToken() bool {
	return u.PasswordResetTokenHash != nil && u.PasswordResetExpiresAt != nil
}
