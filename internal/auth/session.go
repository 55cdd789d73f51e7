package auth

import (
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
)

const SessionCookieName = "jwt"

// SessionConfig controls the cookie attached next to every issued token.
type SessionConfig struct {
	CookieDays int
	Secure     bool // set in production-like environments
}

// Cookie describes the credential cookie without tying the core to net/http.
type Cookie struct {
	Name     string
	Value    string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
}

// Session is what every successful signup, login, reset and password update
// returns. User is the redacted profile; the password hash cannot leak through it.
type Session struct {
	Token  string
	User   user.Profile
	Cookie Cookie
}

type TokenSigner interface {
	Sign(userID string) (string, error)
}

type Issuer struct {
	signer TokenSigner
	cfg    SessionConfig
	now    func() time.Time
}

func NewIssuer(signer TokenSigner, cfg SessionConfig) *Issuer {
	return &Issuer{signer: signer, cfg: cfg, now: time.Now}
}

func (i *Issuer) Issue(u user.User) (Session, error) {
	token, err := i.signer.Sign(u.ID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token: token,
		User:  u.Profile(),
		Cookie: Cookie{
			Name:     SessionCookieName,
			Value:    token,
			Expires:  i.now().UTC().Add(time.Duration(i.cfg.CookieDays) * 24 * time.Hour),
			HTTPOnly: true,
			Secure:   i.cfg.Secure,
		},
	}, nil
}
