// Package account implements the credential flows: signup, login, password
// update and the forgot/reset password handshake. It is transport agnostic;
// every flow returns either an auth.Session or one of the auth errors.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/notifications"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/geocoder89/authcore/internal/account")

// Signup fields a client may set on top of name, email and password.
const (
	FieldRole              = "role"
	FieldPasswordChangedAt = "passwordChangedAt"
)

type Store interface {
	FindByEmail(ctx context.Context, email string, includeSecret bool) (user.User, error)
	FindByID(ctx context.Context, id string, includeSecret bool) (user.User, error)
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (user.User, error)
	Create(ctx context.Context, in user.NewUser) (user.User, error)
	Save(ctx context.Context, u *user.User, validate bool) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

type SessionIssuer interface {
	Issue(u user.User) (auth.Session, error)
}

type Options struct {
	// SignupFields lists the optional fields accepted from signup requests.
	SignupFields []string
}

type Service struct {
	store    Store
	hasher   PasswordHasher
	issuer   SessionIssuer
	notifier notifications.Notifier
	log      *slog.Logger
	now      func() time.Time

	signupFields map[string]bool

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store Store, hasher PasswordHasher, issuer SessionIssuer, notifier notifications.Notifier, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}

	fields := make(map[string]bool, len(opts.SignupFields))
	for _, f := range opts.SignupFields {
		fields[strings.TrimSpace(f)] = true
	}

	return &Service{
		store:        store,
		hasher:       hasher,
		issuer:       issuer,
		notifier:     notifier,
		log:          log,
		now:          time.Now,
		signupFields: fields,
	}
}

type SignUpInput struct {
	Name              string
	Email             string
	Password          string
	ConfirmPassword   string
	Role              string
	PasswordChangedAt *time.Time
}

// SignUp creates the user and issues a session. Field rules (confirmation,
// strength, uniqueness) are enforced by the store and come back as
// *user.ValidationError.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (sess auth.Session, err error) {
	ctx, span := tracer.Start(ctx, "account.SignUp")
	defer func() { endSpan(span, err) }()

	fields := user.NewUser{
		Name:            in.Name,
		Email:           in.Email,
		Password:        in.Password,
		ConfirmPassword: in.ConfirmPassword,
	}

	if s.signupFields[FieldRole] {
		fields.Role = in.Role
	} else if in.Role != "" {
		s.log.DebugContext(ctx, "signup field not accepted", "field", FieldRole)
	}

	if s.signupFields[FieldPasswordChangedAt] {
		fields.PasswordChangedAt = in.PasswordChangedAt
	} else if in.PasswordChangedAt != nil {
		s.log.DebugContext(ctx, "signup field not accepted", "field", FieldPasswordChangedAt)
	}

	u, err := s.store.Create(ctx, fields)
	if err != nil {
		return auth.Session{}, err
	}

	s.log.InfoContext(ctx, "user signed up", "user_id", u.ID, "role", u.Role)

	return s.issuer.Issue(u)
}

type LoginInput struct {
	Email    string
	Password string
}

func (s *Service) Login(ctx context.Context, in LoginInput) (sess auth.Session, err error) {
	ctx, span := tracer.Start(ctx, "account.Login")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return auth.Session{}, auth.ErrMissingCredentials
	}

	u, err := s.store.FindByEmail(ctx, in.Email, true)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			return auth.Session{}, fmt.Errorf("lookup user: %w", err)
		}

		// burn the same bcrypt time as a real check so unknown emails are not
		// distinguishable by latency
		s.hasher.Verify(in.Password, s.fallbackHash())
		s.log.WarnContext(ctx, "login failed", "reason", "unknown_email")
		return auth.Session{}, auth.ErrInvalidCredentials
	}

	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		s.log.WarnContext(ctx, "login failed", "reason", "wrong_password", "user_id", u.ID)
		return auth.Session{}, auth.ErrInvalidCredentials
	}

	return s.issuer.Issue(u)
}

type UpdatePasswordInput struct {
	CurrentPassword string
	Password        string
	ConfirmPassword string
}

// UpdatePassword requires an Identity on ctx. A successful change stamps
// passwordChangedAt, which invalidates every token issued before it.
func (s *Service) UpdatePassword(ctx context.Context, in UpdatePasswordInput) (sess auth.Session, err error) {
	ctx, span := tracer.Start(ctx, "account.UpdatePassword")
	defer func() { endSpan(span, err) }()

	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return auth.Session{}, auth.ErrNoAccess
	}

	u, err := s.store.FindByID(ctx, id.User.ID, true)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return auth.Session{}, auth.ErrUserNotFound
		}
		return auth.Session{}, fmt.Errorf("lookup user: %w", err)
	}

	if !s.hasher.Verify(in.CurrentPassword, u.PasswordHash) {
		s.log.WarnContext(ctx, "password update rejected", "user_id", u.ID)
		return auth.Session{}, auth.ErrWrongPassword
	}

	u.SetPassword(in.Password, in.ConfirmPassword)

	err = s.store.Save(ctx, &u, true)
	if err != nil {
		return auth.Session{}, err
	}

	s.log.InfoContext(ctx, "password updated", "user_id", u.ID)

	return s.issuer.Issue(u)
}

// Profile returns the redacted record for id.
func (s *Service) Profile(ctx context.Context, id string) (user.Profile, error) {
	u, err := s.store.FindByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.Profile{}, auth.ErrUserNotFound
		}
		return user.Profile{}, err
	}

	return u.Profile(), nil
}

// staticFallbackHash is a valid bcrypt digest for when the hasher cannot
// produce one, so unknown-email logins still pay for a compare.
const staticFallbackHash = "$2a$05$CCCCCCCCCCCCCCCCCCCCC.E5YPO9kmyuRGyh0XouQYb4YMJKvyOeW"

func (s *Service) fallbackHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("fallback-password-for-timing")
		if err != nil {
			s.log.Error("timing fallback hash failed, using static digest", "err", err)
			h = staticFallbackHash
		}
		s.dummyHash = h
	})

	return s.dummyHash
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
