package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/sethvargo/go-retry"
)

const (
	resetSubject = "Your password reset token (valid for 10 minutes)"

	compensationTimeout  = 3 * time.Second
	compensationAttempts = 2 // retries after the first write
	compensationDelay    = 50 * time.Millisecond
)

type ForgotPasswordInput struct {
	Email string
	// ResetURLBase is the absolute URL the plaintext token is appended to,
	// e.g. https://host/api/v1/users/resetPassword
	ResetURLBase string
}

// ForgotPassword stores a hashed reset token and mails the plaintext one.
// If the mail cannot be delivered the token is cleared again so no live
// token exists that the user never received.
//
// The set and the clear are two separate writes. A crash between them leaves
// the token live until it expires.
func (s *Service) ForgotPassword(ctx context.Context, in ForgotPasswordInput) (err error) {
	ctx, span := tracer.Start(ctx, "account.ForgotPassword")
	defer func() { endSpan(span, err) }()

	u, err := s.store.FindByEmail(ctx, in.Email, false)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return auth.ErrUnknownEmail
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	tok, err := security.GenerateResetToken(s.now())
	if err != nil {
		return err
	}

	u.SetResetToken(tok.Hash, tok.ExpiresAt)

	err = s.store.Save(ctx, &u, false)
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	resetURL := strings.TrimRight(in.ResetURLBase, "/") + "/" + tok.Plain

	sendErr := s.notifier.Send(ctx, notifications.Message{
		To:      u.Email,
		Subject: resetSubject,
		Body:    resetMessage(resetURL),
	})

	if sendErr == nil {
		s.log.InfoContext(ctx, "password reset requested", "user_id", u.ID, "expires_at", tok.ExpiresAt)
		return nil
	}

	s.log.ErrorContext(ctx, "reset email failed", "user_id", u.ID, "err", sendErr)

	clearErr := s.clearResetToken(ctx, &u)
	if clearErr != nil {
		// best effort: the delivery failure is what the caller needs to see
		s.log.ErrorContext(ctx, "reset token rollback failed", "user_id", u.ID, "err", clearErr)
	}

	return fmt.Errorf("%w: %w", auth.ErrNotificationDelivery, sendErr)
}

type ResetPasswordInput struct {
	Token           string
	Password        string
	ConfirmPassword string
}

// ResetPassword consumes a reset token, rotates the password and signs the
// user straight in.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (sess auth.Session, err error) {
	ctx, span := tracer.Start(ctx, "account.ResetPassword")
	defer func() { endSpan(span, err) }()

	if in.Token == "" {
		return auth.Session{}, auth.ErrInvalidOrExpiredToken
	}

	now := s.now()

	u, err := s.store.FindByResetToken(ctx, security.HashResetToken(in.Token), now)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return auth.Session{}, auth.ErrInvalidOrExpiredToken
		}
		return auth.Session{}, fmt.Errorf("lookup reset token: %w", err)
	}

	if !u.HasResetToken() || !security.MatchResetToken(in.Token, *u.PasswordResetTokenHash, *u.PasswordResetExpiresAt, now) {
		return auth.Session{}, auth.ErrInvalidOrExpiredToken
	}

	u.SetPassword(in.Password, in.ConfirmPassword)
	u.ClearResetToken()

	err = s.store.Save(ctx, &u, true)
	if err != nil {
		return auth.Session{}, err
	}

	s.log.InfoContext(ctx, "password reset completed", "user_id", u.ID)

	return s.issuer.Issue(u)
}

// clearResetToken rolls back the reset fields. Clearing is idempotent, so
// the write is retried a couple of times and detached from the request
// context, which may already be cancelled by a slow mail provider.
func (s *Service) clearResetToken(ctx context.Context, u *user.User) error {
	u.ClearResetToken()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(compensationAttempts, retry.NewConstant(compensationDelay))

	return retry.Do(cctx, backoff, func(ctx context.Context) error {
		err := s.store.Save(ctx, u, false)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

func resetMessage(resetURL string) string {
	return "Forgot your password? Submit a PATCH request with your new password and confirmPassword to: " +
		resetURL +
		"\nIf you didn't forget your password, please ignore this email."
}
