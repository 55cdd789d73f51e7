package handlers_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/http/handlers"
)

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", user.DuplicateEmail(), http.StatusBadRequest, "validation_failed"},
		{"wrapped validation", fmt.Errorf("seed: %w", &user.ValidationError{}), http.StatusBadRequest, "validation_failed"},
		{"missing credentials", auth.ErrMissingCredentials, http.StatusBadRequest, "missing_credentials"},
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"no bearer", auth.ErrNoAccess, http.StatusUnauthorized, "unauthorized"},
		{"bad token", fmt.Errorf("%w: %w", auth.ErrNoAccess, auth.ErrInvalidToken), http.StatusUnauthorized, "invalid_token"},
		{"expired token", fmt.Errorf("%w: %w", auth.ErrNoAccess, auth.ErrExpiredToken), http.StatusUnauthorized, "token_expired"},
		{"user gone", auth.ErrUserGone, http.StatusUnauthorized, "user_gone"},
		{"stale password", auth.ErrStalePassword, http.StatusUnauthorized, "password_changed"},
		{"forbidden", auth.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"unknown email", auth.ErrUnknownEmail, http.StatusNotFound, "unknown_email"},
		{"delivery", fmt.Errorf("%w: %w", auth.ErrNotificationDelivery, errors.New("smtp 421")), http.StatusInternalServerError, "email_delivery_failed"},
		{"reset token", auth.ErrInvalidOrExpiredToken, http.StatusBadRequest, "invalid_reset_token"},
		{"wrong password", auth.ErrWrongPassword, http.StatusUnauthorized, "wrong_password"},
		{"user not found", auth.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
		{"unknown", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, message := handlers.ErrorStatus(tc.err)

			if status != tc.status || code != tc.code {
				t.Fatalf("got (%d, %s), want (%d, %s)", status, code, tc.status, tc.code)
			}
			if message == "" {
				t.Fatalf("empty message")
			}
		})
	}
}

func TestErrorStatusNeverLeaksInternals(t *testing.T) {
	_, _, message := handlers.ErrorStatus(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	if message != "Something went wrong." {
		t.Fatalf("internal error text reached the client: %q", message)
	}
}
