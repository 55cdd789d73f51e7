package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/domain/user"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Order matters: token failures arrive wrapped in ErrNoAccess and must be
// matched before it.
var errorTable = []errorMapping{
	{auth.ErrMissingCredentials, http.StatusBadRequest, "missing_credentials", "Please provide email and password."},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Incorrect email or password."},
	{auth.ErrExpiredToken, http.StatusUnauthorized, "token_expired", "Your token has expired. Please log in again."},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", "Invalid token. Please log in again."},
	{auth.ErrNoAccess, http.StatusUnauthorized, "unauthorized", "You are not logged in. Please log in to get access."},
	{auth.ErrUserGone, http.StatusUnauthorized, "user_gone", "The user belonging to this token no longer exists."},
	{auth.ErrStalePassword, http.StatusUnauthorized, "password_changed", "User recently changed password. Please log in again."},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden", "You do not have permission to perform this action."},
	{auth.ErrUnknownEmail, http.StatusNotFound, "unknown_email", "There is no user with that email address."},
	{auth.ErrNotificationDelivery, http.StatusInternalServerError, "email_delivery_failed", "There was an error sending the email. Try again later."},
	{auth.ErrInvalidOrExpiredToken, http.StatusBadRequest, "invalid_reset_token", "Token is invalid or has expired."},
	{auth.ErrWrongPassword, http.StatusUnauthorized, "wrong_password", "Your current password is wrong."},
	{auth.ErrUserNotFound, http.StatusNotFound, "user_not_found", "No user found with that ID."},
}

// ErrorStatus maps a failure from the credential flows to the HTTP status,
// machine code and client message. Unknown errors become a generic 500 so
// internals never reach the client.
func ErrorStatus(err error) (int, string, string) {
	var ve *user.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "validation_failed", "Invalid input data."
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code, m.message
		}
	}

	return http.StatusInternalServerError, "internal_error", "Something went wrong."
}

func errorDetails(err error) interface{} {
	var ve *user.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}

	fields := make([]FieldError, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		fields = append(fields, FieldError{
			Field:   f.Field,
			Rule:    f.Rule,
			Param:   f.Param,
			Message: validationMessage(f.Rule, f.Param),
		})
	}

	return map[string]interface{}{"fields": fields}
}
