package auth

import "errors"

// Token verification failures.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Flow failures. The transport maps each of these to a status code; none of
// them is retried here.
var (
	ErrMissingCredentials    = errors.New("please provide an email and password")
	ErrInvalidCredentials    = errors.New("incorrect email or password")
	ErrNoAccess              = errors.New("you are not logged in, please log in to get access")
	ErrUserGone              = errors.New("the user belonging to this token no longer exists")
	ErrStalePassword         = errors.New("user recently changed password, please log in again")
	ErrForbidden             = errors.New("you do not have permission to perform this action")
	ErrUnknownEmail          = errors.New("there is no user with this email address")
	ErrNotificationDelivery  = errors.New("there was an error sending the email, try again later")
	ErrInvalidOrExpiredToken = errors.New("token is invalid or has expired")
	ErrWrongPassword         = errors.New("your current password is wrong")
	ErrUserNotFound          = errors.New("user not found")
)
