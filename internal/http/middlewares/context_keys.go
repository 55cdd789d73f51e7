package middlewares

import "github.com/geocoder89/authcore/internal/http/handlers"

// gin context keys
const (
	CtxRequestID = handlers.RequestIDKey
	CtxUserID    = "auth.userID"
)
