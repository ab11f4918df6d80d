package service

import "github.com/prperemyshlev/servicehub-auth/internal/domain"

const (
	msgTooManyAttempts = "Too many attempts. Try again later."
	msgInvalidCode     = "Invalid or expired OTP. Please try again."
	msgNoSession       = "No OTP session found, please request a new code"
	msgInvalidSession  = "Session token is invalid"
	msgSessionNotFound = "Session not found, please log in again"
	msgNotLoggedIn     = "You are not logged in any session."
	msgUserNotFound    = "User not found"
)

// internalOr passes domain errors through and wraps anything else as Internal.
func internalOr(err error, message string) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	return domain.NewInternal(message, err)
}
