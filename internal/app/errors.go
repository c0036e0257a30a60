/**
 * @description
 * Sentinel errors for the approval workflow engine. Every operation exposed
 * by the service surfaces one of these synchronously; nothing is swallowed.
 * Handlers map them to HTTP statuses with errors.Is.
 */

package app

import "errors"

var (
	ErrPermissionDenied    = errors.New("mandate is not permitted to perform this action")
	ErrLimitExceeded       = errors.New("amount exceeds the institution's per-transfer limit")
	ErrDailyLimitExceeded  = errors.New("amount exceeds the institution's remaining daily limit")
	ErrInsufficientBalance = errors.New("insufficient available balance on source account")
	ErrNotReady            = errors.New("request has not passed the preceding approval gate")
	ErrAlreadyProcessed    = errors.New("request has already passed this approval gate")
	ErrInvalidAction       = errors.New("unknown approval action")
	ErrInvalidToken        = errors.New("one-time token does not match")
	ErrExpiredToken        = errors.New("one-time token has expired")
	ErrNotFound            = errors.New("record not found")

	// ErrOTPThrottled is returned when the redis attempt limiter rejects a
	// validation burst before the token is even compared.
	ErrOTPThrottled = errors.New("too many token validation attempts")

	// ErrLimitNotUsable is returned when the institution's limit record has
	// not itself been approved for use.
	ErrLimitNotUsable = errors.New("institution limit is not approved for use")

	// ErrInvalidSchedule is returned when a submitted recurrence plan is
	// malformed (unknown type, inverted window, out-of-range day).
	ErrInvalidSchedule = errors.New("invalid schedule definition")
)
