// Package services holds the bot's application logic: fetching replies,
// presenting them, recovering from upstream failures, and the admin panel.
// This file centralizes the service-level error values so callers can match
// them with errors.Is and translate them into notices.
package services

import "errors"

// Retry preconditions. These are reported through Result.Reason and never
// escape as Go errors.
var (
	// ErrNoRecord means there is no (live) failed request for the chat.
	ErrNoRecord = errors.New("no failed request to retry")

	// ErrNotOwner is returned when someone other than the original sender
	// taps retry.
	ErrNotOwner = errors.New("only the original sender may retry")

	// ErrCooldown is returned when the user acts again inside the cooldown.
	ErrCooldown = errors.New("user cooldown active")

	// ErrAttemptsExhausted is returned once the manual retry ceiling is hit.
	ErrAttemptsExhausted = errors.New("manual retry attempts exhausted")

	// ErrInProgress is returned when a retry is already running for the chat.
	ErrInProgress = errors.New("retry already in progress")
)

// Upstream failures.
var (
	// ErrUpstream wraps network failures, non-2xx replies and malformed
	// bodies from the completion API.
	ErrUpstream = errors.New("upstream failure")

	// ErrUpstreamTimeout is returned when the completion call exceeds its
	// deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// Input validation.
var (
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrTooLong     = errors.New("prompt too long")
)

// Admin panel.
var (
	ErrForbidden      = errors.New("not allowed")
	ErrUserNotFound   = errors.New("user not found")
	ErrSuperadmin     = errors.New("superadmins cannot be removed")
	ErrEmptyBroadcast = errors.New("broadcast text is empty")
)
