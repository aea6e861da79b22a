package service

import (
	"errors"
)

// Error taxonomy surfaced by every service operation. Handlers map these
// classes to HTTP statuses; the client library maps statuses back. Only
// ErrTransient is retryable; everything else is terminal and must be
// reported to the caller unchanged.
var (
	// ErrNotFound: session, membership, message or user absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: not a member, insufficient role, banned, muted, or a
	// creator-supremacy violation.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest: missing required content, invalid duration bounds,
	// invalid role, oversized payload.
	ErrBadRequest = errors.New("bad request")
	// ErrConflict: current state already satisfies or contradicts the
	// request, e.g. joining an ended session or banning a banned member.
	ErrConflict = errors.New("conflict")
	// ErrTransient: upstream persistence or upload failure; eligible for
	// client-side retry.
	ErrTransient = errors.New("transient failure")
)
