package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNoSnapshot        = errors.New("no price snapshot")
	ErrMissingTokenIDs   = errors.New("market has no token ids")
	ErrInsufficientDepth = errors.New("insufficient orderbook depth")
	ErrOrderRejected     = errors.New("order rejected")
	ErrBelowMinNotional  = errors.New("notional below $1 minimum")
	ErrMissingCredential = errors.New("missing trading credential")
	ErrContextDone       = errors.New("context cancelled")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)
