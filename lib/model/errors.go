package model

import "errors"

// Sentinel errors classifying the engine's error taxonomy.
// Callers use errors.Is/errors.Cause (see github.com/pkg/errors, used by
// lib/remote, lib/syncengine, lib/actions, lib/storage for wrapping with
// context) to recover the underlying kind after it has crossed a few
// component boundaries.
var (
	ErrNetwork        = errors.New("network error")
	ErrRateLimited    = errors.New("rate limited")
	ErrAuth           = errors.New("auth error")
	ErrHistoryExpired = errors.New("history cursor expired")
	ErrParse          = errors.New("parse error")
	ErrQueryParse     = errors.New("query parse error")
	ErrIO             = errors.New("storage io error")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrConflict       = errors.New("conflict")
	ErrCancelled      = errors.New("cancelled")
	ErrInternal       = errors.New("internal error")
	ErrSchemaMismatch = errors.New("schema mismatch")
)
