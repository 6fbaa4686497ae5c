package domain

import "errors"

var (
	// ErrNotFound: the target, post, comment or author does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a uniqueness constraint rejected the write.
	ErrConflict = errors.New("conflict")
	// ErrValidation: the request can never succeed as given. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrTransient: lock timeout, deadlock or serialization failure. Safe to retry.
	ErrTransient = errors.New("transient data error")
	// ErrForbidden: the caller may not act on someone else's content.
	ErrForbidden = errors.New("forbidden")
)
