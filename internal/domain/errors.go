package domain

import "errors"

var (
	ErrIDMismatch         = errors.New("device identifier mismatch")
	ErrSizeMismatch       = errors.New("sample size mismatch")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrSlowClient         = errors.New("client send buffer full")
	ErrRegistryClosed     = errors.New("registry is shut down")
	ErrShutdownTimeout    = errors.New("shutdown deadline exceeded")
)
