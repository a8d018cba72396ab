package sim

import "errors"

var (
	// ErrReentrantTick is returned when Tick or Progress* is called while a tick is
	// already in progress, e.g. from a command callback.
	ErrReentrantTick = errors.New("tick already in progress")

	ErrMissingRequired  = errors.New("required sub-object missing")
	ErrNoSubject        = errors.New("dependent object has no subject")
	ErrNotAttached      = errors.New("metric is not attached to a subject")
	ErrAlreadyStarted   = errors.New("object already started")
	ErrDestroyed        = errors.New("object destroyed")
	ErrDuplicateObject  = errors.New("object already registered")
	ErrDuplicateSubtype = errors.New("subtype already owned")
	ErrUnknownObject    = errors.New("unknown object")
	ErrUnknownSubtype   = errors.New("unknown subtype")

	ErrNegativeDuration = errors.New("duration must not be negative")
	ErrTargetInPast     = errors.New("target time is before the current time")

	// ErrCountMismatch is fatal during snapshot load: the rehydrated registry does not
	// hold the number of objects the snapshot recorded.
	ErrCountMismatch = errors.New("object count mismatch after rehydration")
)
