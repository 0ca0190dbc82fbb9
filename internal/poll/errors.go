package poll

import "errors"

var (
	ErrNotFound         = errors.New("poll not found")
	ErrPollExists       = errors.New("poll already exists")
	ErrVersionConflict  = errors.New("poll version conflict")
	ErrNoChange         = errors.New("no change")
	ErrInvalidOption    = errors.New("invalid option")
	ErrDisplayUnchanged = errors.New("display content unchanged")
)
