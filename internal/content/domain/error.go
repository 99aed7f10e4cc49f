package domain

import "errors"

var (
	ErrNotFound      = errors.New("content_not_found")
	ErrInvalidKind   = errors.New("invalid_content_kind")
	ErrInvalidState  = errors.New("invalid_content_state")
	ErrInvalidInput  = errors.New("invalid_content_input")
	ErrMissingMedia  = errors.New("content_missing_media")
	ErrScheduleInPast = errors.New("schedule_in_past")
	ErrInvalidAccount = errors.New("invalid_account")
)
