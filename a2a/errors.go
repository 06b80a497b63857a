package a2a

import "errors"

var (
	ErrMissingName        = errors.New("agent card missing name")
	ErrMissingDescription = errors.New("agent card missing description")
	ErrMissingURL         = errors.New("agent card missing url")
	ErrMissingVersion     = errors.New("agent card missing version")

	ErrTaskNotFound = errors.New("task not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrEmptyMessage = errors.New("message has no text content")
)
