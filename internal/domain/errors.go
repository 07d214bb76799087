package domain

import "errors"

var (
	// ErrInputInvalid indicates a missing identifier, message or malformed argument.
	ErrInputInvalid = errors.New("invalid input")
	// ErrRemoteUnavailable indicates the record service could not be reached or answered non-2xx.
	ErrRemoteUnavailable = errors.New("remote record store unavailable")
	// ErrNoRecord indicates neither the remote store nor the cache holds a record.
	ErrNoRecord = errors.New("no record found")
	// ErrPermissionDenied indicates notification permission has not been granted.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrActionMalformed indicates a structured action from the model had an unexpected shape.
	ErrActionMalformed = errors.New("malformed action")
	// ErrTaskNotFound indicates the task id does not exist on the record.
	ErrTaskNotFound = errors.New("task not found")
)
