package taskqueue

import "errors"

// Engine errors. All of them are surfaced to the caller; the worker
// additionally swallows ErrTaskNotFound and ErrTaskStatusNotMatched
// for duplicate deliveries and racing deletes.
var (
	// ErrTaskNotFound is returned when a lookup by id, uuid or cname
	// finds no live task.
	ErrTaskNotFound = errors.New("taskqueue: task not found")

	// ErrTaskAlreadyExists is returned when an insert collides with a
	// live task holding the same cname, detected either by the
	// pre-check or by a watched-transaction conflict.
	ErrTaskAlreadyExists = errors.New("taskqueue: task already exists")

	// ErrTaskStatusNotMatched is returned when a status transition
	// finds the task in an unexpected state, or when delete-by-id
	// targets a running task.
	ErrTaskStatusNotMatched = errors.New("taskqueue: task status not matched")

	// ErrTaskCNameRequired is returned when a recurring task is
	// inserted without a cname.
	ErrTaskCNameRequired = errors.New("taskqueue: recurring task requires a cname")

	// ErrInvalidDescriptor is returned when a task descriptor fails
	// structural validation.
	ErrInvalidDescriptor = errors.New("taskqueue: invalid task descriptor")
)
