package models

import "errors"

// Sentinel errors surfaced by repositories and services. Handlers map these
// onto the HTTP envelope.
var (
	// ErrWorkerNameRequired indicates a worker row without a name.
	ErrWorkerNameRequired = errors.New("worker name is required")

	// ErrWorkerNameTaken indicates a registration against a name held by a
	// live (fresh-heartbeat) worker instance.
	ErrWorkerNameTaken = errors.New("worker name is held by a live instance")

	// ErrWorkerNameMismatch indicates a heartbeat whose name does not match
	// the worker row.
	ErrWorkerNameMismatch = errors.New("worker name does not match")

	// ErrWorkerNotFound indicates an unknown worker id.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrTaskNotFound indicates an unknown task uuid.
	ErrTaskNotFound = errors.New("task not found")

	// ErrVideoNotFound indicates an unknown video id.
	ErrVideoNotFound = errors.New("video not found")

	// ErrTaskWorkerMismatch indicates a progress update from a worker that
	// does not own the task.
	ErrTaskWorkerMismatch = errors.New("task is assigned to a different worker")

	// ErrIllegalTransition indicates a task status update that is not a
	// legal transition from the current status.
	ErrIllegalTransition = errors.New("illegal task status transition")

	// ErrOfflineRequested indicates the worker has a pending offline or
	// shutdown request and must not receive work.
	ErrOfflineRequested = errors.New("worker offline requested")

	// ErrNoCandidate indicates no video matched the dispatch filter.
	ErrNoCandidate = errors.New("no candidate video available")
)
