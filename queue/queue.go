// Package queue provides the job transport the worker polls: message
// and job payload types, strict payload decoding, and a Redis-backed
// implementation.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrEmpty is returned by Pop when the named queue has no messages.
var ErrEmpty = errors.New("queue: no messages")

// Message is one popped queue entry. The ID is assigned at pop time
// and correlates all log events for the job.
type Message struct {
	ID    uuid.UUID
	Queue string
	Body  []byte
}

// Queue is the transport the worker polls jobs from and enqueues
// batch fan-out jobs onto.
type Queue interface {
	// Pop removes and returns the oldest message on the named queue.
	// Returns ErrEmpty when there is nothing to do.
	Pop(ctx context.Context, name string) (*Message, error)
	// Push appends v, JSON-encoded, to the named queue.
	Push(ctx context.Context, name string, v any) error
}
