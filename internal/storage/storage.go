// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storage persists charm state between hook invocations: opaque
// snapshots keyed by handle, and notices recording events that still
// have to be delivered to an observer.
package storage

import (
	"context"
	"time"
)

// Notice records that an event has been emitted to an observer which
// has not yet handled it.
type Notice struct {
	// EventPath identifies the event. Its snapshot is stored under the
	// same handle.
	EventPath string

	// ObserverPath identifies the observer the event is pending for.
	ObserverPath string

	// Emitted is when the event was first emitted.
	Emitted time.Time
}

// Store is the durable state slot shared by every hook invocation of a
// unit.
type Store interface {
	// SaveSnapshot stores data under handle, replacing any previous value.
	SaveSnapshot(ctx context.Context, handle string, data []byte) error

	// LoadSnapshot returns the data stored under handle, or an error
	// satisfying errors.NotFound.
	LoadSnapshot(ctx context.Context, handle string) ([]byte, error)

	// DropSnapshot removes the data stored under handle. Dropping an
	// unknown handle is not an error.
	DropSnapshot(ctx context.Context, handle string) error

	// SaveNotice records a pending notice. Saving a notice for an
	// event/observer pair that is already pending is a no-op.
	SaveNotice(ctx context.Context, notice Notice) error

	// Notices returns the pending notices in the order they were saved.
	Notices(ctx context.Context) ([]Notice, error)

	// DropNotice removes the pending notice for the event/observer pair.
	DropNotice(ctx context.Context, notice Notice) error

	// Close releases any resources held by the store.
	Close() error
}
