package async

import (
	"time"
)

// BatchStatus represents where a batch is in its lifecycle
type BatchStatus string

const (
	BatchFilling   BatchStatus = "filling"   // producer still appending items
	BatchQueued    BatchStatus = "queued"    // sealed, waiting for a committer
	BatchRunning   BatchStatus = "running"   // a committer owns it
	BatchCommitted BatchStatus = "committed" // committed atomically
	BatchFailed    BatchStatus = "failed"    // commit failed; every item is failed
)

// Batch is a handle on a fixed group of items committed together as one unit.
// Items are never mutated after the batch is sealed. Status, Err and timing
// are written by exactly one committer and published by closing done.
type Batch[T any] struct {
	ID    int64
	Items []T

	status    BatchStatus
	err       error
	sealedAt  time.Time
	startedAt time.Time
	endedAt   time.Time
	worker    int

	done chan struct{}
}

func newBatch[T any](id int64, capacity int) *Batch[T] {
	return &Batch[T]{
		ID:     id,
		Items:  make([]T, 0, capacity),
		status: BatchFilling,
		worker: -1,
		done:   make(chan struct{}),
	}
}

// Len returns the number of items in the batch
func (b *Batch[T]) Len() int {
	return len(b.Items)
}

// Done is closed once the batch reaches a terminal status
func (b *Batch[T]) Done() <-chan struct{} {
	return b.done
}

// Status returns the batch status. Terminal values are only meaningful after Done.
func (b *Batch[T]) Status() BatchStatus {
	select {
	case <-b.done:
		return b.status
	default:
		if b.sealedAt.IsZero() {
			return BatchFilling
		}
		return BatchQueued
	}
}

// Err returns the commit error. Only valid after Done is closed.
func (b *Batch[T]) Err() error {
	<-b.done
	return b.err
}

// Duration returns how long the committer spent on the batch
func (b *Batch[T]) Duration() time.Duration {
	<-b.done
	if b.startedAt.IsZero() {
		return 0
	}
	return b.endedAt.Sub(b.startedAt)
}

// Worker returns the id of the committer that ran the batch, or -1 if none did
func (b *Batch[T]) Worker() int {
	<-b.done
	return b.worker
}

func (b *Batch[T]) seal() {
	b.sealedAt = time.Now()
	b.status = BatchQueued
}

func (b *Batch[T]) start(worker int) {
	b.worker = worker
	b.startedAt = time.Now()
	b.status = BatchRunning
}

// finish records the outcome and releases waiters. Called once per batch.
func (b *Batch[T]) finish(err error) {
	b.endedAt = time.Now()
	b.err = err
	if err != nil {
		b.status = BatchFailed
	} else {
		b.status = BatchCommitted
	}
	close(b.done)
}
