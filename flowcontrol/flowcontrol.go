package flowcontrol

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrResourceExhausted is returned by Reserve in fail-fast mode when a
// configured bound would be exceeded. It is recoverable: callers may back
// off and retry. It is never fatal to the subscriber group.
var ErrResourceExhausted = errors.New("flow control limits exceeded")

// Load tracks the aggregate unacknowledged message count and byte size
// across all stream connections of a subscriber group, and gates admission
// of new messages.
//
// Each dimension (messages, bytes) has an optional upper bound. With a
// bound configured, Reserve either blocks until capacity frees (the
// default) or fails immediately with ErrResourceExhausted in fail-fast
// mode. An unbounded dimension performs no gating at all.
//
// Load is safe for concurrent use without external locking.
type Load struct {
	msgSem   *semaphore.Weighted
	byteSem  *semaphore.Weighted
	maxBytes int64
	failFast bool

	outstandingMsgs  atomic.Int64
	outstandingBytes atomic.Int64
}

// New creates a flow controller with the given bounds.
//
// A bound of 0 (or negative) disables limiting for that dimension.
// With failFast set, Reserve returns ErrResourceExhausted instead of
// blocking when a bound would be exceeded.
func New(maxMessages, maxBytes int64, failFast bool) *Load {
	l := &Load{maxBytes: maxBytes, failFast: failFast}
	if maxMessages > 0 {
		l.msgSem = semaphore.NewWeighted(maxMessages)
	}
	if maxBytes > 0 {
		l.byteSem = semaphore.NewWeighted(maxBytes)
	}

	return l
}

// Reserve admits one message of the given byte size.
//
// In blocking mode Reserve waits until both dimensions have capacity, or
// until ctx is done. In fail-fast mode it returns ErrResourceExhausted
// without waiting. A message larger than the byte bound has its weight
// clamped to the bound, so an oversized message can still be admitted when
// it is alone in flight.
//
// Every successful Reserve must be paired with exactly one Release of the
// same byte size.
func (l *Load) Reserve(ctx context.Context, byteSize int) error {
	weight := l.byteWeight(byteSize)

	if l.msgSem != nil {
		if err := l.acquire(ctx, l.msgSem, 1); err != nil {
			return err
		}
	}
	if l.byteSem != nil && weight > 0 {
		if err := l.acquire(ctx, l.byteSem, weight); err != nil {
			// Roll back the message slot so the failed reserve leaves no residue.
			if l.msgSem != nil {
				l.msgSem.Release(1)
			}

			return err
		}
	}

	l.outstandingMsgs.Add(1)
	l.outstandingBytes.Add(weight)

	return nil
}

// Release returns capacity for one previously reserved message and wakes
// any blocked reserver once capacity suffices. It must be called exactly
// once per successful Reserve, with the same byte size.
func (l *Load) Release(byteSize int) {
	weight := l.byteWeight(byteSize)

	if l.msgSem != nil {
		l.msgSem.Release(1)
	}
	if l.byteSem != nil && weight > 0 {
		l.byteSem.Release(weight)
	}

	l.outstandingMsgs.Add(-1)
	l.outstandingBytes.Add(-weight)
}

// OutstandingMessages returns the current number of admitted, unreleased messages.
func (l *Load) OutstandingMessages() int64 {
	return l.outstandingMsgs.Load()
}

// OutstandingBytes returns the current admitted, unreleased byte weight.
func (l *Load) OutstandingBytes() int64 {
	return l.outstandingBytes.Load()
}

func (l *Load) acquire(ctx context.Context, sem *semaphore.Weighted, n int64) error {
	if l.failFast {
		if !sem.TryAcquire(n) {
			return ErrResourceExhausted
		}

		return nil
	}

	return sem.Acquire(ctx, n)
}

// byteWeight clamps the byte cost of a message into the configured bound.
func (l *Load) byteWeight(byteSize int) int64 {
	w := int64(byteSize)
	if w < 0 {
		w = 0
	}
	if l.maxBytes > 0 && w > l.maxBytes {
		w = l.maxBytes
	}

	return w
}
