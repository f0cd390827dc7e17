// Package pipeline implements the worker/producer split from spec
// §4.5: a bounded single-producer/single-consumer queue of lines, a
// producer that reads a file (optionally gzip) source, and a worker
// event loop that drains the queue while the tunnel can accept sends.
package pipeline

import (
	"sync/atomic"
)

// queueCapacity is the ring buffer's fixed size, within the 8192-32768
// range spec §4.5 leaves as an implementation choice.
const queueCapacity = 16384

// Queue is a bounded SPSC ring buffer of lines. It has exactly one
// producer goroutine calling Push and exactly one consumer goroutine
// calling Pop; that precondition is the caller's responsibility, not
// something Queue enforces, matching spec §5's "correctness
// precondition, not a check."
//
// head and tail are only ever advanced by their respective owning
// goroutine and read by the other, so plain atomics (not a mutex) are
// enough: this is the ring-buffer translation of the reference
// driver's boost::lockfree::spsc_queue.
type Queue struct {
	buf  [queueCapacity]string
	head atomic.Uint64 // next slot to Pop, owned by the consumer
	tail atomic.Uint64 // next slot to Push, owned by the producer
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push attempts to enqueue line, returning false if the ring is full.
// The producer retries after a short sleep on false, per spec §4.5.
func (q *Queue) Push(line string) bool {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail-head >= queueCapacity {
		return false
	}
	q.buf[tail%queueCapacity] = line
	q.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest line, returning false if the ring is empty.
func (q *Queue) Pop() (string, bool) {
	head := q.head.Load()
	tail := q.tail.Load()
	if head >= tail {
		return "", false
	}
	line := q.buf[head%queueCapacity]
	q.buf[head%queueCapacity] = ""
	q.head.Store(head + 1)
	return line, true
}

// Empty reports whether the queue currently has no pending lines.
func (q *Queue) Empty() bool {
	return q.head.Load() >= q.tail.Load()
}

// Len reports the current queue depth, used for the QueueDepth gauge.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}
