// Package rtsync implements synchronization primitives for a priority-based
// real-time kernel, where the same API may be called from both task and
// interrupt context.
//
// The primitives are:
//
//   - [Channel], a bounded FIFO of fixed-size items, with front insertion and
//     overwrite
//   - [NotificationSlot], a lightweight signal targeting one task, used
//     either as a counter or as a set of event bits
//   - [BinaryLatch], a single token that may be given from interrupts
//   - [ExclusiveLock], an owned mutex, with a scoped [Guard]
//
// Every operation takes a [context.Context], which the kernel uses to mark
// the execution context. From interrupt context, operations never block: any
// requested timeout is treated as [NoWait], the interrupt-safe variant of the
// kernel call is used, and a context switch is requested if the call woke a
// task of higher priority than the one interrupted. Operations that have no
// interrupt-safe variant fail with [ErrInterruptContext].
//
// Timeouts are given as a [time.Duration]: [NoWait] (0) never blocks,
// [WaitForever] (any negative value) blocks indefinitely, and positive values
// are truncated to whole milliseconds. See [TimeBudget].
//
// The kernel itself is abstracted by the kernel package. The simkernel
// package provides an implementation backed by goroutines.
package rtsync
