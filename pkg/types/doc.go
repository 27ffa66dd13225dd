/*
Package types defines the core data structures shared by every server
component in adlb-go: datum records and their type union, pending
tasks, work units, requests, and the error taxonomy every core
operation returns.

# Core Types

Datum model:
  - DatumID: signed 64-bit global identifier, NullID reserved
  - ValueType: int, float, string, blob, ref, file_ref, container,
    multiset, struct
  - Datum: the owned record — status flags, read/write refcounts,
    listeners, and a type-specific value (Scalar, Container, Multiset,
    or Struct)
  - Multiset: append-only chunked element sequence
  - StructField / StructDecl: per-field state and compile-time struct
    type declarations

Dependency engine and scheduling:
  - PendingTask: a task blocked on one or more (datum, subscript) inputs
  - WorkUnit: a task payload plus routing metadata (target, accuracy,
    strictness, priority, parallelism)
  - Request: a worker's outstanding get registration

Error taxonomy:
  - Code: the closed set of outcomes (SUCCESS, OOM, DOUBLE_DECLARE,
    DOUBLE_WRITE, UNSET, NOT_FOUND, SUBSCRIPT_NOT_FOUND, NUMBER_FORMAT,
    INVALID, NULL, TYPE, SLOTS_NEGATIVE, LIMIT, UNKNOWN)
  - CodeError: wraps a Code as an error; compare with errors.Is against
    the Err* sentinels

# Usage

	d := &types.Datum{ID: 10, Type: types.TypeInt, ReadRefcount: 1, WriteRefcount: 1}

	if err := someStore(d, val); err != nil {
		if errors.Is(err, types.ErrDoubleWrite) {
			// already written
		}
	}

This package has no behavior of its own — every operation lives in
pkg/store, pkg/subs, pkg/depengine, pkg/workqueue, and pkg/reqqueue,
all of which build on these shared definitions.
*/
package types
