/*
Package server is the control plane: one Server per shard, composing
pkg/store, pkg/subs, pkg/depengine, pkg/workqueue, and pkg/reqqueue
into the operation set of §6 (Put, Put-rule, Get, Create, Store,
Retrieve, Exists, Enumerate, Refcount-incr, Subscribe,
Container-reference, Unique, Insert-atomic, Lock/Unlock).

A Server never reaches outside its own shard except through the
RemoteSync interface, which internal/rpc implements over the real
transport and which tests satisfy with an in-process fake. Every
operation on a non-local id either routes through RemoteSync or, for
Subscribe/Put-rule inputs, is expected to have already been resolved by
the caller's sync layer — this package holds no network code itself,
matching the single-threaded, cooperative, message-boundary-suspension
model of §5.
*/
package server
