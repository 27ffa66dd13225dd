/*
Package store implements the typed distributed datum store: the leaf
component owning every datum Locate(id) assigns to this server. It
provides create, store, retrieve, enumerate, exists, refcount-incr, and
insert-atomic, plus the reference-counting split carried over from the
source this system is modeled on:

  - IncrRemote — the entry point used when a cross-server sync message
    asks this server to adjust refcounts on a datum it owns.
  - incrLocal — the same adjustment on a datum this server owns;
    IncrRemote delegates to it.
  - incrReferand — the atomic "acquire while releasing" step: when a
    datum is garbage collected, every referand it points to has its
    read refcount released and, in the same step, may have refcounts
    acquired on behalf of a new holder, so a referand is never observed
    with zero references between the release and the acquire.

Store itself holds no knowledge of the subscription tables in pkg/subs
or the dependency engine in pkg/depengine — write paths return a
CloseEvent describing what closed (a whole datum, or a container/struct
subscript) and the caller (the control plane in pkg/server) is
responsible for consulting the subscription tables and routing
notifications. This keeps the store a straight-line, lock-held-briefly
component with no knowledge of cross-component wiring, matching the
single-threaded cooperative handler model: every public method here
runs to completion without itself blocking on another message.
*/
package store
