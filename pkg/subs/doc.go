/*
Package subs implements the four subscription structures a server
keeps per §4.2 of the data model: whole-datum subscribers, per-subscript
subscribers, whole-datum reference bindings, and per-subscript
reference bindings — plus the two closed-data LRU caches (one keyed by
id, one by a packed (id, subscript) key) that let a repeated subscribe
to data already known closed skip the cross-server round trip.

The *already subscribed* table prevents duplicate subscribe traffic:
once this engine has requested notification for a (datum, subscript)
pair, a second subscribe request for the same pair is a no-op. Callers
are expected to check AlreadySubscribed, then the local datum store,
then the closed-data cache, and only then issue a cross-server
subscribe — in that order, per the rule operation in pkg/depengine.
*/
package subs
