/*
Package workqueue implements §4.4's work queue: priority-ordered
structures for untargeted, rank-targeted, and host-targeted work
units, in place of the reference implementation's macro-templated
red-black trees — here a btree.BTree per (target, work type) lane,
ordered by (-priority, sequence) so FIFO order holds within a priority
tier.

Soft-targeted work is dual-indexed into both its target lane and the
untargeted lane so a get from any rank can still claim it; the two
index entries share one item pointer and a claimed latch so only one
delivery ever happens, with the stale side dropped lazily on its own
pop.
*/
package workqueue
