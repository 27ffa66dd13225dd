/*
Package reqqueue implements §4.5's request queue: a per-rank FIFO of
outstanding get requests, matched against the work queue from the
other side. nblocked tracks how many outstanding requests declared
themselves blocking; a server is idle exactly when nblocked equals the
worker count and every work queue lane is empty — the two halves of
the quiescence check pkg/server runs before allowing shutdown.
*/
package reqqueue
