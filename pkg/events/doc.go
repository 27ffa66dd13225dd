/*
Package events provides an in-memory broker for server lifecycle
notifications: process startup, quiescence, shutdown, and datum
housekeeping (leaks, garbage collection). It is deliberately separate
from the per-datum subscription/listener mechanism in pkg/subs, which
wakes exactly one pending task when one datum closes rather than
broadcasting to every observer.

# Core Components

Broker:
  - Central message bus, one per server process
  - Non-blocking publish via a buffered channel
  - Graceful shutdown via Stop()

Event:
  - ID, Type, Timestamp, Message, Metadata

Subscriber:
  - A buffered channel of *Event, created via Broker.Subscribe()
  - Closed via Broker.Unsubscribe()

Event Types:
  - server.started, server.quiescent, server.shutdown
  - datum.leaked, datum.garbage_collected
  - checkpoint.write, checkpoint.replay

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			log.Info(event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventDatumLeaked,
		Message: "datum 1042 leaked: 1 outstanding read refcount at shutdown",
	})

# Design Notes

Publish is non-blocking and best-effort: a full broker queue drops the
event rather than stalling the publisher, and a full subscriber buffer
drops the event rather than stalling the broker, which matters because the
broker runs on the same process as the single-threaded server loop that
publishes into it. This package is a diagnostics/observability side
channel, never load-bearing for correctness — no pending task's
readiness depends on an Event being delivered.
*/
package events
