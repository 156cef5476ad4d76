/*
Package event provides a type-safe pub/sub event system for the chat
engine daemon.

The event system decouples the cache sync worker, the chat pipeline,
and the command surface so none of them needs a direct reference to
the others — the sync loop doesn't know who's watching for
"sync.completed", and the TTS drain loop doesn't know who produced
"voice.enqueued".

# Architecture

The package is built on watermill's gochannel for infrastructure while
keeping direct-call semantics so subscribers receive typed Go values
instead of decoding bytes. It supports synchronous and asynchronous
publishing.

# Event Types

Session lifecycle:
  - session.created, session.updated, session.deleted
  - persona.switched: the user's current (persona, session) pointer
    changed — independent of any in-flight pinned turn, which never
    re-reads this

Accounting:
  - token_usage.updated

Memory:
  - memory.added, memory.deleted (including dedup-triggered deletes)

Sync engine:
  - sync.completed, sync.failed

TTS side-channel:
  - voice.enqueued

# Basic Usage

Publishing events:

	event.PublishSync(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Session: sess},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(event.SyncCompleted, func(e event.Event) {
		data := e.Data.(event.SyncCompletedData)
		logging.Info().Str("duration", data.Duration).Msg("sync cycle done")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

PublishSync calls subscribers in the publisher's goroutine. Subscribers
must complete quickly and must never call Publish/PublishSync
re-entrantly or acquire a lock the publisher might hold.

# Custom Event Bus

	bus := event.NewBus()
	defer bus.Close()
	bus.Subscribe(event.SessionCreated, handler)

# Testing

	event.Reset() // clears the global bus; use in test cleanup

# Thread Safety

The bus is safe for concurrent publish/subscribe from multiple
goroutines.
*/
package event
