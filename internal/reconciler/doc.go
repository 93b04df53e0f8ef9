// Package reconciler converges the feed's subscriptions on the desired set.
//
// Desired state is the fixed base list plus the watch list, which is read
// from the database on every tick. Each tick diffs desired against the active
// set, subscribes the missing keys in sorted chunks no larger than the
// provider's batch ceiling, switches keys whose watch-list mode changed and
// unsubscribes keys no longer wanted. Chunks are paced by a rate limiter. A failed chunk leaves its keys untouched for the
// next tick; nothing is rolled back.
//
// The active set is optimistic: a key is active once its subscribe call
// returned without error. The provider does not acknowledge subscriptions.
// Every update is tagged with the connection epoch read at the start of the
// tick; once that connection is gone the session refuses the update and the
// tick stops, so a reconnect always starts from an empty active set.
//
// Run also owns reconnection. The feed never reconnects on its own; when Run
// sees it DISCONNECTED it reconnects with exponential backoff and reconciles
// immediately, which resubscribes everything because the active set was
// cleared on disconnect. Trigger runs a tick ahead of the interval; the feed
// binary calls it on watch-list NOTIFY events and on POST /reconcile.
package reconciler
