// Package health reports on the feed connection.
//
// Monitor derives a Status from the connection health and reconciler
// counters; it never changes state. A connected feed is stale when no frame
// has arrived for longer than StaleAfter (or, before the first frame, when it
// has been connected that long). Handler serves the status over HTTP and
// Reporter logs it periodically.
package health
