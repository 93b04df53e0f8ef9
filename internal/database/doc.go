// Package database provides the PostgreSQL pool and the relational reads and
// writes the feed needs.
//
// Tables:
//   - latest-tick table (default websocket_ticks_v3): one row per instrument,
//     replaced on every tick, depth stored as fixed-width bid/ask columns 1..15
//   - watch list (default watched_instruments): runtime interest set, owned by
//     the dashboard; read fresh on every reconciliation tick
//   - instrument catalog (default instrument_master): read once at startup to
//     build the base subscription set
//
// Schema beyond the first two tables is owned elsewhere.
package database
