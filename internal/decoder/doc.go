// Package decoder turns binary market-data frames into per-instrument updates.
//
// Frames follow the provider's v3 feed schema (a protobuf FeedResponse holding a
// map of instrument key to Feed). Decoding walks the wire format field by field
// with protowire, so unknown fields added by the provider are skipped rather
// than rejected.
//
// Shapes:
//   - LTPC: last traded price class fields only (partial)
//   - IndexFull: LTPC plus day OHLC, no book (partial)
//   - FirstLevel: LTPC, top of book, volume and OI (partial)
//   - MarketFull: everything including multi-level depth (full)
//
// Absent numeric fields decode to zero. Depth beyond the mode's maximum is
// truncated.
package decoder
