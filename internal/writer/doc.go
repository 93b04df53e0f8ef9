// Package writer persists merged tick records to the latest-tick table.
//
// Each frame becomes one pgx.Batch with a single upsert per instrument key;
// when a frame carries the same key twice, the last record wins. Rows are
// replaced wholesale (every column from EXCLUDED), so the writer must only be
// handed complete records. Depth is stored as fixed-width bid/ask columns,
// zero-filled past the record's depth.
//
// An optional Mirror receives the same records after a successful upsert.
// Mirror failures are logged and counted and never fail the write.
package writer
