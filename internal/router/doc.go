// Package router turns raw feed frames into complete tick records.
//
// Each update is merged into the last snapshot of its instrument: full-depth
// payloads replace the snapshot, partial payloads overlay only the fields
// they carry. The sink always receives whole records.
package router
