// Package model defines shared data types used across the market feed.
//
// Conventions:
//   - Instrument keys are opaque "segment|id" strings assigned by the instrument catalog
//   - Prices: float64 in the instrument's quote currency, as sent by the provider
//   - Quantities and volumes: int64
//   - Exchange timestamps: int64 milliseconds since Unix epoch
//   - Depth is fixed-width per subscription mode (zero-filled, never omitted)
package model
