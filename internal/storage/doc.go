// Package storage is the SQLite-backed durable store.
//
// It holds:
//   - Guild posting configuration (and the last posted date per guild)
//   - Problems and the daily challenge record per (site, date), insert-if-absent
//   - LLM augmentation results with a read-time TTL
package storage
