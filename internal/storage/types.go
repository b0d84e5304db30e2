package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
	// PruneEvery triggers an opportunistic prune of expired LLM results every
	// N writes. 0 disables it.
	PruneEvery uint64
	// LLMTTL is the retention used by opportunistic pruning; 0 keeps rows forever.
	LLMTTL time.Duration
}
