package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "lcdaily/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

func init() {
	// modernc registers itself as "sqlite"; make sqlx bind with '?'.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLite is the durable store. Safe for concurrent use.
type SQLite struct {
	db  *sqlx.DB
	log logx.Logger
	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
	llmTTL     atomic.Int64
}

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &SQLite{db: db, log: log, now: time.Now, pruneEvery: cfg.PruneEvery}
	st.llmTTL.Store(int64(cfg.LLMTTL))
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// addedColumns upgrades databases created before a column existed.
var addedColumns = []struct{ table, column, ddl string }{
	{"problems", "rating", `ALTER TABLE problems ADD COLUMN rating REAL NOT NULL DEFAULT 0`},
	{"problems", "similar", `ALTER TABLE problems ADD COLUMN similar TEXT NOT NULL DEFAULT '[]'`},
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	for _, c := range addedColumns {
		ok, err := s.hasColumn(ctx, c.table, c.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		s.log.Info("adding column", logx.String("table", c.table), logx.String("column", c.column))
		if _, err := s.db.ExecContext(ctx, c.ddl); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func (s *SQLite) hasColumn(ctx context.Context, table, column string) (bool, error) {
	var cols []struct {
		CID     int            `db:"cid"`
		Name    string         `db:"name"`
		Type    string         `db:"type"`
		NotNull bool           `db:"notnull"`
		Default sql.NullString `db:"dflt_value"`
		PK      int            `db:"pk"`
	}
	if err := s.db.SelectContext(ctx, &cols, `PRAGMA table_info(`+table+`)`); err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

// SetLLMTTL updates the retention used by opportunistic pruning (hot reload).
func (s *SQLite) SetLLMTTL(ttl time.Duration) { s.llmTTL.Store(int64(ttl)) }

func (s *SQLite) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// notePut counts a write and prunes expired LLM rows every pruneEvery writes.
func (s *SQLite) notePut() {
	if s.pruneEvery == 0 || s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	ttl := time.Duration(s.llmTTL.Load())
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if n, err := s.PruneLLMResults(ctx, s.now().Add(-ttl)); err != nil {
		s.log.Debug("opportunistic prune failed", logx.Err(err))
	} else if n > 0 {
		s.log.Debug("opportunistic prune", logx.Int64("deleted", n))
	}
}
