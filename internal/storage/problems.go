package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"lcdaily/internal/domain"
)

type problemRow struct {
	Site       string  `db:"site"`
	ID         string  `db:"id"`
	Slug       string  `db:"slug"`
	Title      string  `db:"title"`
	TitleCN    string  `db:"title_cn"`
	Difficulty string  `db:"difficulty"`
	Tags       string  `db:"tags"`
	Link       string  `db:"link"`
	ACRate     float64 `db:"ac_rate"`
	PaidOnly   bool    `db:"paid_only"`
	Content    string  `db:"content"`
	Rating     float64 `db:"rating"`
	Similar    string  `db:"similar"`
}

const problemColumns = `site, id, slug, title, title_cn, difficulty, tags, link, ac_rate, paid_only, content, rating, similar`

func (r problemRow) toDomain() domain.Problem {
	p := domain.Problem{
		ID:         r.ID,
		Site:       domain.Site(r.Site),
		Slug:       r.Slug,
		Title:      r.Title,
		TitleCN:    r.TitleCN,
		Difficulty: r.Difficulty,
		Link:       r.Link,
		ACRate:     r.ACRate,
		PaidOnly:   r.PaidOnly,
		Content:    r.Content,
		Rating:     r.Rating,
	}
	_ = json.Unmarshal([]byte(r.Tags), &p.Tags)
	_ = json.Unmarshal([]byte(r.Similar), &p.Similar)
	return p
}

func (s *SQLite) GetProblem(ctx context.Context, site domain.Site, id string) (domain.Problem, error) {
	var row problemRow
	err := s.db.GetContext(ctx, &row, `SELECT `+problemColumns+` FROM problems WHERE site = ? AND id = ?`, string(site), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Problem{}, fmt.Errorf("problem %s/%s: %w", site, id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Problem{}, err
	}
	return row.toDomain(), nil
}

// UpsertProblem stores p. Empty fields never overwrite stored ones, so a
// listing entry cannot erase a previously fetched statement.
func (s *SQLite) UpsertProblem(ctx context.Context, p domain.Problem) error {
	return upsertProblem(ctx, s.db, p)
}

func upsertProblem(ctx context.Context, ex sqlx.ExtContext, p domain.Problem) error {
	if p.ID == "" || p.Slug == "" {
		return errors.New("problem id and slug required")
	}
	tags, err := jsonList(p.Tags)
	if err != nil {
		return err
	}
	similar, err := jsonList(p.Similar)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO problems (`+problemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site, id) DO UPDATE SET
			slug       = excluded.slug,
			title      = COALESCE(NULLIF(excluded.title, ''), problems.title),
			title_cn   = COALESCE(NULLIF(excluded.title_cn, ''), problems.title_cn),
			difficulty = COALESCE(NULLIF(excluded.difficulty, ''), problems.difficulty),
			tags       = CASE WHEN excluded.tags = '[]' THEN problems.tags ELSE excluded.tags END,
			link       = COALESCE(NULLIF(excluded.link, ''), problems.link),
			ac_rate    = CASE WHEN excluded.ac_rate = 0 THEN problems.ac_rate ELSE excluded.ac_rate END,
			paid_only  = excluded.paid_only,
			content    = COALESCE(NULLIF(excluded.content, ''), problems.content),
			rating     = CASE WHEN excluded.rating = 0 THEN problems.rating ELSE excluded.rating END,
			similar    = CASE WHEN excluded.similar = '[]' THEN problems.similar ELSE excluded.similar END`,
		string(p.Site), p.ID, p.Slug, p.Title, p.TitleCN, p.Difficulty, tags, p.Link, p.ACRate, p.PaidOnly, p.Content,
		p.Rating, similar,
	)
	return err
}

// jsonList encodes a slice, storing empty as "[]" so upserts can tell it apart.
func jsonList[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SQLite) GetDailyChallenge(ctx context.Context, site domain.Site, date string) (domain.DailyChallenge, error) {
	var rec struct {
		Site      string `db:"site"`
		Date      string `db:"date"`
		ProblemID string `db:"problem_id"`
	}
	err := s.db.GetContext(ctx, &rec, `SELECT site, date, problem_id FROM daily_challenges WHERE site = ? AND date = ?`, string(site), date)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyChallenge{}, fmt.Errorf("daily %s/%s: %w", site, date, domain.ErrNotFound)
	}
	if err != nil {
		return domain.DailyChallenge{}, err
	}
	return domain.DailyChallenge{Site: domain.Site(rec.Site), Date: rec.Date, ProblemID: rec.ProblemID}, nil
}

// ListDailyDates returns the recorded dates in [from, to] (inclusive, YYYY-MM-DD).
func (s *SQLite) ListDailyDates(ctx context.Context, site domain.Site, from, to string) ([]string, error) {
	var dates []string
	err := s.db.SelectContext(ctx, &dates,
		`SELECT date FROM daily_challenges WHERE site = ? AND date >= ? AND date <= ? ORDER BY date`,
		string(site), from, to)
	return dates, err
}

// InsertDailyIfAbsent stores the problem and the (site, date) record in one
// transaction. It reports false, without touching the record, when the date
// was already recorded.
func (s *SQLite) InsertDailyIfAbsent(ctx context.Context, rec domain.DailyChallenge, p domain.Problem) (bool, error) {
	if rec.Date == "" || rec.ProblemID == "" {
		return false, errors.New("daily record needs a date and problem id")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertProblem(ctx, tx, p); err != nil {
		return false, fmt.Errorf("store problem: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO daily_challenges (site, date, problem_id, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(site, date) DO NOTHING`,
		string(rec.Site), rec.Date, rec.ProblemID, s.now().Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}
