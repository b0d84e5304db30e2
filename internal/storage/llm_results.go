package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lcdaily/internal/domain"
)

// GetLLMResult returns the cached result for key created at or after notBefore.
// A zero notBefore accepts any age.
func (s *SQLite) GetLLMResult(ctx context.Context, key domain.LLMKey, notBefore time.Time) (domain.LLMResult, error) {
	var row struct {
		Content   string `db:"content"`
		Model     string `db:"model"`
		CreatedAt int64  `db:"created_at"`
	}
	var floor int64
	if !notBefore.IsZero() {
		floor = notBefore.Unix()
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT content, model, created_at FROM llm_results
		WHERE site = ? AND problem_id = ? AND kind = ? AND variant = ? AND created_at >= ?`,
		string(key.Site), key.ProblemID, string(key.Kind), key.Variant, floor)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LLMResult{}, fmt.Errorf("llm result %s/%s/%s: %w", key.ProblemID, key.Kind, key.Variant, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LLMResult{}, err
	}
	return domain.LLMResult{
		LLMKey:    key,
		Content:   row.Content,
		Model:     row.Model,
		CreatedAt: time.Unix(row.CreatedAt, 0),
	}, nil
}

// PutLLMResult writes r; a concurrent write for the same key wins last.
func (s *SQLite) PutLLMResult(ctx context.Context, r domain.LLMResult) error {
	if r.ProblemID == "" || r.Kind == "" {
		return errors.New("llm result needs problem id and kind")
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_results (site, problem_id, kind, variant, content, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site, problem_id, kind, variant) DO UPDATE SET
			content    = excluded.content,
			model      = excluded.model,
			created_at = excluded.created_at`,
		string(r.Site), r.ProblemID, string(r.Kind), r.Variant, r.Content, r.Model, created.Unix())
	if err == nil {
		s.notePut()
	}
	return err
}

// PruneLLMResults deletes rows created before cutoff.
func (s *SQLite) PruneLLMResults(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM llm_results WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
