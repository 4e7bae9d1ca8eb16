package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Result struct {
	EnvID   string `json:"envId"`
	Module  string `json:"module"`
	Snippet string `json:"snippet"`
}

type SearchResponse struct {
	Total   uint64   `json:"total"`
	Results []Result `json:"results"`
}

type SQLiteSearcher struct {
	db *sql.DB
}

func NewSQLiteSearcher(path string) (*SQLiteSearcher, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteSearcher{db: db}, nil
}

func (s *SQLiteSearcher) Close() error {
	return s.db.Close()
}

// Search ranks the help documents matching queryString. An empty envID
// searches every environment.
func (s *SQLiteSearcher) Search(ctx context.Context, queryString string, envID string, limit int, offset int) (SearchResponse, error) {
	queryString = sanitizeQuery(queryString)
	if queryString == "" {
		return SearchResponse{Results: []Result{}}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	from := ` FROM help_fts f
		 CROSS JOIN help_docs d ON d.rowid = f.rowid
		 WHERE help_fts MATCH ?`
	args := []any{queryString}
	if envID != "" {
		from += ` AND d.env_id = ?`
		args = append(args, envID)
	}

	// snippet() cannot share a SELECT with a window function, so the total
	// is counted separately.
	var resp SearchResponse
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from, args...).Scan(&resp.Total); err != nil {
		return SearchResponse{}, fmt.Errorf("count query: %w", err)
	}
	resp.Results = make([]Result, 0)
	if resp.Total == 0 {
		return resp, nil
	}

	query := `SELECT d.env_id, d.module, snippet(help_fts, 1, '[[', ']]', '...', 16)` + from +
		` ORDER BY f.rank LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.EnvID, &r.Module, &r.Snippet); err != nil {
			return SearchResponse{}, fmt.Errorf("scan result: %w", err)
		}
		resp.Results = append(resp.Results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchResponse{}, fmt.Errorf("iterate results: %w", err)
	}

	return resp, nil
}

// sanitizeQuery reduces free text to quoted prefix terms so FTS5 operators
// and syntax characters in user input are never interpreted.
func sanitizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == ' ', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	var terms []string
	for _, t := range strings.Fields(b.String()) {
		switch strings.ToUpper(t) {
		case "AND", "OR", "NOT", "NEAR":
			continue
		}
		terms = append(terms, `"`+t+`"*`)
	}
	return strings.Join(terms, " ")
}
