package search

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

const batchSize = 100

// SQLiteIndexer writes help documents into an FTS5 index. Writes are
// batched into transactions; Flush commits the open batch.
type SQLiteIndexer struct {
	mu         sync.Mutex
	db         *sql.DB
	upsertStmt *sql.Stmt
	tx         *sql.Tx
	txStmt     *sql.Stmt
	count      int
}

func NewSQLiteIndexer(path string) (*SQLiteIndexer, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	stmt, err := db.Prepare(`INSERT INTO help_docs (env_id, module, content) VALUES (?, ?, ?)
		ON CONFLICT (env_id, module) DO UPDATE SET
			content = excluded.content,
			indexed_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}

	return &SQLiteIndexer{
		db:         db,
		upsertStmt: stmt,
	}, nil
}

func (s *SQLiteIndexer) IndexHelp(ctx context.Context, doc HelpDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		s.tx = tx
		s.txStmt = tx.Stmt(s.upsertStmt)
	}

	_, err := s.txStmt.ExecContext(ctx, doc.EnvID, doc.Module, doc.Content)
	if err != nil {
		return fmt.Errorf("index help %s/%s: %w", doc.EnvID, doc.Module, err)
	}

	s.count++
	if s.count >= batchSize {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEnvironment drops every document of an environment. The open
// batch is committed first.
func (s *SQLiteIndexer) RemoveEnvironment(ctx context.Context, envID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flush(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM help_docs WHERE env_id = ?`, envID); err != nil {
		return fmt.Errorf("remove environment %s: %w", envID, err)
	}
	return nil
}

func (s *SQLiteIndexer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *SQLiteIndexer) flush() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.txStmt = nil
	s.count = 0
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *SQLiteIndexer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flush(); err != nil {
		return err
	}
	_ = s.upsertStmt.Close()
	return s.db.Close()
}
