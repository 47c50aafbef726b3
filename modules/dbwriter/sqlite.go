package dbwriter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Sink stores flushed rows. Each row holds one value per configured column,
// in column order.
type Sink interface {
	Insert(ctx context.Context, rows [][]any) error
	Close() error
}

// SQLiteSink writes rows into a SQLite table created from the column list.
type SQLiteSink struct {
	db     *sql.DB
	table  string
	insert string
}

// OpenSQLiteSink opens cfg.DBName and creates cfg.Table if it is missing.
func OpenSQLiteSink(ctx context.Context, cfg Config) (*SQLiteSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBName, err)
	}
	// A single connection keeps ":memory:" databases alive across statements.
	db.SetMaxOpenConns(1)

	quoted := make([]string, len(cfg.Columns))
	placeholders := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		quoted[i] = `"` + col + `"`
		placeholders[i] = "?"
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (%s)`, cfg.Table, strings.Join(quoted, ", "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table %s: %w", cfg.Table, err)
	}

	return &SQLiteSink{
		db:     db,
		table:  cfg.Table,
		insert: fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`, cfg.Table, strings.Join(quoted, ", "), strings.Join(placeholders, ", ")),
	}, nil
}

// Insert writes rows in a single transaction.
func (s *SQLiteSink) Insert(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert into %s: %w", s.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of rows in the table.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
