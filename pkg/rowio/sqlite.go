package rowio

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// DefaultTable is the table SQLiteSink writes to when none is configured.
const DefaultTable = "results"

// SQLiteSink appends output rows to a SQLite table. The table is created
// from the sorted columns of the first row; rows are written in one
// transaction that Close commits.
type SQLiteSink struct {
	db      *sql.DB
	table   string
	tx      *sql.Tx
	stmt    *sql.Stmt
	columns []string
}

var _ Writer = (*SQLiteSink)(nil)

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path, table string) (*SQLiteSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteSink{db: db, table: table}, nil
}

// DB returns the underlying database handle.
func (s *SQLiteSink) DB() *sql.DB { return s.db }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLiteSink) init(ctx context.Context, row evaluator.Row) error {
	s.columns = SortedColumns(row)
	defs := make([]string, len(s.columns))
	marks := make([]string, len(s.columns))
	for i, col := range s.columns {
		defs[i] = quoteIdent(col) + " " + sqlType(row[col])
		marks[i] = "?"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(s.table), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	cols := make([]string, len(s.columns))
	for i, col := range s.columns {
		cols[i] = quoteIdent(col)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(s.table), strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	s.tx, s.stmt = tx, stmt
	return nil
}

func (s *SQLiteSink) Write(row evaluator.Row) error {
	ctx := context.Background()
	if s.tx == nil {
		if err := s.init(ctx, row); err != nil {
			return err
		}
	}
	args := make([]any, len(s.columns))
	for i, col := range s.columns {
		args[i] = sqlValue(row[col])
	}
	if _, err := s.stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	return nil
}

// Close commits the pending rows and closes the database.
func (s *SQLiteSink) Close() error {
	var err error
	if s.tx != nil {
		s.stmt.Close()
		if cerr := s.tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit: %w", cerr)
		}
		s.tx = nil
	}
	if cerr := s.db.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

func sqlType(v evaluator.Value) string {
	switch v.(type) {
	case evaluator.Number:
		return "REAL"
	case evaluator.Bool:
		return "INTEGER"
	case evaluator.Decimal:
		return "NUMERIC"
	}
	return "TEXT"
}

func sqlValue(v evaluator.Value) any {
	switch val := v.(type) {
	case nil, evaluator.Null:
		return nil
	case evaluator.Bool:
		return val.Value
	case evaluator.Number:
		return val.Value
	case evaluator.Decimal:
		return val.Value.String()
	case evaluator.String:
		return val.Value
	}
	return evaluator.ValueToJSONString(v)
}
