package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/airtable-client/pkg/table"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// SQLSink writes rows into a relational table with one TEXT column per
// field and the record id as primary key. Missing values are NULL.
type SQLSink struct {
	driver    string
	db        *sql.DB
	tableName string
	mode      Mode
}

// NewSQLSink opens a connection pool. tableName may be empty, in which case
// the sanitized Airtable table name is used.
func NewSQLSink(driver, dsn, tableName string, mode Mode) (*SQLSink, error) {
	switch driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("%w: sql driver %q", ErrUnsupportedTarget, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &SQLSink{driver: driver, db: db, tableName: tableName, mode: mode}, nil
}

// SQLiteDSN builds a modernc sqlite DSN for a file path with WAL journaling
// and a busy timeout.
func SQLiteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *SQLSink) Name() string { return s.driver }

// DB exposes the pool (for testing).
func (s *SQLSink) DB() *sql.DB { return s.db }

// Write creates or extends the target table and inserts every row in one
// transaction.
func (s *SQLSink) Write(ctx context.Context, tbl *table.Table, meta Meta) (int, error) {
	name := s.tableName
	if name == "" {
		name = SanitizeTableName(meta.Table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if s.mode == ModeReplace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.quote(name)); err != nil {
			return 0, fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.createTableSQL(name, tbl.FieldNames)); err != nil {
		return 0, fmt.Errorf("create table %s: %w", name, err)
	}
	if s.mode == ModeAppend {
		if err := s.addMissingColumns(ctx, tx, name, tbl.FieldNames); err != nil {
			return 0, err
		}
	}

	insert, err := tx.PrepareContext(ctx, s.insertSQL(name, tbl.FieldNames))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	var remove *sql.Stmt
	if s.mode == ModeAppend {
		remove, err = tx.PrepareContext(ctx,
			"DELETE FROM "+s.quote(name)+" WHERE "+s.quote(table.IDColumn)+" = "+s.placeholder(1))
		if err != nil {
			return 0, fmt.Errorf("prepare delete: %w", err)
		}
		defer remove.Close()
	}

	args := make([]any, len(tbl.FieldNames))
	for _, row := range tbl.Rows {
		for i, v := range tbl.Values(row) {
			if v == nil {
				args[i] = nil
			} else {
				args[i] = FormatCell(v)
			}
		}
		if remove != nil {
			if _, err := remove.ExecContext(ctx, args[0]); err != nil {
				return 0, fmt.Errorf("delete existing row: %w", err)
			}
		}
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tbl.Len(), nil
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}

func (s *SQLSink) createTableSQL(name string, fields []string) string {
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == table.IDColumn {
			cols = append(cols, s.quote(f)+" VARCHAR(255) NOT NULL PRIMARY KEY")
			continue
		}
		cols = append(cols, s.quote(f)+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.quote(name), strings.Join(cols, ", "))
}

func (s *SQLSink) insertSQL(name string, fields []string) string {
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = s.quote(f)
		marks[i] = s.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.quote(name), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// addMissingColumns adds a TEXT column for every field the existing table
// lacks.
func (s *SQLSink) addMissingColumns(ctx context.Context, tx *sql.Tx, name string, fields []string) error {
	rows, err := tx.QueryContext(ctx, "SELECT * FROM "+s.quote(name)+" WHERE 1=0")
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", name, err)
	}
	existing, err := rows.Columns()
	rows.Close()
	if err != nil {
		return fmt.Errorf("read columns of %s: %w", name, err)
	}

	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}
	for _, f := range fields {
		if have[f] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", s.quote(name), s.quote(f))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", f, err)
		}
	}
	return nil
}

func (s *SQLSink) quote(ident string) string {
	if s.driver == DriverMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (s *SQLSink) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SanitizeTableName turns an Airtable table name into a lower-case
// identifier made of letters, digits and underscores.
func SanitizeTableName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "airtable"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	return out
}
