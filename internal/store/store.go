package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/lox/sanitrack/internal/grading"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name onto a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported storage driver %q", driver)
}

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	grades  *grading.Table
}

// New wraps an open database. The grade table is used to derive every stored
// grade from its score.
func New(db *sql.DB, dialect Dialect, grades *grading.Table) *Store {
	if grades == nil {
		grades = grading.Default()
	}
	return &Store{db: db, dialect: dialect, grades: grades}
}

// Open connects to the configured database and returns a Store over it.
func Open(driver, dsn string, grades *grading.Table) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, errors.New("storage dsn required")
	}

	if dialect == DialectSQLite {
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	return New(db, dialect, grades), nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Grades() *grading.Table {
	return s.grades
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) exec(q queryer, query string, args ...any) (sql.Result, error) {
	return q.Exec(s.rebind(query), args...)
}

func (s *Store) query(q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.Query(s.rebind(query), args...)
}

func (s *Store) queryRow(q queryer, query string, args ...any) *sql.Row {
	return q.QueryRow(s.rebind(query), args...)
}
