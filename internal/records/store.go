// Package records persists extracted image records into SQLite tables chosen per category.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	DefaultTable = "other_log"

	idColumn        = "id"
	createdAtColumn = "created_at_unix_ms"
)

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrNoSuchTable   = errors.New("no such table")
)

type Options struct {
	Path string
	// Tables maps a category label to its table; labels without an entry use DefaultTable.
	Tables       map[string]string
	DefaultTable string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Store writes records into per-category tables, creating tables and columns on demand.
type Store struct {
	db           *sql.DB
	tables       map[string]string
	defaultTable string
	log          *slog.Logger
	now          func() time.Time
}

func Open(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("missing database path")
	}
	p := filepath.Clean(strings.TrimSpace(opts.Path))
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Single writer; concurrent runs queue on the one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:           db,
		tables:       maps.Clone(opts.Tables),
		defaultTable: strings.TrimSpace(opts.DefaultTable),
		log:          opts.Logger,
		now:          opts.Now,
	}
	if s.defaultTable == "" {
		s.defaultTable = DefaultTable
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func initDB(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TableFor resolves the table a category's records go to.
func (s *Store) TableFor(category string) string {
	if t := strings.TrimSpace(s.tables[strings.TrimSpace(category)]); t != "" {
		return t
	}
	return s.defaultTable
}

// Save inserts data as one row of the category's table and returns the table name.
func (s *Store) Save(ctx context.Context, category string, data map[string]any) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	table := s.TableFor(category)
	if len(data) == 0 {
		return table, fmt.Errorf("%w: empty data", ErrInvalidRecord)
	}
	keys := slices.Sorted(maps.Keys(data))
	cols := make([]column, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimSpace(k)
		if name == "" {
			return table, fmt.Errorf("%w: empty column name", ErrInvalidRecord)
		}
		if lower := strings.ToLower(name); lower == idColumn || lower == createdAtColumn {
			return table, fmt.Errorf("%w: %q is a reserved column", ErrInvalidRecord, name)
		}
		value, err := storageValue(data[k])
		if err != nil {
			return table, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, name, err)
		}
		cols = append(cols, column{Name: name, Type: inferType(data[k]), Value: value})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return table, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := ensureTable(ctx, tx, table, cols); err != nil {
		return table, err
	}

	names := []string{quoteIdent(createdAtColumn)}
	args := []any{s.now().UnixMilli()}
	for _, c := range cols {
		names = append(names, quoteIdent(c.Name))
		args = append(args, c.Value)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return table, fmt.Errorf("insert into %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return table, err
	}
	s.log.Debug("record saved", "table", table, "category", category, "columns", len(cols))
	return table, nil
}

type column struct {
	Name  string
	Type  string
	Value any
}

func ensureTable(ctx context.Context, tx *sql.Tx, table string, cols []column) error {
	defs := []string{
		quoteIdent(idColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT",
		quoteIdent(createdAtColumn) + " INTEGER",
	}
	for _, c := range cols {
		defs = append(defs, quoteIdent(c.Name)+" "+c.Type)
	}
	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quoteIdent(table), strings.Join(defs, ",\n  "))
	if _, err := tx.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	existing, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	want := append([]column{{Name: createdAtColumn, Type: "INTEGER"}}, cols...)
	for _, c := range want {
		if _, ok := existing[strings.ToLower(c.Name)]; ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(c.Name), c.Type)
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, c.Name, err)
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// tableColumns returns the lower-cased column names of table.
func tableColumns(ctx context.Context, q queryer, table string) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var (
			cid        int
			name       string
			typ        string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = struct{}{}
	}
	return out, rows.Err()
}

// Tables lists the user tables in the database.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT name
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// inferType picks the declared column type for a value.
func inferType(v any) string {
	switch x := v.(type) {
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "INTEGER"
	case float32:
		return inferType(float64(x))
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return "INTEGER"
		}
		return "REAL"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "INTEGER"
		}
		return "REAL"
	case string:
		if _, err := time.Parse(time.DateOnly, x); err == nil {
			return "DATE"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

// storageValue converts v into a value the sqlite driver accepts. Lists and objects are stored as JSON text.
func storageValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string, int, int8, int16, int32, int64, uint8, uint16, uint32, float32:
		return x, nil
	case uint:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows", x)
		}
		return int64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such table")
}
