package records

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

var fixedNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		Path:   filepath.Join(t.TempDir(), "db", "records.sqlite"),
		Tables: map[string]string{"活动": "activity_log", "论文": "paper_log"},
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func columnTypes(t *testing.T, s *Store, table string) map[string]string {
	t.Helper()
	rows, err := s.db.Query(`SELECT name, type FROM pragma_table_info(?)`, table)
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		out[name] = typ
	}
	require.NoError(t, rows.Err())
	return out
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{Path: "  "})
	require.Error(t, err)
}

func TestStore_TableFor(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.Equal(t, "paper_log", s.TableFor("论文"))
	require.Equal(t, "activity_log", s.TableFor(" 活动 "))
	require.Equal(t, DefaultTable, s.TableFor("经验"))
}

func TestStore_SaveCreatesTableWithInferredTypes(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	table, err := s.Save(ctx, "论文", map[string]any{
		"paper_title": "Attention Is All You Need",
		"year":        float64(2017),
		"score":       4.5,
		"published":   "2017-06-12",
		"open_access": true,
		"authors":     []any{"Vaswani", "Shazeer"},
		"venue":       nil,
	})
	require.NoError(t, err)
	require.Equal(t, "paper_log", table)

	require.Equal(t, map[string]string{
		"id":                 "INTEGER",
		"created_at_unix_ms": "INTEGER",
		"authors":            "TEXT",
		"open_access":        "INTEGER",
		"paper_title":        "TEXT",
		"published":          "DATE",
		"score":              "REAL",
		"venue":              "TEXT",
		"year":               "INTEGER",
	}, columnTypes(t, s, "paper_log"))

	var (
		authors   string
		openFlag  int
		year      int
		createdAt int64
	)
	require.NoError(t, s.db.QueryRow(`SELECT authors, open_access, year, created_at_unix_ms FROM paper_log`).Scan(&authors, &openFlag, &year, &createdAt))
	require.JSONEq(t, `["Vaswani","Shazeer"]`, authors)
	require.Equal(t, 1, openFlag)
	require.Equal(t, 2017, year)
	require.Equal(t, fixedNow.UnixMilli(), createdAt)
}

func TestStore_SaveAddsMissingColumns(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "活动", map[string]any{"activity_name": "开放日"})
	require.NoError(t, err)
	_, err = s.Save(ctx, "活动", map[string]any{"activity_name": "讲座", "activity_location": "A101"})
	require.NoError(t, err)

	require.Contains(t, columnTypes(t, s, "activity_log"), "activity_location")

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM activity_log`).Scan(&n))
	require.Equal(t, 2, n)

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"activity_log"}, tables)
}

func TestStore_SaveAdoptsLegacyTable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.db.Exec(`CREATE TABLE "other_log" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "note" TEXT)`)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "经验", map[string]any{"note": "x"})
	require.NoError(t, err)
	require.Contains(t, columnTypes(t, s, "other_log"), createdAtColumn)
}

func TestStore_SaveRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	cases := map[string]map[string]any{
		"empty":    {},
		"reserved": {"id": 3},
		"blank":    {" ": "x"},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Save(context.Background(), "论文", data)
			require.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestStore_QuotesIdentifiers(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.Save(context.Background(), "论文", map[string]any{`ti"tle`: "x", "drop table": "y"})
	require.NoError(t, err)
	cols := columnTypes(t, s, "paper_log")
	require.Contains(t, cols, `ti"tle`)
	require.Contains(t, cols, "drop table")
}

func TestSaveTool(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tool := s.SaveTool()
	ctx := context.Background()

	res, err := tool.Invoke(ctx, json.RawMessage(`{"data":{"activity_name":"开放日","activity_date":"2026-10-20"},"image_type":"活动"}`))
	require.NoError(t, err)
	require.Equal(t, aitools.OK("Data successfully saved to table 'activity_log'."), res)

	_, err = tool.Invoke(ctx, json.RawMessage(`{"data":{},"image_type":"活动"}`))
	require.ErrorIs(t, err, aitools.ErrInvalidArguments)

	_, err = tool.Invoke(ctx, json.RawMessage(`{"image_type":"活动"}`))
	require.ErrorIs(t, err, aitools.ErrInvalidArguments)

	require.NoError(t, s.Close())
	res, err = tool.Invoke(ctx, json.RawMessage(`{"data":{"a":"b"},"image_type":"活动"}`))
	require.NoError(t, err)
	require.Equal(t, aitools.OutcomeHardFailure, res.Outcome)
	require.Contains(t, res.Content, "Database operation failed:")
}
