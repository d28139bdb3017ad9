package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const DefaultWindowDays = 10

// DefaultDateLayouts covers the date shapes the extractor commonly emits.
var DefaultDateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"2006.01.02",
	"02/01/06",
	"02/01/2006",
	"2006年1月2日",
	"2006年01月02日",
}

type ReminderOptions struct {
	Table       string
	NameColumn  string
	DateColumn  string
	WindowDays  int
	DateLayouts []string
}

func (o ReminderOptions) withDefaults() ReminderOptions {
	if strings.TrimSpace(o.Table) == "" {
		o.Table = "activity_log"
	}
	if strings.TrimSpace(o.NameColumn) == "" {
		o.NameColumn = "activity_name"
	}
	if strings.TrimSpace(o.DateColumn) == "" {
		o.DateColumn = "activity_date"
	}
	if o.WindowDays <= 0 {
		o.WindowDays = DefaultWindowDays
	}
	if len(o.DateLayouts) == 0 {
		o.DateLayouts = DefaultDateLayouts
	}
	return o
}

type Activity struct {
	Name string
	Date time.Time
	// RawDate is the stored value the date was parsed from.
	RawDate string
}

// Upcoming returns stored activities dated between today and today+WindowDays, inclusive,
// earliest first. Rows whose date matches no layout are skipped. A missing table yields
// ErrNoSuchTable.
func (s *Store) Upcoming(ctx context.Context, opts ReminderOptions) ([]Activity, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opts = opts.withDefaults()

	q := fmt.Sprintf("SELECT %s, %s FROM %s", quoteIdent(opts.NameColumn), quoteIdent(opts.DateColumn), quoteIdent(opts.Table))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		if isNoSuchTable(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, opts.Table)
		}
		return nil, err
	}
	defer rows.Close()

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	last := today.AddDate(0, 0, opts.WindowDays)

	var out []Activity
	for rows.Next() {
		var name, raw sql.NullString
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		d, ok := parseDate(strings.TrimSpace(raw.String), opts.DateLayouts, now.Location())
		if !ok {
			s.log.Debug("skipping activity with unparsable date", "name", name.String, "date", raw.String)
			continue
		}
		if d.Before(today) || d.After(last) {
			continue
		}
		out = append(out, Activity{Name: name.String, Date: d, RawDate: raw.String})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b Activity) int { return a.Date.Compare(b.Date) })
	return out, nil
}

func parseDate(s string, layouts []string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Reminder renders the upcoming-activity reminder text. A missing table is reported in the
// text rather than as an error.
func (s *Store) Reminder(ctx context.Context, opts ReminderOptions) (string, error) {
	opts = opts.withDefaults()
	acts, err := s.Upcoming(ctx, opts)
	if errors.Is(err, ErrNoSuchTable) {
		return fmt.Sprintf("'%s' 表不存在，无法查询即将开始的活动。", opts.Table), nil
	}
	if err != nil {
		return "", fmt.Errorf("数据库查询失败: %w", err)
	}
	if len(acts) == 0 {
		return fmt.Sprintf("未来%d天内没有即将开始的活动。", opts.WindowDays), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "提醒：以下活动即将在%d天内开始：", opts.WindowDays)
	for _, a := range acts {
		fmt.Fprintf(&b, "\n- %s (日期: %s)", a.Name, a.RawDate)
	}
	return b.String(), nil
}
