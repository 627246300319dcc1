package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
)

// dialect captures the few differences between Postgres and SQLite.
// Queries are written with Postgres-style $n placeholders, each used once
// and in ascending order, so SQLite can rebind them to plain "?".
type dialect struct {
	name string
	// stringArray wraps a []string argument; nil must encode as NULL.
	stringArray func([]string) any
	// scanStringArray wraps a *[]string scan destination.
	scanStringArray func(*[]string) any
}

var postgresDialect = dialect{
	name: "postgres",
	stringArray: func(v []string) any {
		if v == nil {
			return nil
		}
		return pq.Array(v)
	},
	scanStringArray: func(dst *[]string) any { return pq.Array(dst) },
}

var sqliteDialect = dialect{
	name:            "sqlite",
	stringArray:     func(v []string) any { return jsonStrings(v) },
	scanStringArray: func(dst *[]string) any { return (*jsonStringsScanner)(dst) },
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

func (d dialect) rebind(q string) string {
	if d.name == "postgres" {
		return q
	}
	return placeholderRe.ReplaceAllString(q, "?")
}

// jsonStrings stores a string slice as a JSON array (SQLite has no array type).
type jsonStrings []string

func (j jsonStrings) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type jsonStringsScanner []string

func (j *jsonStringsScanner) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan string array: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan string array: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*j = out
	return nil
}

// timeScanner accepts the timestamp representations returned by pgx and modernc sqlite.
type timeScanner struct{ t *time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (ts timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.t = time.Time{}
		return nil
	case time.Time:
		*ts.t = v
		return nil
	case int64:
		*ts.t = time.Unix(0, v)
		return nil
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	}
	return fmt.Errorf("scan time: unsupported type %T", src)
}

func (ts timeScanner) parse(s string) error {
	s = strings.TrimSpace(s)
	// Go's time.String() appends a monotonic clock reading.
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts.t = t
			return nil
		}
	}
	return fmt.Errorf("scan time: cannot parse %q", s)
}

func scanTime(t *time.Time) sql.Scanner { return timeScanner{t: t} }

// dbTime normalises timestamps written to the database.
func dbTime(t time.Time) time.Time { return t.UTC().Round(time.Microsecond) }
