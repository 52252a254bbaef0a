// Package linked translates local access-path operations into SQL
// statements against a remote source reached through database/sql.
// Dialects register themselves the way drivers do; importing a dialect
// package is enough to make it available.
package linked

import (
	"fmt"
	"strings"

	"pagedb/internal/core"
)

// Dialect captures what differs between remote SQL sources: identifier
// quoting, parameter placeholders, and comparison quirks.
type Dialect interface {
	Name() string
	// Quote renders an identifier with the remote's quote character,
	// escaping embedded quotes.
	Quote(ident string) string
	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder(i int) string
	// CompareExpr renders the left side of a comparison for a column;
	// legacy remotes need a CAST around fixed-char columns.
	CompareExpr(quoted string, col *core.Column) string
}

var dialects = map[string]func() Dialect{}

// Register makes a dialect available under its name. It is called from
// the dialect's init.
func Register(name string, factory func() Dialect) {
	dialects[strings.ToLower(name)] = factory
}

// Get returns the named dialect, defaulting to the ANSI one.
func Get(name string) Dialect {
	if f, ok := dialects[strings.ToLower(name)]; ok {
		return f()
	}
	return ansiDialect{}
}

type ansiDialect struct{}

func (ansiDialect) Name() string { return "ansi" }

func (ansiDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (ansiDialect) Placeholder(int) string { return "?" }

func (ansiDialect) CompareExpr(quoted string, _ *core.Column) string { return quoted }

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) CompareExpr(quoted string, _ *core.Column) string { return quoted }

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (postgresDialect) CompareExpr(quoted string, _ *core.Column) string { return quoted }

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) CompareExpr(quoted string, _ *core.Column) string { return quoted }

// legacyDialect is the named legacy remote whose fixed-char columns
// compare with trailing blanks unless cast.
type legacyDialect struct{}

func (legacyDialect) Name() string { return "legacy" }

func (legacyDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (legacyDialect) Placeholder(int) string { return "?" }

func (legacyDialect) CompareExpr(quoted string, col *core.Column) string {
	if col != nil && col.Type == core.TypeString {
		return "CAST(" + quoted + " AS VARCHAR(2000))"
	}
	return quoted
}

func init() {
	Register("ansi", func() Dialect { return ansiDialect{} })
	Register("mysql", func() Dialect { return mysqlDialect{} })
	Register("postgres", func() Dialect { return postgresDialect{} })
	Register("sqlite", func() Dialect { return sqliteDialect{} })
	Register("legacy", func() Dialect { return legacyDialect{} })
}
