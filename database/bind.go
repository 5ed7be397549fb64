package database

import (
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/sqlext/database/dialect"
)

// bindStyle picks the placeholder syntax a driver accepts, as one of sqlx's
// bind types. SQLite drivers take named arguments directly, and so do drivers
// sqlx reports as NAMED; both get sqlx.UNKNOWN and their statements are sent
// as written.
func bindStyle(driverName string, d dialect.Dialect) int {
	switch d {
	case dialect.SQLite:
		return sqlx.UNKNOWN
	case dialect.MySQL:
		return sqlx.QUESTION
	case dialect.PostgreSQL:
		return sqlx.DOLLAR
	case dialect.SQLServer:
		return sqlx.AT
	}
	if bt := sqlx.BindType(driverName); bt != sqlx.NAMED {
		return bt
	}
	return sqlx.UNKNOWN
}

// compileSQL rewrites every placeholder of query into the driver's bindvar
// and returns the placeholders in the order their arguments must be passed.
// A placeholder used twice appears twice. ok is false when the driver takes
// the statement as written.
func compileSQL(driverName string, d dialect.Dialect, query string) (string, []paramKey, bool) {
	style := bindStyle(driverName, d)
	if style == sqlx.UNKNOWN {
		return query, nil, false
	}
	keys := []paramKey{}
	compiled := substitute(query, d, func(key paramKey) (string, bool) {
		keys = append(keys, key)
		switch style {
		case sqlx.DOLLAR:
			return "$" + strconv.Itoa(len(keys)), true
		case sqlx.AT:
			return "@p" + strconv.Itoa(len(keys)), true
		default:
			return "?", true
		}
	})
	return compiled, keys, true
}

// DriverSQL returns query as a Conn for dialect d over the driver registered
// as driverName sends it: named placeholders become positional bindvars for
// drivers that cannot take sql.NamedArg.
func DriverSQL(d dialect.Dialect, driverName, query string) string {
	compiled, _, _ := compileSQL(driverName, d, query)
	return compiled
}
