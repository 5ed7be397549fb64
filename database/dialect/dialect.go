// Package dialect knows the handful of things that differ between the SQL
// backends a database.Conn can sit on: how to recognise them, how to escape a
// literal, which statements normalize a fresh session and which DSN syntax
// carries credentials.
package dialect

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
)

// Dialect names an SQL flavor.
type Dialect string

const (
	Unknown    Dialect = ""
	MySQL      Dialect = "mysql"
	PostgreSQL Dialect = "postgres"
	SQLite     Dialect = "sqlite"
	SQLServer  Dialect = "sqlserver"
)

const (
	setNamesSql   = "SET NAMES utf8mb4"
	setSqlModeSql = "SET sql_mode='STRICT_TRANS_TABLES,NO_ZERO_DATE,NO_ZERO_IN_DATE'"
	foundRowsSql  = "SELECT FOUND_ROWS()"
)

func (d Dialect) String() string {
	if d == Unknown {
		return "unknown"
	}
	return string(d)
}

// Parse maps a dialect or driver name onto a Dialect. The empty string is
// Unknown and not an error.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return Unknown, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx", "pq":
		return PostgreSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	default:
		return Unknown, fmt.Errorf("unknown dialect %q", name)
	}
}

// Detect identifies the dialect of an open handle, first by the concrete
// driver type and then by the name the driver was registered under.
func Detect(driverName string, drv driver.Driver) Dialect {
	switch drv.(type) {
	case *mysql.MySQLDriver:
		return MySQL
	case *pq.Driver:
		return PostgreSQL
	case *sqlite3.SQLiteDriver, *sqlite.Driver:
		return SQLite
	case *mssql.Driver:
		return SQLServer
	}
	d, _ := Parse(driverName)
	return d
}

// SessionStatements returns the statements that normalize a new session, in
// the order they must be issued. Only the MySQL family is tuned; every other
// dialect gets nil.
func (d Dialect) SessionStatements(useUTF8, strict bool, timeZone string) []string {
	if d != MySQL {
		return nil
	}
	var stmts []string
	if useUTF8 {
		stmts = append(stmts, setNamesSql)
	}
	if strict {
		stmts = append(stmts, setSqlModeSql)
	}
	if timeZone != "" {
		stmts = append(stmts, "SET time_zone = "+d.QuoteString(timeZone))
	}
	return stmts
}

// FoundRowsQuery returns the query reporting the row count a preceding
// SQL_CALC_FOUND_ROWS select would have produced without LIMIT.
func (d Dialect) FoundRowsQuery() (string, bool) {
	if d == MySQL {
		return foundRowsSql, true
	}
	return "", false
}
