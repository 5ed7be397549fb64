package dialect

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Dialect
		wantErr bool
	}{
		{name: "empty", input: "", want: Unknown},
		{name: "mysql", input: "mysql", want: MySQL},
		{name: "mariadb", input: "MariaDB", want: MySQL},
		{name: "postgres", input: "postgres", want: PostgreSQL},
		{name: "pgx", input: "pgx", want: PostgreSQL},
		{name: "sqlite3", input: " sqlite3 ", want: SQLite},
		{name: "modernc", input: "sqlite", want: SQLite},
		{name: "sqlserver", input: "sqlserver", want: SQLServer},
		{name: "mssql", input: "mssql", want: SQLServer},
		{name: "unknown", input: "oracle", want: Unknown, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDetectByDriverType(t *testing.T) {
	for name, want := range map[string]Dialect{
		"mysql":     MySQL,
		"postgres":  PostgreSQL,
		"sqlite3":   SQLite,
		"sqlite":    SQLite,
		"sqlserver": SQLServer,
	} {
		db, err := sql.Open(name, "")
		if err != nil {
			t.Fatalf("sql.Open(%q): %v", name, err)
		}
		if got := Detect("renamed", db.Driver()); got != want {
			t.Errorf("Detect(%s driver) = %q, want %q", name, got, want)
		}
		db.Close()
	}
}

func TestDetectFallsBackToName(t *testing.T) {
	if got := Detect("mariadb", nil); got != MySQL {
		t.Errorf("Detect by name = %q, want mysql", got)
	}
	if got := Detect("sqlproxy", nil); got != Unknown {
		t.Errorf("Detect unknown name = %q, want unknown", got)
	}
}

func TestQuote(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	tests := []struct {
		name    string
		dialect Dialect
		value   any
		want    string
	}{
		{name: "nil", dialect: MySQL, value: nil, want: "NULL"},
		{name: "mysql apostrophe", dialect: MySQL, value: "O'Brien", want: `'O\'Brien'`},
		{name: "mysql control chars", dialect: MySQL, value: "a\nb\\c\x00\"", want: `'a\nb\\c\0\"'`},
		{name: "sqlite apostrophe", dialect: SQLite, value: "O'Brien", want: "'O''Brien'"},
		{name: "sqlserver apostrophe", dialect: SQLServer, value: "O'Brien", want: "'O''Brien'"},
		{name: "unknown apostrophe", dialect: Unknown, value: "it's", want: "'it''s'"},
		{name: "postgres apostrophe", dialect: PostgreSQL, value: "O'Brien", want: "'O''Brien'"},
		{name: "postgres backslash", dialect: PostgreSQL, value: `a\b`, want: ` E'a\\b'`},
		{name: "int", dialect: SQLite, value: int64(42), want: "'42'"},
		{name: "float", dialect: SQLite, value: 1.5, want: "'1.5'"},
		{name: "bool mysql", dialect: MySQL, value: true, want: "'1'"},
		{name: "bool false sqlite", dialect: SQLite, value: false, want: "'0'"},
		{name: "bool postgres", dialect: PostgreSQL, value: true, want: "'true'"},
		{name: "bytes", dialect: SQLite, value: []byte("raw"), want: "'raw'"},
		{name: "time", dialect: MySQL, value: ts, want: "'2024-03-09 14:05:07'"},
		{name: "valuer null", dialect: MySQL, value: sql.NullString{}, want: "NULL"},
		{name: "valuer string", dialect: MySQL, value: sql.NullString{String: "x", Valid: true}, want: "'x'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Quote(tt.value); got != tt.want {
				t.Errorf("Quote(%v) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}

func TestSessionStatements(t *testing.T) {
	got := MySQL.SessionStatements(true, true, "+00:00")
	want := []string{
		"SET NAMES utf8mb4",
		"SET sql_mode='STRICT_TRANS_TABLES,NO_ZERO_DATE,NO_ZERO_IN_DATE'",
		"SET time_zone = '+00:00'",
	}
	if strings.Join(got, ";") != strings.Join(want, ";") {
		t.Errorf("SessionStatements = %v, want %v", got, want)
	}

	if got := MySQL.SessionStatements(false, true, ""); len(got) != 1 || !strings.HasPrefix(got[0], "SET sql_mode") {
		t.Errorf("strict only = %v", got)
	}
	if got := MySQL.SessionStatements(false, false, ""); len(got) != 0 {
		t.Errorf("all disabled = %v, want none", got)
	}
	for _, d := range []Dialect{SQLite, PostgreSQL, SQLServer, Unknown} {
		if got := d.SessionStatements(true, true, "UTC"); got != nil {
			t.Errorf("%s SessionStatements = %v, want nil", d, got)
		}
	}
}

func TestFoundRowsQuery(t *testing.T) {
	if q, ok := MySQL.FoundRowsQuery(); !ok || q != "SELECT FOUND_ROWS()" {
		t.Errorf("mysql FoundRowsQuery = %q, %v", q, ok)
	}
	if _, ok := SQLite.FoundRowsQuery(); ok {
		t.Error("sqlite should not support FOUND_ROWS")
	}
}

func TestWithCredentials(t *testing.T) {
	t.Run("mysql", func(t *testing.T) {
		dsn, err := MySQL.WithCredentials("tcp(127.0.0.1:3306)/app", "bob", "s3cret")
		if err != nil {
			t.Fatalf("WithCredentials: %v", err)
		}
		if !strings.HasPrefix(dsn, "bob:s3cret@tcp(127.0.0.1:3306)/app") {
			t.Errorf("mysql dsn = %q", dsn)
		}
	})

	t.Run("mysql invalid", func(t *testing.T) {
		if _, err := MySQL.WithCredentials("not a dsn", "bob", ""); err == nil {
			t.Error("expected error for malformed mysql dsn")
		}
	})

	t.Run("postgres url", func(t *testing.T) {
		dsn, err := PostgreSQL.WithCredentials("postgres://localhost:5432/app", "bob", "it's")
		if err != nil {
			t.Fatalf("WithCredentials: %v", err)
		}
		if !strings.Contains(dsn, "dbname=app") || !strings.Contains(dsn, "user='bob'") || !strings.Contains(dsn, `password='it\'s'`) {
			t.Errorf("postgres dsn = %q", dsn)
		}
	})

	t.Run("sqlserver url", func(t *testing.T) {
		dsn, err := SQLServer.WithCredentials("sqlserver://db:1433?database=app", "bob", "p@ss")
		if err != nil {
			t.Fatalf("WithCredentials: %v", err)
		}
		if dsn != "sqlserver://bob:p%40ss@db:1433?database=app" {
			t.Errorf("sqlserver dsn = %q", dsn)
		}
	})

	t.Run("sqlserver ado", func(t *testing.T) {
		dsn, err := SQLServer.WithCredentials("server=db;database=app;", "bob", "a;b")
		if err != nil {
			t.Fatalf("WithCredentials: %v", err)
		}
		if dsn != "server=db;database=app;user id=bob;password={a;b}" {
			t.Errorf("sqlserver dsn = %q", dsn)
		}
	})

	t.Run("sqlite ignores credentials", func(t *testing.T) {
		dsn, err := SQLite.WithCredentials("file.db", "bob", "pw")
		if err != nil || dsn != "file.db" {
			t.Errorf("sqlite dsn = %q, %v", dsn, err)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		dsn, err := MySQL.WithCredentials("garbage", "", "")
		if err != nil || dsn != "garbage" {
			t.Errorf("dsn = %q, %v", dsn, err)
		}
	})
}
