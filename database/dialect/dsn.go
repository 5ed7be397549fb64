package dialect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// WithCredentials folds user and password into dsn using the dialect's own
// DSN syntax. Empty credentials leave the DSN untouched, and dialects without
// a credential syntax (SQLite) ignore them.
func (d Dialect) WithCredentials(dsn, user, password string) (string, error) {
	if user == "" && password == "" {
		return dsn, nil
	}
	switch d {
	case MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		if user != "" {
			cfg.User = user
		}
		if password != "" {
			cfg.Passwd = password
		}
		return cfg.FormatDSN(), nil
	case PostgreSQL:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			converted, err := pq.ParseURL(dsn)
			if err != nil {
				return "", fmt.Errorf("parse postgres url: %w", err)
			}
			dsn = converted
		}
		parts := []string{}
		if strings.TrimSpace(dsn) != "" {
			parts = append(parts, dsn)
		}
		if user != "" {
			parts = append(parts, "user="+pgValue(user))
		}
		if password != "" {
			parts = append(parts, "password="+pgValue(password))
		}
		return strings.Join(parts, " "), nil
	case SQLServer:
		if strings.HasPrefix(dsn, "sqlserver://") {
			u, err := url.Parse(dsn)
			if err != nil {
				return "", fmt.Errorf("parse sqlserver url: %w", err)
			}
			if user == "" {
				user = u.User.Username()
			}
			if password == "" {
				password, _ = u.User.Password()
			}
			u.User = url.UserPassword(user, password)
			return u.String(), nil
		}
		parts := []string{}
		if dsn = strings.TrimRight(strings.TrimSpace(dsn), ";"); dsn != "" {
			parts = append(parts, dsn)
		}
		if user != "" {
			parts = append(parts, "user id="+adoValue(user))
		}
		if password != "" {
			parts = append(parts, "password="+adoValue(password))
		}
		return strings.Join(parts, ";"), nil
	default:
		return dsn, nil
	}
}

func pgValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// adoValue quotes v for an ADO connection string when it contains a
// separator or a quote.
func adoValue(v string) string {
	if !strings.ContainsAny(v, ";'\"{}= ") {
		return v
	}
	return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
}
