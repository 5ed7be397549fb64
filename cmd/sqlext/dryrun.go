package main

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/sqlext/database"
	"github.com/tomyedwab/sqlext/database/dialect"
	proxydriver "github.com/tomyedwab/sqlext/sqlproxy/driver"
	"github.com/tomyedwab/sqlext/sqlproxy/host"
	"github.com/tomyedwab/sqlext/sqlproxy/types"
)

// dryRunHost answers the session statements and the requested statement with
// empty results, so a dry run shows what would be sent without a server.
type dryRunHost struct {
	*host.SQLHost
	backing *sql.DB
	dsn     string
	dialect dialect.Dialect
}

func startDryRun(cfg database.Config, query string) (*dryRunHost, error) {
	name := cfg.Dialect
	if name == "" {
		name = cfg.Driver
	}
	d, err := dialect.Parse(name)
	if err != nil {
		return nil, err
	}

	backing, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open dry run backing database: %w", err)
	}
	h := host.NewSQLHost(backing)
	opts := cfg.SessionOptions()
	for _, stmt := range d.SessionStatements(opts.UseUTF8, opts.Strict, opts.TimeZone) {
		h.Script(stmt, types.QueryResponse{})
	}
	h.Script(database.DriverSQL(d, proxydriver.DriverName, query), types.QueryResponse{Columns: []string{}, Rows: [][]any{}})

	r := &dryRunHost{SQLHost: h, backing: backing, dsn: uuid.NewString(), dialect: d}
	proxydriver.Register(r.dsn, h.HandleRequest)
	return r, nil
}

// Config points cfg at the proxy. Credentials are dropped; the proxy has no
// use for them.
func (r *dryRunHost) Config(cfg database.Config) database.Config {
	cfg.Driver = proxydriver.DriverName
	cfg.DSN = r.dsn
	cfg.Dialect = string(r.dialect)
	cfg.User = ""
	cfg.Password = ""
	return cfg
}

func (r *dryRunHost) Close() error {
	proxydriver.Unregister(r.dsn)
	return r.backing.Close()
}
