package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/sqlext/database/dialect"
)

// Conn is one database session decorated with statistics, session
// normalization and statement reconstruction. A Conn is meant to be driven by
// a single goroutine at a time.
type Conn struct {
	db      *sqlx.DB
	conn    *sqlx.Conn
	ownsDB  bool
	driver  string
	dialect dialect.Dialect

	options  SessionOptions
	policy   ErrorPolicy
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	stats statistics
}

// Open connects using cfg. A persistent connection request is refused
// according to cfg.ErrorPolicy and never reaches the driver.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	cfg.applyDefaults()
	policy, err := parsePolicy(string(cfg.ErrorPolicy))
	if err != nil {
		return nil, err
	}
	if err := refusePersistent(cfg, policy); err != nil {
		return nil, err
	}

	d, err := dialect.Parse(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if d == dialect.Unknown {
		d, _ = dialect.Parse(cfg.Driver)
	}
	dsn, err := d.WithCredentials(cfg.DSN, cfg.User, cfg.Password)
	if err != nil {
		return nil, &ConnectError{Driver: cfg.Driver, Err: err}
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, &ConnectError{Driver: cfg.Driver, Err: err}
	}
	c, err := newConn(ctx, db, cfg, policy)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// OpenDB decorates a session taken from an existing handle. Close releases
// the session but leaves db open.
func OpenDB(ctx context.Context, db *sqlx.DB, cfg Config) (*Conn, error) {
	cfg.applyDefaults()
	policy, err := parsePolicy(string(cfg.ErrorPolicy))
	if err != nil {
		return nil, err
	}
	if err := refusePersistent(cfg, policy); err != nil {
		return nil, err
	}
	if cfg.Driver == "" {
		cfg.Driver = db.DriverName()
	}
	return newConn(ctx, db, cfg, policy)
}

func refusePersistent(cfg Config, policy ErrorPolicy) error {
	if !cfg.Persistent {
		return nil
	}
	return reportOption(policy, cfg.Logger, errPersistent)
}

func reportOption(policy ErrorPolicy, logger *slog.Logger, err *UnsupportedOptionError) error {
	switch policy {
	case PolicyThrow:
		return err
	case PolicyWarn:
		logger.Warn("Option refused", "option", err.Option, "error", err)
	}
	return nil
}

func newConn(ctx context.Context, db *sqlx.DB, cfg Config, policy ErrorPolicy) (*Conn, error) {
	d, err := dialect.Parse(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if d == dialect.Unknown {
		d = dialect.Detect(cfg.Driver, db.Driver())
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, &ConnectError{Driver: cfg.Driver, Err: err}
	}
	session, err := db.Connx(ctx)
	if err != nil {
		return nil, &ConnectError{Driver: cfg.Driver, Err: err}
	}

	c := &Conn{
		db:       db,
		conn:     session,
		driver:   cfg.Driver,
		dialect:  d,
		options:  cfg.SessionOptions(),
		policy:   policy,
		logger:   cfg.Logger.With("component", "sqlext", "dialect", d.String()),
		observer: cfg.Observer,
		now:      cfg.Now,
	}
	if err := c.Normalize(ctx); err != nil {
		session.Close()
		return nil, &ConnectError{Driver: cfg.Driver, Err: err}
	}
	return c, nil
}

// Normalize issues the session statements for the current options. It runs
// on connect; call it again after SetSessionOptions to apply new values.
// These statements are not counted in the statistics.
func (c *Conn) Normalize(ctx context.Context) error {
	stmts := c.dialect.SessionStatements(c.options.UseUTF8, c.options.Strict, c.options.TimeZone)
	for _, stmt := range stmts {
		if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("normalize session (%s): %w", stmt, err)
		}
		c.logger.Debug("Session normalized", "sql", stmt)
	}
	return nil
}

// Close releases the session, and the handle too when Open created it.
// Statements created by this Conn are unusable afterwards.
func (c *Conn) Close() error {
	err := c.conn.Close()
	if c.ownsDB {
		if dbErr := c.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// DB exposes the underlying handle for settings this package does not manage.
func (c *Conn) DB() *sqlx.DB {
	return c.db
}

// DriverName is the name the driver was registered under.
func (c *Conn) DriverName() string {
	return c.driver
}

// Dialect is the SQL flavour used for quoting and session setup.
func (c *Conn) Dialect() dialect.Dialect {
	return c.dialect
}

// SessionOptions returns the in-process session settings.
func (c *Conn) SessionOptions() SessionOptions {
	return c.options
}

// SetSessionOptions replaces the in-process session settings without
// touching the session; see Normalize.
func (c *Conn) SetSessionOptions(opts SessionOptions) {
	c.options = opts
}

// SetPersistent is always refused according to the error policy.
func (c *Conn) SetPersistent(bool) error {
	return reportOption(c.policy, c.logger, errPersistent)
}

// Quote renders value as a literal for this connection's dialect.
func (c *Conn) Quote(value any) string {
	return c.dialect.Quote(value)
}

// Prepare prepares query on the session. Named placeholders are rewritten
// for drivers that only take positional arguments; see DriverSQL. A driver
// failure comes back as a *PrepareError and never as a panic.
func (c *Conn) Prepare(ctx context.Context, query string) (*Stmt, error) {
	s := newStmt(c, query)
	ps, err := c.conn.PreparexContext(ctx, s.driverSQL)
	if err != nil {
		perr := &PrepareError{SQL: query, Err: err}
		c.logFailure("Prepare failed", query, perr)
		return nil, perr
	}
	s.ps = ps
	return s, nil
}

// Query runs query and returns the executed statement. Without bindings the
// query goes straight to the session; otherwise it is prepared, bound and
// executed. Either way exactly one sample is recorded and failures are only
// visible through Stmt.IsExecuted and Stmt.Err.
func (c *Conn) Query(ctx context.Context, query string, b Bindings) *Stmt {
	return c.statement(ctx, query, b).Execute(ctx, b).release()
}

// Exec is Query for statements without a result set and returns the number of
// affected rows.
func (c *Conn) Exec(ctx context.Context, query string, b Bindings) (int64, error) {
	s := c.statement(ctx, query, b).Exec(ctx, b).release()
	if !s.IsExecuted() {
		return 0, s.Err()
	}
	return s.RowsAffected(), nil
}

func (c *Conn) statement(ctx context.Context, query string, b Bindings) *Stmt {
	if isEmpty(b) {
		return newStmt(c, query)
	}
	s, err := c.Prepare(ctx, query)
	if err != nil {
		s = newStmt(c, query)
		s.prepErr = err
	}
	return s
}

// GetAll returns every row of query, or an empty slice if it failed.
func (c *Conn) GetAll(ctx context.Context, query string, b Bindings) []Row {
	s := c.Query(ctx, query, b)
	if !s.IsExecuted() {
		return []Row{}
	}
	return s.FetchAll()
}

// GetRow returns the first row of query, or nil if it failed or returned
// nothing.
func (c *Conn) GetRow(ctx context.Context, query string, b Bindings) Row {
	s := c.Query(ctx, query, b)
	if !s.IsExecuted() {
		return nil
	}
	row, _ := s.Fetch()
	return row
}

// GetColumn returns the value of the given column from every row. Zero
// values are kept; only the end of the result set stops the scan.
func (c *Conn) GetColumn(ctx context.Context, query string, b Bindings, column int) []any {
	s := c.Query(ctx, query, b)
	values := []any{}
	if !s.IsExecuted() {
		return values
	}
	for {
		v, ok := s.FetchColumn(column)
		if !ok {
			return values
		}
		values = append(values, v)
	}
}

// GetOne returns a single value from the first row. column is an index (int)
// or a column name (string). nil means failure, no row or no such column.
func (c *Conn) GetOne(ctx context.Context, query string, b Bindings, column any) any {
	s := c.Query(ctx, query, b)
	if !s.IsExecuted() {
		return nil
	}
	values, ok := s.next()
	if !ok {
		return nil
	}
	switch col := column.(type) {
	case int:
		if col >= 0 && col < len(values) {
			return values[col]
		}
	case string:
		for i, name := range s.columns {
			if name == col {
				return values[i]
			}
		}
	}
	return nil
}

// Select scans every row of query into dest, a pointer to a slice, using sqlx
// struct mapping.
func (c *Conn) Select(ctx context.Context, dest any, query string, b Bindings) error {
	s := c.statement(ctx, query, b)
	s.scan = func(rows *sqlx.Rows) error {
		return sqlx.StructScan(rows, dest)
	}
	if s = s.Execute(ctx, b).release(); !s.IsExecuted() {
		return fmt.Errorf("%w: %w", ErrNotExecuted, s.Err())
	}
	return nil
}

// Get scans the first row of query into dest.
func (c *Conn) Get(ctx context.Context, dest any, query string, b Bindings) error {
	s := c.statement(ctx, query, b)
	s.scan = func(rows *sqlx.Rows) error {
		return scanOne(rows, dest)
	}
	if s = s.Execute(ctx, b).release(); !s.IsExecuted() {
		return fmt.Errorf("%w: %w", ErrNotExecuted, s.Err())
	}
	return nil
}

// CalcFoundRows returns the row count of the preceding SQL_CALC_FOUND_ROWS
// select.
func (c *Conn) CalcFoundRows(ctx context.Context) (int64, error) {
	query, ok := c.dialect.FoundRowsQuery()
	if !ok {
		return 0, &UnsupportedOperationError{Operation: "CalcFoundRows", Dialect: c.dialect}
	}
	s := c.Query(ctx, query, nil)
	if !s.IsExecuted() {
		return 0, s.Err()
	}
	v, ok := s.FetchColumn(0)
	if !ok {
		return 0, nil
	}
	return Cast(v, ParamInt).(int64), nil
}

func (c *Conn) logFailure(msg string, query string, err error) {
	switch c.policy {
	case PolicyThrow:
		c.logger.Error(msg, "sql", query, "error", err)
	case PolicyWarn:
		c.logger.Warn(msg, "sql", query, "error", err)
	default:
		c.logger.Debug(msg, "sql", query, "error", err)
	}
}
