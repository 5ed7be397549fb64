package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Stmt is a statement created by a Conn, together with everything bound to it.
// Result sets are read into memory when the statement executes, so a Stmt
// never keeps the session busy between calls.
type Stmt struct {
	conn *Conn
	ps   *sqlx.Stmt
	id   string
	sql  string

	// driverSQL is sql with its placeholders in the driver's syntax. When
	// compiled, argKeys lists the placeholders in argument order.
	driverSQL string
	argKeys   []paramKey
	compiled  bool

	order  []paramKey
	params map[paramKey]boundParam

	prepErr error
	bindErr error

	ran          bool
	failed       bool
	err          error
	rowsAffected int64

	columns []string
	rows    [][]any
	cursor  int

	scan func(rows *sqlx.Rows) error
}

func newStmt(c *Conn, query string) *Stmt {
	driverSQL, keys, compiled := compileSQL(c.driver, c.dialect, query)
	return &Stmt{
		conn:      c,
		id:        uuid.NewString(),
		sql:       query,
		driverSQL: driverSQL,
		argKeys:   keys,
		compiled:  compiled,
		params:    make(map[paramKey]boundParam),
	}
}

// ID identifies the statement in logs and query-log entries.
func (s *Stmt) ID() string {
	return s.id
}

// SQL returns the statement text as written.
func (s *Stmt) SQL() string {
	return s.sql
}

// DriverSQL returns the statement text as sent to the driver.
func (s *Stmt) DriverSQL() string {
	return s.driverSQL
}

// IsExecuted reports whether the most recent execute succeeded. It is false
// before the first execute.
func (s *Stmt) IsExecuted() bool {
	return s.ran && !s.failed
}

// Err returns the failure of the most recent execute, or nil.
func (s *Stmt) Err() error {
	return s.err
}

// RowsAffected returns the count reported by the last successful Exec.
func (s *Stmt) RowsAffected() int64 {
	return s.rowsAffected
}

// Columns returns the column names of the last result set.
func (s *Stmt) Columns() []string {
	return s.columns
}

// Close releases the prepared handle, if any.
func (s *Stmt) Close() error {
	s.rows = nil
	if s.ps == nil {
		return nil
	}
	return s.ps.Close()
}

// release drops the prepared handle once a one-shot statement has run. Later
// executes go through the session directly with the same arguments.
func (s *Stmt) release() *Stmt {
	if s.ps != nil {
		s.ps.Close()
		s.ps = nil
	}
	return s
}

func (s *Stmt) bind(key paramKey, err error, p boundParam) *Stmt {
	if err != nil {
		s.bindErr = errors.Join(s.bindErr, err)
		return s
	}
	if _, exists := s.params[key]; !exists {
		s.order = append(s.order, key)
	}
	s.params[key] = p
	return s
}

// BindValue binds a snapshot of value to the named placeholder, replacing any
// previous binding for that name.
func (s *Stmt) BindValue(name string, value any, typ ParamType) *Stmt {
	key, err := namedKey(name)
	return s.bind(key, err, boundParam{value: value, typ: typ, maxLen: NoMaxLength})
}

// BindValueAt is BindValue for the 1-based positional placeholder pos.
func (s *Stmt) BindValueAt(pos int, value any, typ ParamType) *Stmt {
	key, err := positionalKey(pos)
	return s.bind(key, err, boundParam{value: value, typ: typ, maxLen: NoMaxLength})
}

// BindParam binds the variable ref points to. The variable is read when the
// statement executes or is reconstructed, so later assignments are seen.
// maxLen limits reconstructed strings; zero or NoMaxLength means unlimited.
// The caller owns the variable: concurrent writes to it race with execution.
func (s *Stmt) BindParam(name string, ref any, typ ParamType, maxLen int) *Stmt {
	key, err := namedKey(name)
	return s.bindRef(key, err, ref, typ, maxLen)
}

// BindParamAt is BindParam for the 1-based positional placeholder pos.
func (s *Stmt) BindParamAt(pos int, ref any, typ ParamType, maxLen int) *Stmt {
	key, err := positionalKey(pos)
	return s.bindRef(key, err, ref, typ, maxLen)
}

func (s *Stmt) bindRef(key paramKey, err error, ref any, typ ParamType, maxLen int) *Stmt {
	if err != nil {
		return s.bind(key, err, boundParam{})
	}
	rv, err := liveRef(ref)
	if err != nil {
		return s.bind(key, fmt.Errorf("%s: %w", key, err), boundParam{})
	}
	if maxLen <= 0 {
		maxLen = NoMaxLength
	}
	return s.bind(key, nil, boundParam{ref: rv, isRef: true, typ: typ, maxLen: maxLen})
}

// BindValueList binds every entry of b as a string value.
func (s *Stmt) BindValueList(b Bindings) *Stmt {
	if !isEmpty(b) {
		b.bindTo(s)
	}
	return s
}

// Execute binds b on top of the existing bindings, runs the statement and
// buffers its result set. One sample is recorded whatever the outcome.
func (s *Stmt) Execute(ctx context.Context, b Bindings) *Stmt {
	return s.run(ctx, false, b)
}

// Exec is Execute for statements without a result set.
func (s *Stmt) Exec(ctx context.Context, b Bindings) *Stmt {
	return s.run(ctx, true, b)
}

func (s *Stmt) run(ctx context.Context, exec bool, b Bindings) *Stmt {
	s.BindValueList(b)
	s.columns, s.rows, s.cursor, s.rowsAffected = nil, nil, 0, 0

	start := s.conn.now()
	err := s.prepErr
	if err == nil {
		err = s.bindErr
	}
	if err == nil {
		var args []any
		if args, err = s.args(); err == nil {
			if exec {
				err = s.exec(ctx, args)
			} else {
				err = s.query(ctx, args)
			}
		}
	}
	elapsed := s.conn.now().Sub(start)

	s.ran = true
	s.failed = err != nil
	s.err = nil
	if err != nil {
		var perr *PrepareError
		if errors.As(err, &perr) {
			s.err = perr
		} else {
			s.err = &ExecuteError{SQL: s.sql, Err: err}
			s.conn.logFailure("Execute failed", s.sql, s.err)
		}
		s.columns, s.rows = nil, nil
	}
	s.conn.recordSample(ctx, s, start, elapsed)
	return s
}

func (s *Stmt) exec(ctx context.Context, args []any) error {
	var res sql.Result
	var err error
	if s.ps != nil {
		res, err = s.ps.ExecContext(ctx, args...)
	} else {
		res, err = s.conn.conn.ExecContext(ctx, s.driverSQL, args...)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		s.rowsAffected = n
	}
	return nil
}

func (s *Stmt) query(ctx context.Context, args []any) error {
	var rows *sqlx.Rows
	var err error
	if s.ps != nil {
		rows, err = s.ps.QueryxContext(ctx, args...)
	} else {
		rows, err = s.conn.conn.QueryxContext(ctx, s.driverSQL, args...)
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	if s.scan != nil {
		if err := s.scan(rows); err != nil {
			return err
		}
		s.columns = columns
		return nil
	}

	buffered := [][]any{}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		buffered = append(buffered, values)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.columns, s.rows = columns, buffered
	return nil
}

// args turns the bindings into driver arguments. A compiled statement takes
// one value per placeholder in token order; otherwise positional values come
// in ordinal order followed by sql.Named values.
func (s *Stmt) args() ([]any, error) {
	if s.compiled {
		return s.compiledArgs()
	}
	var named []any
	positional := map[int]any{}
	maxPos := 0
	for _, key := range s.order {
		p := s.params[key]
		v := Cast(p.current(), p.typ)
		if key.name != "" {
			named = append(named, sql.Named(key.name, v))
			continue
		}
		positional[key.pos] = v
		if key.pos > maxPos {
			maxPos = key.pos
		}
	}
	args := make([]any, 0, maxPos+len(named))
	for i := 1; i <= maxPos; i++ {
		v, ok := positional[i]
		if !ok {
			return nil, fmt.Errorf("positional parameter %d is not bound", i)
		}
		args = append(args, v)
	}
	return append(args, named...), nil
}

func (s *Stmt) compiledArgs() ([]any, error) {
	args := make([]any, 0, len(s.argKeys))
	for _, key := range s.argKeys {
		p, ok := s.params[key]
		if !ok {
			return nil, fmt.Errorf("parameter %s is not bound", key)
		}
		args = append(args, Cast(p.current(), p.typ))
	}
	return args, nil
}

func (s *Stmt) next() ([]any, bool) {
	if s.cursor >= len(s.rows) {
		return nil, false
	}
	values := s.rows[s.cursor]
	s.cursor++
	return values, true
}

func (s *Stmt) toRow(values []any) Row {
	row := make(Row, len(s.columns))
	for i, name := range s.columns {
		row[name] = values[i]
	}
	return row
}

// Fetch returns the next row; false means the result set is exhausted.
func (s *Stmt) Fetch() (Row, bool) {
	values, ok := s.next()
	if !ok {
		return nil, false
	}
	return s.toRow(values), true
}

// FetchAll returns every remaining row.
func (s *Stmt) FetchAll() []Row {
	out := make([]Row, 0, len(s.rows)-s.cursor)
	for {
		row, ok := s.Fetch()
		if !ok {
			return out
		}
		out = append(out, row)
	}
}

// FetchColumn returns one column of the next row. false means the result set
// is exhausted or the column does not exist; a present zero value is true.
func (s *Stmt) FetchColumn(column int) (any, bool) {
	if column < 0 || column >= len(s.columns) {
		return nil, false
	}
	values, ok := s.next()
	if !ok {
		return nil, false
	}
	return values[column], true
}

func scanOne(rows *sqlx.Rows, dest any) error {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if structDest(dest) {
		return rows.StructScan(dest)
	}
	return rows.Scan(dest)
}

func structDest(dest any) bool {
	if _, ok := dest.(sql.Scanner); ok {
		return false
	}
	t := reflect.Indirect(reflect.ValueOf(dest)).Type()
	return t.Kind() == reflect.Struct && t != reflect.TypeOf(time.Time{})
}
