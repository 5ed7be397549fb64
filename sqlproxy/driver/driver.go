package driver

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomyedwab/sqlext/sqlproxy/types"
)

// Handler answers one JSON-encoded SQLRequest with a JSON-encoded response.
type Handler func(requestPayload []byte) (responsePayload []byte, err error)

// DriverName is the name the driver is registered under.
const DriverName = "sqlproxy"

var handlers sync.Map // DSN -> Handler

// ErrTxUnsupported is returned by Begin.
var ErrTxUnsupported = errors.New("sqlproxy: transactions are not supported")

func init() {
	sql.Register(DriverName, &Driver{})
}

// Register routes connections opened with dsn to handler, replacing any
// handler already registered under that name.
func Register(dsn string, handler Handler) {
	handlers.Store(dsn, handler)
}

// Unregister removes the handler for dsn. Open connections keep using it.
func Unregister(dsn string) {
	handlers.Delete(dsn)
}

// --- Driver implementation ---

// Driver is the SQL driver for the proxy.
type Driver struct{}

// Open returns a new connection served by the handler registered for name.
func (d *Driver) Open(name string) (driver.Conn, error) {
	h, ok := handlers.Load(name)
	if !ok {
		return nil, fmt.Errorf("sqlproxy: no handler registered for %q", name)
	}
	return &Conn{id: uuid.NewString(), call: h.(Handler)}, nil
}

// --- Connection implementation ---

// Conn implements the driver.Conn interface.
type Conn struct {
	id   string
	call Handler
}

var (
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
)

func (c *Conn) roundTrip(ctx context.Context, req types.SQLRequest, resp any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req.ConnID = c.id
	reqPayload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("sqlproxy: failed to marshal %s request: %w", req.Command, err)
	}
	respPayload, err := c.call(reqPayload)
	if err != nil {
		return fmt.Errorf("sqlproxy: host call for %s failed: %w", req.Command, err)
	}
	dec := json.NewDecoder(bytes.NewReader(respPayload))
	dec.UseNumber()
	if err := dec.Decode(resp); err != nil {
		return fmt.Errorf("sqlproxy: failed to unmarshal %s response: %w", req.Command, err)
	}
	return nil
}

// Prepare returns a prepared statement, suitable for query or execution.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var resp types.GeneralResponse
	if err := c.roundTrip(ctx, types.SQLRequest{Command: types.CommandPrepare, SQL: query}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sqlproxy: host prepare error: %s", resp.Error)
	}
	if resp.StmtID == "" {
		return nil, fmt.Errorf("sqlproxy: host did not return a StmtID for prepare")
	}
	return &Stmt{conn: c, query: query, stmtID: resp.StmtID}, nil
}

// ExecContext runs query without preparing it first.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.exec(ctx, types.SQLRequest{Command: types.CommandExec, SQL: query, Args: convertArgs(args)})
}

// QueryContext runs query without preparing it first.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.query(ctx, types.SQLRequest{Command: types.CommandQuery, SQL: query, Args: convertArgs(args)})
}

func (c *Conn) exec(ctx context.Context, req types.SQLRequest) (driver.Result, error) {
	var resp types.ExecResponse
	if err := c.roundTrip(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sqlproxy: host exec error: %s", resp.Error)
	}
	return &sqlProxyResult{lastInsertID: resp.LastInsertID, rowsAffected: resp.RowsAffected}, nil
}

func (c *Conn) query(ctx context.Context, req types.SQLRequest) (driver.Rows, error) {
	var resp types.QueryResponse
	if err := c.roundTrip(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sqlproxy: host query error: %s", resp.Error)
	}
	return &sqlProxyRows{columns: resp.Columns, data: resp.Rows}, nil
}

// Close releases every statement the host holds for this connection.
func (c *Conn) Close() error {
	var resp types.GeneralResponse
	if err := c.roundTrip(context.Background(), types.SQLRequest{Command: types.CommandCloseConn}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("sqlproxy: host close_conn error: %s", resp.Error)
	}
	return nil
}

// Begin always fails; see ErrTxUnsupported.
func (c *Conn) Begin() (driver.Tx, error) {
	return nil, ErrTxUnsupported
}

// --- Statement implementation ---

// Stmt implements the driver.Stmt interface.
type Stmt struct {
	conn   *Conn
	query  string
	stmtID string
}

var (
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)

// Close closes the statement.
func (s *Stmt) Close() error {
	if s.stmtID == "" {
		return nil
	}
	var resp types.GeneralResponse
	if err := s.conn.roundTrip(context.Background(), types.SQLRequest{Command: types.CommandCloseStmt, StmtID: s.stmtID}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("sqlproxy: host close_stmt error: %s", resp.Error)
	}
	s.stmtID = ""
	return nil
}

// NumInput returns -1: the host validates the argument count.
func (s *Stmt) NumInput() int {
	return -1
}

func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamed(args))
}

func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamed(args))
}

func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if s.stmtID == "" {
		return nil, fmt.Errorf("sqlproxy: statement is closed")
	}
	return s.conn.exec(ctx, types.SQLRequest{Command: types.CommandExec, StmtID: s.stmtID, Args: convertArgs(args)})
}

func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if s.stmtID == "" {
		return nil, fmt.Errorf("sqlproxy: statement is closed")
	}
	return s.conn.query(ctx, types.SQLRequest{Command: types.CommandQuery, StmtID: s.stmtID, Args: convertArgs(args)})
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

func convertArgs(args []driver.NamedValue) []types.Arg {
	out := make([]types.Arg, len(args))
	for i, a := range args {
		arg := types.Arg{Name: a.Name, Value: a.Value}
		if a.Name == "" {
			arg.Ordinal = a.Ordinal
		}
		switch val := a.Value.(type) {
		case time.Time:
			arg.Value = val.Format(time.RFC3339Nano)
		case []byte:
			arg.Value = string(val)
		}
		out[i] = arg
	}
	return out
}

// --- Result implementation ---

type sqlProxyResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r *sqlProxyResult) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

func (r *sqlProxyResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- Rows implementation ---

// sqlProxyRows holds a result set the host sent in full.
type sqlProxyRows struct {
	columns         []string
	data            [][]any
	currentRowIndex int
}

func (r *sqlProxyRows) Columns() []string {
	return r.columns
}

func (r *sqlProxyRows) Close() error {
	r.data = nil
	r.currentRowIndex = 0
	return nil
}

// Next copies the next row into dest. JSON numbers come back as int64 when
// they are integral and float64 otherwise.
func (r *sqlProxyRows) Next(dest []driver.Value) error {
	if r.currentRowIndex >= len(r.data) {
		return io.EOF
	}

	rowData := r.data[r.currentRowIndex]
	if len(rowData) != len(dest) {
		return fmt.Errorf("sqlproxy: column count mismatch. Expected %d, got %d", len(dest), len(rowData))
	}
	for i, val := range rowData {
		dest[i] = types.DecodeValue(val)
	}

	r.currentRowIndex++
	return nil
}
