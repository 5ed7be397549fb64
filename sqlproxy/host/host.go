package host

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/tomyedwab/sqlext/sqlproxy/types"
)

// SQLHost answers proxy requests against a backing database. Statements the
// backing database cannot run (another dialect's session commands, say) can
// be scripted with canned responses.
type SQLHost struct {
	db *sql.DB

	mu       sync.Mutex
	stmts    map[string]*hostStmt
	scripts  map[string]types.QueryResponse
	failWhen func(command, sql string) error
	executed []string
}

type hostStmt struct {
	connID string
	sql    string
	stmt   *sql.Stmt // nil for scripted statements
}

// NewSQLHost creates a new SQLHost instance backed by db.
func NewSQLHost(db *sql.DB) *SQLHost {
	return &SQLHost{
		db:      db,
		stmts:   make(map[string]*hostStmt),
		scripts: make(map[string]types.QueryResponse),
	}
}

// Script makes the host answer query with resp instead of running it. An exec
// of a scripted query succeeds and affects no rows.
func (h *SQLHost) Script(query string, resp types.QueryResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts[scriptKey(query)] = resp
}

// FailWhen installs a hook consulted before every prepare, query and exec. A
// non-nil error is sent back to the driver as the command's failure.
func (h *SQLHost) FailWhen(hook func(command, sql string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failWhen = hook
}

// Statements returns the SQL of every query and exec the host has served, in
// order.
func (h *SQLHost) Statements() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.executed...)
}

// OpenStatements is the number of prepared statements not yet closed.
func (h *SQLHost) OpenStatements() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stmts)
}

func scriptKey(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// HandleRequest processes a raw SQL request payload and returns a raw response payload.
func (h *SQLHost) HandleRequest(requestPayload []byte) ([]byte, error) {
	var req types.SQLRequest
	dec := json.NewDecoder(bytes.NewReader(requestPayload))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return marshalErrorResponse(fmt.Sprintf("failed to unmarshal request: %v", err))
	}

	var responseData any
	var opErr error

	switch req.Command {
	case types.CommandPrepare:
		responseData, opErr = h.handlePrepare(&req)
	case types.CommandQuery:
		responseData, opErr = h.handleQuery(&req)
	case types.CommandExec:
		responseData, opErr = h.handleExec(&req)
	case types.CommandCloseStmt:
		responseData, opErr = h.handleCloseStmt(&req)
	case types.CommandCloseConn:
		responseData, opErr = h.handleCloseConn(&req)
	default:
		opErr = fmt.Errorf("unknown command: %s", req.Command)
	}

	if opErr != nil {
		return marshalErrorResponse(opErr.Error())
	}
	return json.Marshal(responseData)
}

func marshalErrorResponse(errMsg string) ([]byte, error) {
	payload, err := json.Marshal(types.GeneralResponse{Error: errMsg})
	if err != nil {
		return []byte(`{"error":"critical: failed to marshal error response"}`),
			fmt.Errorf("failed to marshal error response for '%s': %w", errMsg, err)
	}
	return payload, nil
}

func (h *SQLHost) check(command, query string) error {
	h.mu.Lock()
	hook := h.failWhen
	h.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(command, query)
}

func (h *SQLHost) handlePrepare(req *types.SQLRequest) (types.GeneralResponse, error) {
	if err := h.check(req.Command, req.SQL); err != nil {
		return types.GeneralResponse{}, fmt.Errorf("prepare failed: %w", err)
	}

	hs := &hostStmt{connID: req.ConnID, sql: req.SQL}
	h.mu.Lock()
	_, scripted := h.scripts[scriptKey(req.SQL)]
	h.mu.Unlock()
	if !scripted {
		stmt, err := h.db.Prepare(req.SQL)
		if err != nil {
			return types.GeneralResponse{}, fmt.Errorf("prepare failed: %w", err)
		}
		hs.stmt = stmt
	}

	stmtID := uuid.NewString()
	h.mu.Lock()
	h.stmts[stmtID] = hs
	h.mu.Unlock()
	return types.GeneralResponse{StmtID: stmtID}, nil
}

// resolve finds the statement a query or exec refers to and records its SQL.
func (h *SQLHost) resolve(req *types.SQLRequest) (*hostStmt, *types.QueryResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hs := &hostStmt{sql: req.SQL}
	if req.StmtID != "" {
		found, ok := h.stmts[req.StmtID]
		if !ok {
			return nil, nil, fmt.Errorf("statement not found: %s", req.StmtID)
		}
		hs = found
	}
	h.executed = append(h.executed, hs.sql)
	if script, ok := h.scripts[scriptKey(hs.sql)]; ok {
		return hs, &script, nil
	}
	return hs, nil, nil
}

func (h *SQLHost) handleExec(req *types.SQLRequest) (types.ExecResponse, error) {
	hs, script, err := h.resolve(req)
	if err != nil {
		return types.ExecResponse{}, err
	}
	if err := h.check(req.Command, hs.sql); err != nil {
		return types.ExecResponse{}, fmt.Errorf("exec failed: %w", err)
	}
	if script != nil {
		if script.Error != "" {
			return types.ExecResponse{}, fmt.Errorf("exec failed: %s", script.Error)
		}
		return types.ExecResponse{}, nil
	}

	args := convertArgs(req.Args)
	var res sql.Result
	if hs.stmt != nil {
		res, err = hs.stmt.Exec(args...)
	} else {
		res, err = h.db.Exec(hs.sql, args...)
	}
	if err != nil {
		return types.ExecResponse{}, fmt.Errorf("exec failed: %w", err)
	}

	// Not every driver reports both; missing values stay zero.
	lastInsertID, _ := res.LastInsertId()
	rowsAffected, _ := res.RowsAffected()
	return types.ExecResponse{LastInsertID: lastInsertID, RowsAffected: rowsAffected}, nil
}

func (h *SQLHost) handleQuery(req *types.SQLRequest) (types.QueryResponse, error) {
	hs, script, err := h.resolve(req)
	if err != nil {
		return types.QueryResponse{}, err
	}
	if err := h.check(req.Command, hs.sql); err != nil {
		return types.QueryResponse{}, fmt.Errorf("query failed: %w", err)
	}
	if script != nil {
		if script.Error != "" {
			return types.QueryResponse{}, fmt.Errorf("query failed: %s", script.Error)
		}
		return *script, nil
	}

	args := convertArgs(req.Args)
	var rows *sql.Rows
	if hs.stmt != nil {
		rows, err = hs.stmt.Query(args...)
	} else {
		rows, err = h.db.Query(hs.sql, args...)
	}
	if err != nil {
		return types.QueryResponse{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return types.QueryResponse{}, fmt.Errorf("failed to get columns: %w", err)
	}

	results := [][]any{}
	scanArgs := make([]any, len(columns))
	scanPtrs := make([]any, len(columns))
	for i := range scanArgs {
		scanPtrs[i] = &scanArgs[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanPtrs...); err != nil {
			return types.QueryResponse{}, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, processRowValues(scanArgs))
	}
	if err := rows.Err(); err != nil {
		return types.QueryResponse{}, fmt.Errorf("error iterating rows: %w", err)
	}

	return types.QueryResponse{Columns: columns, Rows: results}, nil
}

// convertArgs rebuilds driver arguments: named ones as sql.NamedArg,
// positional ones in ordinal order ahead of them.
func convertArgs(in []types.Arg) []any {
	positional := make([]types.Arg, 0, len(in))
	var named []any
	for _, a := range in {
		if a.Name != "" {
			named = append(named, sql.Named(a.Name, types.DecodeValue(a.Value)))
			continue
		}
		positional = append(positional, a)
	}
	sort.SliceStable(positional, func(i, j int) bool {
		return positional[i].Ordinal < positional[j].Ordinal
	})
	args := make([]any, 0, len(in))
	for _, a := range positional {
		args = append(args, types.DecodeValue(a.Value))
	}
	return append(args, named...)
}

func processRowValues(rawRow []any) []any {
	processedRow := make([]any, len(rawRow))
	for i, val := range rawRow {
		switch v := val.(type) {
		case []byte:
			processedRow[i] = string(v)
		case time.Time:
			processedRow[i] = v.Format(time.RFC3339Nano)
		default:
			processedRow[i] = v
		}
	}
	return processedRow
}

func (h *SQLHost) handleCloseStmt(req *types.SQLRequest) (types.GeneralResponse, error) {
	h.mu.Lock()
	hs, exists := h.stmts[req.StmtID]
	delete(h.stmts, req.StmtID)
	h.mu.Unlock()

	// Closing an unknown statement is not an error.
	if !exists || hs.stmt == nil {
		return types.GeneralResponse{}, nil
	}
	if err := hs.stmt.Close(); err != nil {
		return types.GeneralResponse{}, fmt.Errorf("close statement failed: %w", err)
	}
	return types.GeneralResponse{}, nil
}

// handleCloseConn closes the statements prepared by the closing connection.
// The backing database is managed by the caller and stays open.
func (h *SQLHost) handleCloseConn(req *types.SQLRequest) (types.GeneralResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, hs := range h.stmts {
		if hs.connID != req.ConnID {
			continue
		}
		if hs.stmt != nil {
			_ = hs.stmt.Close()
		}
		delete(h.stmts, id)
	}
	return types.GeneralResponse{}, nil
}
