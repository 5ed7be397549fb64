package types

import "encoding/json"

// --- JSON structures exchanged between the proxy driver and its host ---

// Arg is one statement argument. Name is set for named arguments, Ordinal
// (1-based) for positional ones.
type Arg struct {
	Name    string `json:"name,omitempty"`
	Ordinal int    `json:"ordinal,omitempty"`
	Value   any    `json:"value"`
}

// SQLRequest defines the structure for requests sent to the host. ConnID ties
// prepared statements to the driver connection that created them.
type SQLRequest struct {
	Command string `json:"command"`
	ConnID  string `json:"conn_id,omitempty"`
	SQL     string `json:"sql,omitempty"`
	Args    []Arg  `json:"args,omitempty"`
	StmtID  string `json:"stmt_id,omitempty"`
}

// Commands understood by the host.
const (
	CommandPrepare   = "prepare"
	CommandQuery     = "query"
	CommandExec      = "exec"
	CommandCloseStmt = "close_stmt"
	CommandCloseConn = "close_conn"
)

// GeneralResponse is used for commands that only report success (prepare,
// close_stmt, close_conn).
type GeneralResponse struct {
	StmtID string `json:"stmt_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// QueryResponse defines the structure for responses from 'query' commands.
type QueryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Error   string   `json:"error,omitempty"`
}

// ExecResponse defines the structure for responses from 'exec' commands.
type ExecResponse struct {
	LastInsertID int64  `json:"last_insert_id"`
	RowsAffected int64  `json:"rows_affected"`
	Error        string `json:"error,omitempty"`
}

// DecodeValue turns a value decoded with json.Decoder.UseNumber back into the
// closest driver value: integers become int64, other numbers float64.
func DecodeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
