package host

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/sqlext/sqlproxy/types"
)

func setupTestHost(t *testing.T) *SQLHost {
	t.Helper()
	db, err := sql.Open("sqlite3", path.Join(t.TempDir(), "host.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	if _, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return NewSQLHost(db)
}

func call(t *testing.T, h *SQLHost, req types.SQLRequest, resp any) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	out, err := h.HandleRequest(payload)
	if err != nil {
		t.Fatalf("HandleRequest returned error: %v", err)
	}
	if err := json.Unmarshal(out, resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
}

func TestPrepareExecQuery(t *testing.T) {
	h := setupTestHost(t)

	var prep types.GeneralResponse
	call(t, h, types.SQLRequest{Command: types.CommandPrepare, ConnID: "c1", SQL: "INSERT INTO items (id, label) VALUES (?, :label)"}, &prep)
	if prep.Error != "" || prep.StmtID == "" {
		t.Fatalf("Unexpected prepare response %+v", prep)
	}

	var exec types.ExecResponse
	call(t, h, types.SQLRequest{Command: types.CommandExec, StmtID: prep.StmtID, Args: []types.Arg{
		{Name: "label", Value: "first"},
		{Ordinal: 1, Value: 7},
	}}, &exec)
	if exec.Error != "" || exec.RowsAffected != 1 || exec.LastInsertID != 7 {
		t.Fatalf("Unexpected exec response %+v", exec)
	}

	var query types.QueryResponse
	call(t, h, types.SQLRequest{Command: types.CommandQuery, SQL: "SELECT id, label FROM items WHERE id = ?", Args: []types.Arg{{Ordinal: 1, Value: 7}}}, &query)
	if query.Error != "" || len(query.Rows) != 1 {
		t.Fatalf("Unexpected query response %+v", query)
	}
	if query.Rows[0][1] != "first" {
		t.Errorf("Unexpected row %v", query.Rows[0])
	}

	want := []string{"INSERT INTO items (id, label) VALUES (?, :label)", "SELECT id, label FROM items WHERE id = ?"}
	got := h.Statements()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected statements %v, got %v", want, got)
	}
}

func TestScriptedStatements(t *testing.T) {
	h := setupTestHost(t)
	h.Script("SET  NAMES utf8mb4", types.QueryResponse{})
	h.Script("SELECT FOUND_ROWS()", types.QueryResponse{Columns: []string{"n"}, Rows: [][]any{{3}}})

	var exec types.ExecResponse
	call(t, h, types.SQLRequest{Command: types.CommandExec, SQL: "SET NAMES utf8mb4"}, &exec)
	if exec.Error != "" {
		t.Errorf("Expected scripted exec to succeed, got %q", exec.Error)
	}

	var prep types.GeneralResponse
	call(t, h, types.SQLRequest{Command: types.CommandPrepare, SQL: "SELECT FOUND_ROWS()"}, &prep)
	var query types.QueryResponse
	call(t, h, types.SQLRequest{Command: types.CommandQuery, StmtID: prep.StmtID}, &query)
	if len(query.Rows) != 1 || query.Columns[0] != "n" {
		t.Errorf("Unexpected scripted response %+v", query)
	}
}

func TestFailWhen(t *testing.T) {
	h := setupTestHost(t)
	h.FailWhen(func(command, query string) error {
		if command == types.CommandPrepare {
			return errors.New("no prepares today")
		}
		return nil
	})

	var prep types.GeneralResponse
	call(t, h, types.SQLRequest{Command: types.CommandPrepare, SQL: "SELECT 1"}, &prep)
	if prep.Error == "" || prep.StmtID != "" {
		t.Errorf("Expected an injected failure, got %+v", prep)
	}

	var query types.QueryResponse
	call(t, h, types.SQLRequest{Command: types.CommandQuery, SQL: "SELECT 1"}, &query)
	if query.Error != "" {
		t.Errorf("Expected direct queries to pass, got %q", query.Error)
	}
}

func TestCloseConnOnlyClosesItsStatements(t *testing.T) {
	h := setupTestHost(t)

	var a, b types.GeneralResponse
	call(t, h, types.SQLRequest{Command: types.CommandPrepare, ConnID: "a", SQL: "SELECT 1"}, &a)
	call(t, h, types.SQLRequest{Command: types.CommandPrepare, ConnID: "b", SQL: "SELECT 2"}, &b)
	if h.OpenStatements() != 2 {
		t.Fatalf("Expected 2 open statements, got %d", h.OpenStatements())
	}

	var closed types.GeneralResponse
	call(t, h, types.SQLRequest{Command: types.CommandCloseConn, ConnID: "a"}, &closed)
	if h.OpenStatements() != 1 {
		t.Errorf("Expected 1 open statement, got %d", h.OpenStatements())
	}

	var query types.QueryResponse
	call(t, h, types.SQLRequest{Command: types.CommandQuery, StmtID: a.StmtID}, &query)
	if query.Error == "" {
		t.Error("Expected the closed statement to be gone")
	}
	call(t, h, types.SQLRequest{Command: types.CommandQuery, StmtID: b.StmtID}, &query)
	if query.Error != "" {
		t.Errorf("Expected the other connection's statement to work, got %q", query.Error)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := setupTestHost(t)
	var resp types.GeneralResponse
	call(t, h, types.SQLRequest{Command: "begin_tx"}, &resp)
	if resp.Error == "" {
		t.Error("Expected an error for an unknown command")
	}
}
