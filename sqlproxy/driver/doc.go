// Package driver implements a database/sql/driver that proxies every call to a
// host handler instead of talking to a server.
//
// Each call is serialized into a JSON SQLRequest and handed to the handler
// registered for the connection's DSN; the handler answers with a JSON
// QueryResponse, ExecResponse or GeneralResponse. The host package provides a
// handler that executes against a backing *sql.DB and can script answers for
// statements the backing database does not understand, which makes the driver
// a stand-in for dialects that are not available locally.
//
// Usage:
//
//  1. Import the driver package. This registers the driver as "sqlproxy".
//
//  2. Register a handler under a DSN:
//
//     driver.Register("test-host", h.HandleRequest)
//
//  3. Open the database with that DSN:
//
//     db, err := sqlx.Open("sqlproxy", "test-host")
//
// Limitations:
//
//   - Transactions are not supported; Begin always fails.
//   - Result sets are fetched in full by the host before the first row is read.
package driver
