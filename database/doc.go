// Package database decorates a database/sql session with the bookkeeping an
// application usually wants around its queries but rarely writes:
//
//   - session normalization on connect (character set, strict SQL mode, time
//     zone) for the MySQL family,
//   - execution statistics: a call count and the cumulative time spent,
//   - a soft-failure contract, where a failed prepare or execute shows up as
//     Stmt.IsExecuted() == false instead of unwinding the caller,
//   - reconstruction of the literal SQL behind a parameterized statement, for
//     logs and debugging.
//
// Usage:
//
//	conn, err := database.Open(ctx, database.Config{Driver: "mysql", DSN: dsn})
//	if err != nil {
//		// handle error
//	}
//	defer conn.Close()
//
//	rows := conn.GetAll(ctx, "SELECT * FROM users WHERE name = :name", database.Params{"name": "O'Brien"})
//
//	stmt, err := conn.Prepare(ctx, "UPDATE users SET visits = :visits WHERE id = :id")
//	if err != nil {
//		// handle *database.PrepareError
//	}
//	stmt.BindParam("visits", &visits, database.ParamInt, 0).BindValue("id", 7, database.ParamInt)
//	log.Println(stmt.ReconstructSQL(nil))
//	if !stmt.Exec(ctx, nil).IsExecuted() {
//		log.Println(stmt.Err())
//	}
//
// A Conn pins a single session from its handle and is not safe for
// concurrent use; use one Conn per goroutine.
package database
