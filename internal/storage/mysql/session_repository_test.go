package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"ZKAttest-Chain/internal/attest"
	"ZKAttest-Chain/internal/envelope"
	"ZKAttest-Chain/internal/session"
)

func sampleArchivedSession() *session.Session {
	fp := envelope.ComputeFingerprint([]byte("proof"), []byte("inputs"))
	return &session.Session{
		ID:              "s-1",
		Kind:            "filesystem",
		Phase:           session.PhaseComplete,
		ProgressPercent: 100,
		Summary: session.Summary{
			Candidates: 1,
			Verified:   1,
			Attested:   1,
		},
		Attestations: []attest.Record{{
			Fingerprint: fp,
			Endpoint:    "primary",
			ReceiptID:   "0xreceipt",
			Outcome:     attest.OutcomeConfirmed,
			SubmittedAt: 1700000000,
			ConfirmedAt: 1700000005,
		}},
		CreatedAt: 1700000000,
		UpdatedAt: 1700000005,
	}
}

func TestSessionArchiveArchiveSession(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(upsertSessionSQL, mockResult{rowsAffected: 1}),
		execOp(`DELETE FROM attestations WHERE session_id = ?`, mockResult{rowsAffected: 0}),
		execOp(insertAttestationSQL, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &SessionArchive{db: db}
	if err := archive.ArchiveSession(context.Background(), sampleArchivedSession()); err != nil {
		t.Fatalf("archive session failed: %v", err)
	}
}

func TestSessionArchiveListLatest(t *testing.T) {
	t.Parallel()

	columns := []string{"id", "kind", "phase", "progress", "candidates", "verified", "failed_verification", "attested", "already_recorded", "failed_attestation", "error", "log_json", "created_at", "updated_at"}
	rows := mockRowsData{
		columns: columns,
		values: [][]driver.Value{
			{"s-2", "filesystem", "errored", int64(66), int64(3), int64(2), int64(1), int64(1), int64(0), int64(1), "见证阶段超时", "[]", int64(1700000100), int64(1700000200)},
			{"s-1", "filesystem", "complete", int64(100), int64(1), int64(1), int64(0), int64(1), int64(0), int64(0), "", "[]", int64(1700000000), int64(1700000005)},
		},
	}

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectSessionColumns+` ORDER BY updated_at DESC, id DESC LIMIT ?`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &SessionArchive{db: db}
	results, err := archive.ListLatest(context.Background(), 10)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(results))
	}
	if results[0].ID != "s-2" || results[0].Phase != session.PhaseErrored {
		t.Fatalf("unexpected first session: %+v", results[0])
	}
	if results[0].Summary.FailedAttestation != 1 {
		t.Fatalf("unexpected summary: %+v", results[0].Summary)
	}
}

func TestSessionArchiveRunMigrations(t *testing.T) {
	t.Parallel()

	statements := readMigrationStatements()
	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
	}
	for _, stmt := range statements {
		ops = append(ops,
			beginOp(),
			execOp(stmt, mockResult{}),
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}

	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &SessionArchive{db: db}
	if err := archive.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func readMigrationStatements() []string {
	files, err := loadMigrationFiles()
	if err != nil {
		panic(fmt.Sprintf("failed to load migrations: %v", err))
	}
	var statements []string
	for _, file := range files {
		statements = append(statements, file.statements...)
	}
	if len(statements) == 0 {
		panic("no statements in migrations")
	}
	return statements
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
