// Package testutil gates and prepares Postgres-backed integration tests.
//
// Tests call WithAutoDB (or SkipIfNoTestDB) and are skipped when no database is
// reachable, unless TEST_REQUIRE_DB is set. TEST_DB_EPHEMERAL runs each test in its
// own schema so packages can run in parallel against one server.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/proofwork/proofwork/internal/migrate"
)

// TestingTB is the subset of testing.TB the helpers need.
type TestingTB interface {
	Helper()
	Cleanup(func())
	Skip(args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig locates the integration test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultTestDBConfig reads TEST_DB_* variables. The default port 55432 matches the
// compose test profile; CI sets TEST_DB_PORT=5432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     envOr("TEST_DB_PORT", "55432"),
		User:     envOr("TEST_DB_USER", "proofwork"),
		Password: envOr("TEST_DB_PASSWORD", "proofwork"),
		DBName:   envOr("TEST_DB_NAME", "proofwork"),
		SSLMode:  envOr("TEST_DB_SSL_MODE", "disable"),
	}
}

// DSN renders the connection URL, optionally pinning search_path to schema.
func (c TestDBConfig) DSN(schema string) string {
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SkipIfNoTestDB skips t when the test database cannot be reached.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	db, err := open(DefaultTestDBConfig().DSN(""), 2*time.Second)
	if err != nil {
		if requireDB() {
			t.Fatal("test database not available:", err)
		}
		t.Skip("test database not available:", err)
		return
	}
	closeAndLog(t, "probe db", db)
}

// SetupTestDB connects to the shared test database, applies migrations and empties
// every table. The tables are emptied again and the pool closed when t ends.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := open(DefaultTestDBConfig().DSN(""), 5*time.Second)
	if err != nil {
		t.Fatal("connect test database:", err)
	}
	applyMigrations(t, db)
	truncateAll(t, db)
	t.Cleanup(func() {
		truncateAll(t, db)
		closeAndLog(t, "test db", db)
	})
	return db
}

// SetupEphemeralSchemaDB migrates a fresh schema and drops it when t ends.
func SetupEphemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	cfg := DefaultTestDBConfig()
	admin, err := open(cfg.DSN(""), 5*time.Second)
	if err != nil {
		t.Fatal("connect admin database:", err)
	}
	schema := schemaName()
	if _, err := admin.Exec("CREATE SCHEMA " + schema); err != nil {
		closeAndLog(t, "admin db", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db, err := open(cfg.DSN(schema), 10*time.Second)
	if err != nil {
		closeAndLog(t, "admin db", admin)
		t.Fatalf("connect schema %s: %v", schema, err)
	}
	db.SetMaxOpenConns(10)
	t.Logf("using ephemeral schema %s", schema)
	t.Cleanup(func() {
		closeAndLog(t, "schema db", db)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		closeAndLog(t, "admin db", admin)
	})

	applyMigrations(t, db)
	return db
}

// WithAutoDB runs fn against an ephemeral schema when TEST_DB_EPHEMERAL is set and
// against the shared test database otherwise.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	if envBool("TEST_DB_EPHEMERAL") {
		fn(SetupEphemeralSchemaDB(t))
		return
	}
	fn(SetupTestDB(t))
}

// Reverse dependency order.
var tables = []string{
	"ledger_entries",
	"disputes",
	"payouts",
	"verifications",
	"submissions",
	"jobs",
	"bounties",
	"billing_accounts",
	"outbox_events",
}

func truncateAll(t TestingTB, db *sql.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")); err != nil {
		t.Fatalf("truncate test tables: %v", err)
	}
}

func applyMigrations(t TestingTB, db *sql.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatal("run migrations:", err)
	}
}

func open(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "t_" + hex.EncodeToString([]byte(time.Now().Format("150405.000")))
	}
	return "t_" + hex.EncodeToString(b)
}

func closeAndLog(t TestingTB, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		t.Logf("close %s: %v", name, err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }

// TestTime is the fixed clock reading shared by repository and service tests.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// ConcurrentTestRunner releases goroutines simultaneously to provoke races.
type ConcurrentTestRunner struct {
	t TestingTB
}

// NewConcurrentTestRunner returns a runner bound to t.
func NewConcurrentTestRunner(t TestingTB) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{t: t}
}

// RunConcurrent starts every func behind one barrier and returns their errors in order.
func (r *ConcurrentTestRunner) RunConcurrent(funcs ...func() error) []error {
	r.t.Helper()

	start := make(chan struct{})
	results := make([]error, len(funcs))
	done := make(chan struct{}, len(funcs))
	for i, f := range funcs {
		go func() {
			<-start
			results[i] = f()
			done <- struct{}{}
		}()
	}
	close(start)
	for range funcs {
		<-done
	}
	return results
}

// AssertNoErrors fails the test on the first non-nil error.
func (r *ConcurrentTestRunner) AssertNoErrors(errs []error) {
	r.t.Helper()
	for i, err := range errs {
		if err != nil {
			r.t.Fatalf("concurrent operation %d failed: %v", i, err)
		}
	}
}
