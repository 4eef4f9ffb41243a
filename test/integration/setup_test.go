//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/migrations"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool     *pgxpool.Pool
	ConnStr  string
	Migrator *db.Migrator
}

// globalDB is initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tdb, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupPostgres uses TEST_DATABASE_URL when set and otherwise starts a
// throwaway container.
func setupPostgres(ctx context.Context) (*testDB, func(), error) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("start postgres container: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		cleanup()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	return &testDB{
		Pool:     pool,
		ConnStr:  connStr,
		Migrator: db.NewMigratorFS(pool, migrations.FS),
	}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// createTenantSchema creates a tenant schema and applies every migration.
func createTenantSchema(ctx context.Context, t *testing.T, tenantID string) {
	t.Helper()
	if err := db.CreateTenantSchema(ctx, globalDB.Pool, tenantID, globalDB.Migrator); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
}

func dropTenantSchema(ctx context.Context, t *testing.T, tenantID string) {
	t.Helper()
	schema := db.SchemaName(tenantID)
	if _, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		t.Logf("warning: failed to drop schema %s: %v", schema, err)
	}
}

// newTenant creates a migrated tenant that is dropped when the test ends.
func newTenant(ctx context.Context, t *testing.T, prefix string) string {
	t.Helper()
	tenantID := uniqueTenantID(prefix)
	createTenantSchema(ctx, t, tenantID)
	t.Cleanup(func() { dropTenantSchema(context.Background(), t, tenantID) })
	return tenantID
}

// withTenantConn runs fn with a tenant-scoped connection on the context, the
// way db.TenantMiddleware does for HTTP requests.
func withTenantConn(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	conn, err := globalDB.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", db.SchemaName(tenantID))); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	ctx = context.WithValue(ctx, db.TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, db.DBConnKey, conn)
	return fn(ctx)
}

func uniqueTenantID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
}

func createTestPatient(ctx context.Context, t *testing.T, tenantID, firstName, lastName string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{FirstName: firstName, LastName: lastName, Active: true}
	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		return patient.NewPatientRepoPG(globalDB.Pool, nil).Create(ctx, p)
	})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func ptrStr(s string) *string { return &s }

func ptrInt(i int) *int { return &i }

func ptrFloat(f float64) *float64 { return &f }
