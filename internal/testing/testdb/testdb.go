package testdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/forgo/sect/internal/database"
)

// Tables lists every table the migrations define, in dependency order
var Tables = []string{
	"raid_log",
	"sect_daily_stat",
	"sect_contribution",
	"sect_active_member",
	"sect_membership",
	"sect",
}

// TestDB is one isolated SurrealDB namespace with the sect schema applied
type TestDB struct {
	DB        database.Database
	Namespace string
	t         *testing.T
}

type settings struct {
	Host     string `env:"TEST_DB_HOST"`
	Port     string `env:"TEST_DB_PORT" envDefault:"8000"`
	User     string `env:"TEST_DB_USER" envDefault:"root"`
	Password string `env:"TEST_DB_PASSWORD" envDefault:"root"`
	Enabled  bool   `env:"SECT_SURREAL_TESTS"`
}

var (
	loadOnce   sync.Once
	migrations []string
	loadErr    error

	namespaceSeq atomic.Int64
)

// migrationDir resolves <module>/migrations from this file's location so tests
// in any package find it
func migrationDir() string {
	if root := os.Getenv("SECT_ROOT"); root != "" {
		return filepath.Join(root, "migrations")
	}
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}

func loadMigrations() ([]string, error) {
	loadOnce.Do(func() {
		dir := migrationDir()
		entries, err := os.ReadDir(dir)
		if err != nil {
			loadErr = fmt.Errorf("reading migrations dir: %w", err)
			return
		}

		var names []string
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".surql") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			content, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				loadErr = fmt.Errorf("reading %s: %w", name, err)
				return
			}
			migrations = append(migrations, string(content))
		}
	})
	return migrations, loadErr
}

// New connects to SurrealDB, creates a fresh namespace and applies migrations.
// The namespace is removed when the test finishes. Tests skip unless
// TEST_DB_HOST or SECT_SURREAL_TESTS is set, or when the server is unreachable.
func New(t *testing.T) *TestDB {
	t.Helper()

	var s settings
	if err := env.Parse(&s); err != nil {
		t.Fatalf("testdb: parsing env: %v", err)
	}
	if s.Host == "" && !s.Enabled {
		t.Skip("testdb: set TEST_DB_HOST or SECT_SURREAL_TESTS to run against SurrealDB")
	}
	if s.Host == "" {
		s.Host = "localhost"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	namespace := fmt.Sprintf("sect_test_%d_%d", time.Now().UnixNano(), namespaceSeq.Add(1))
	db := database.NewSurrealDB(database.Config{
		Host:      s.Host,
		Port:      s.Port,
		User:      s.User,
		Password:  s.Password,
		Namespace: namespace,
		Database:  "test",
	})
	if err := db.Connect(ctx); err != nil {
		t.Skipf("testdb: surrealdb unavailable: %v", err)
	}

	tdb := &TestDB{DB: db, Namespace: namespace, t: t}
	t.Cleanup(tdb.close)

	migs, err := loadMigrations()
	if err != nil {
		t.Fatalf("testdb: loading migrations: %v", err)
	}
	for i, mig := range migs {
		if err := db.Execute(ctx, mig, nil); err != nil {
			t.Fatalf("testdb: migration %d failed: %v", i+1, err)
		}
	}

	return tdb
}

func (tdb *TestDB) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = tdb.DB.Execute(ctx, "REMOVE NAMESPACE "+tdb.Namespace, nil)
	tdb.DB.Close()
}

// Reset deletes every row while keeping the schema
func (tdb *TestDB) Reset() {
	tdb.t.Helper()
	for _, table := range Tables {
		tdb.MustExec("DELETE FROM "+table, nil)
	}
}

// MustExec executes a query and fails the test on error
func (tdb *TestDB) MustExec(query string, vars map[string]interface{}) {
	tdb.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tdb.DB.Execute(ctx, query, vars); err != nil {
		tdb.t.Fatalf("testdb: exec failed: %v\nQuery: %s", err, query)
	}
}
