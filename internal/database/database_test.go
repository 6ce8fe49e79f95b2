package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openFile(t *testing.T) Database {
	t.Helper()
	url := "sqlite:///" + filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(context.Background(), "mysql://root@localhost/db", nil)
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}

func TestNewDatabase_SQLite(t *testing.T) {
	db := openFile(t)
	if !db.IsSQLite() || db.IsPostgres() {
		t.Error("expected sqlite dialect")
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewDatabase_MemorySharesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := NewDatabase(ctx, "sqlite:///:memory:", nil)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Session(ctx).Exec("CREATE TABLE items (id INTEGER PRIMARY KEY)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	// A second session must see the same in-memory database.
	var n int64
	if err := db.Session(ctx).Table("items").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
}

func TestWithTransaction_Commit(t *testing.T) {
	ctx := context.Background()
	db := openFile(t)
	if err := db.Session(ctx).Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}

	err := WithTransaction(ctx, db, func(tx *gorm.DB) error {
		return tx.Exec("INSERT INTO items (name) VALUES (?)", "a").Error
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}

	var n int64
	db.Session(ctx).Table("items").Count(&n)
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	db := openFile(t)
	if err := db.Session(ctx).Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err := WithTransaction(ctx, db, func(tx *gorm.DB) error {
		if err := tx.Exec("INSERT INTO items (name) VALUES (?)", "a").Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int64
	db.Session(ctx).Table("items").Count(&n)
	if n != 0 {
		t.Errorf("expected rollback, got %d rows", n)
	}
}

func TestWithTransactionResult(t *testing.T) {
	ctx := context.Background()
	db := openFile(t)
	if err := db.Session(ctx).Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}

	id, err := WithTransactionResult(ctx, db, func(tx *gorm.DB) (int64, error) {
		if err := tx.Exec("INSERT INTO items (name) VALUES (?)", "a").Error; err != nil {
			return 0, err
		}
		var id int64
		err := tx.Raw("SELECT id FROM items WHERE name = ?", "a").Scan(&id).Error
		return id, err
	})
	if err != nil {
		t.Fatalf("WithTransactionResult: %v", err)
	}
	if id != 1 {
		t.Errorf("expected id 1, got %d", id)
	}
}

func TestTransaction_DoubleCommit(t *testing.T) {
	db := openFile(t)
	txn, err := NewTransaction(context.Background(), db)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Errorf("second Commit should be a no-op, got %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Errorf("Rollback after commit should be a no-op, got %v", err)
	}
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	if truncateSQL(short) != short {
		t.Error("short SQL should be unchanged")
	}
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateSQL(string(long))
	if len(got) > maxSQLLength {
		t.Errorf("expected <= %d chars, got %d", maxSQLLength, len(got))
	}
}

func TestZapGormLogger_RecordNotFoundIsNotError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := newZapGormLogger(zap.New(core))
	fc := func() (string, int64) { return "SELECT * FROM posts", 0 }

	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now(), fc, errors.New("disk I/O error"))

	if n := logs.FilterMessage("gorm query error").Len(); n != 1 {
		t.Errorf("expected 1 error entry, got %d", n)
	}
	if n := logs.FilterMessage("gorm query").Len(); n != 1 {
		t.Errorf("expected 1 debug entry, got %d", n)
	}
}
