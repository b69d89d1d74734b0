package postgres

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"testing"

	"relcore/internal/infra/persistence/postgres/testutil"
	"relcore/pkg/domain"
)

var (
	c1 = domain.ObjectID{ClassID: "Customer", Value: "c1"}
	o1 = domain.ObjectID{ClassID: "Order", Value: "o1"}
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreCreatesTablesAndPersists(t *testing.T) {
	store, conn := openStub(t)
	var ddl int
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			ddl++
		}
	}
	if ddl != 2 {
		t.Fatalf("expected state and snapshot tables, got execs %v", conn.Execs)
	}

	err := store.Save(context.Background(), domain.ChangeSet{Upserts: []domain.Record{
		{ID: c1, Values: map[string]any{"Name": "Ada"}},
		{ID: o1, Values: map[string]any{"Number": int64(3), "Customer": c1}},
	}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := len(conn.Tables["state"]); got != 2 {
		t.Fatalf("expected two buckets, got %d", got)
	}

	snapshot, err := loadSnapshot(context.Background(), store.DB())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got := snapshot.Classes(); !slices.Equal(got, []string{"Customer", "Order"}) {
		t.Fatalf("unexpected classes %v", got)
	}
	rec, err := snapshot["Order"][0].Record("Order")
	if err != nil || rec.ForeignKey("Customer") != c1 || rec.Values["Number"] != int64(3) {
		t.Fatalf("unexpected record %#v (%v)", rec.Values, err)
	}
}

func TestNewStoreHydratesFromExistingState(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Tables["state"] = []map[string]any{
		{"bucket": "Order", "payload": []byte(`[{"id":"o1","values":{"Number":5},"refs":{"Customer":"Customer|c1"}}]`)},
	}
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := NewStore(context.Background(), "postgres://example/relcore")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec, err := store.LoadRecord(o1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Values["Number"] != int64(5) || rec.ForeignKey("Customer") != c1 {
		t.Fatalf("unexpected record %#v", rec.Values)
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
	restore()

	db, conn = testutil.NewStubDB()
	conn.Tables["state"] = []map[string]any{{"bucket": "Order", "payload": []byte(`{not json`)}}
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "decode Order") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSaveFailuresKeepState(t *testing.T) {
	store, conn := openStub(t)
	ctx := context.Background()
	if err := store.Save(ctx, domain.ChangeSet{Upserts: []domain.Record{{ID: c1, Values: map[string]any{"Name": "Ada"}}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	for name, fail := range map[string]func(){
		"begin":  func() { conn.FailBegin = true },
		"exec":   func() { conn.FailTables = map[string]bool{"state": true} },
		"commit": func() { conn.FailCommit = true },
	} {
		conn.FailBegin, conn.FailTables, conn.FailCommit = false, nil, false
		fail()
		if err := store.Save(ctx, domain.ChangeSet{Deletes: []domain.ObjectID{c1}}); err == nil {
			t.Fatalf("%s: expected save to fail", name)
		}
		if _, err := store.LoadRecord(c1); err != nil {
			t.Fatalf("%s: expected c1 to survive: %v", name, err)
		}
	}
}

func TestSnapshotsTable(t *testing.T) {
	store, _ := openStub(t)
	ctx := context.Background()
	if _, err := store.GetSnapshot(ctx, "nightly"); !errors.As(err, new(domain.SnapshotNotFoundError)) {
		t.Fatalf("expected not found, got %v", err)
	}
	for _, name := range []string{"nightly", "adhoc"} {
		if err := store.PutSnapshot(ctx, name, []byte(`{"v":1}`)); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	if err := store.PutSnapshot(ctx, "nightly", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	payload, err := store.GetSnapshot(ctx, "nightly")
	if err != nil || string(payload) != `{"v":2}` {
		t.Fatalf("get: %s %v", payload, err)
	}
	names, err := store.ListSnapshots(ctx)
	if err != nil || !slices.Equal(names, []string{"adhoc", "nightly"}) {
		t.Fatalf("list: %v %v", names, err)
	}
	if ok, err := store.DeleteSnapshot(ctx, "adhoc"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.DeleteSnapshot(ctx, "adhoc"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}
