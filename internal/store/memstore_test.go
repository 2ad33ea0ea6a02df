package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mkoski/entityscope/internal/metamodel"
)

type dept struct {
	ID         string
	Name       string
	LastUpdate time.Time
}

type employee struct {
	ID         string
	Name       string
	Age        int
	Active     bool
	Dept       *dept
	Mentor     *employee
	LastUpdate time.Time
}

func testCatalog(t *testing.T) *metamodel.Registry {
	t.Helper()
	reg := metamodel.NewRegistry()
	reg.MustRegister(dept{})
	reg.MustRegister(employee{})
	return reg
}

func openSession(t *testing.T, p Provider) Session {
	t.Helper()
	sess, err := p.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return sess
}

func TestMemStore_MergeAndQuery(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	m := NewMem(reg)
	sess := openSession(t, m)
	defer sess.Close()

	d := &dept{Name: "Engineering"}
	if _, err := sess.Merge(ctx, d); err != nil {
		t.Fatalf("Merge dept: %v", err)
	}
	if d.ID == "" {
		t.Fatal("Merge did not stamp an identity")
	}
	if d.LastUpdate.IsZero() {
		t.Error("Merge did not stamp lastUpdate")
	}

	e := &employee{Name: "Asta", Age: 35, Active: true, Dept: d}
	if _, err := sess.Merge(ctx, e); err != nil {
		t.Fatalf("Merge employee: %v", err)
	}

	emp, _ := reg.Entity("employee")
	rows, err := sess.Query(ctx, emp, "", 0, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	got := rows[0].(*employee)
	if got.Name != "Asta" || got.Age != 35 || !got.Active {
		t.Errorf("hydrated row = %+v", got)
	}
	if got.Dept == nil || got.Dept.Name != "Engineering" {
		t.Errorf("association not hydrated: %+v", got.Dept)
	}
}

func TestMemStore_QueryFilterFragment(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	m := NewMem(reg)
	sess := openSession(t, m)
	defer sess.Close()

	for i, name := range []string{"Ada", "Alan", "Barbara"} {
		if _, err := sess.Merge(ctx, &employee{Name: name, Age: 30 + i}); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	emp, _ := reg.Entity("employee")

	cases := []struct {
		fragment string
		want     int
	}{
		{"name LIKE 'a%'", 2},
		{"name LIKE '%ar%'", 1},
		{"name = 'Alan'", 1},
		{"age > 30", 2},
		{"age >= 30 AND name LIKE 'a%'", 2},
		{"age <> 31", 2},
		{"name = 'Nobody'", 0},
	}
	for _, tc := range cases {
		rows, err := sess.Query(ctx, emp, tc.fragment, 0, 50)
		if err != nil {
			t.Fatalf("Query(%q): %v", tc.fragment, err)
		}
		if len(rows) != tc.want {
			t.Errorf("Query(%q) = %d rows, want %d", tc.fragment, len(rows), tc.want)
		}
	}
}

func TestSplitAnd(t *testing.T) {
	cases := []struct {
		fragment string
		want     []string
	}{
		{"age >= 30 AND name LIKE 'a%'", []string{"age >= 30 ", " name LIKE 'a%'"}},
		{"a = 1 AND b = 2 AND c = 3", []string{"a = 1 ", " b = 2 ", " c = 3"}},
		{"name = 'x AND y'", []string{"name = 'x AND y'"}},
		{"brand = 'ANDOR'", []string{"brand = 'ANDOR'"}},
		{"android = 1", []string{"android = 1"}},
		{"operand = 1", []string{"operand = 1"}},
		{"age > 2 and name = 'a'", []string{"age > 2 ", " name = 'a'"}},
	}
	for _, tc := range cases {
		got := splitAnd(tc.fragment)
		if len(got) != len(tc.want) {
			t.Errorf("splitAnd(%q) = %d parts %q, want %d", tc.fragment, len(got), got, len(tc.want))
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitAnd(%q)[%d] = %q, want %q", tc.fragment, i, got[i], tc.want[i])
			}
		}
	}
}

func TestMemStore_QueryBadFragment(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	sess := openSession(t, NewMem(reg))
	defer sess.Close()

	emp, _ := reg.Entity("employee")
	for _, fragment := range []string{"garbage", "name ~ 'x'", "nosuch = 1 AND", "AND name = 'x'"} {
		if _, err := sess.Query(ctx, emp, fragment, 0, 10); err == nil {
			t.Errorf("Query(%q) succeeded, want error", fragment)
		}
	}
}

func TestMemStore_QueryWindow(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	sess := openSession(t, NewMem(reg))
	defer sess.Close()

	for i := 0; i < 7; i++ {
		if _, err := sess.Merge(ctx, &employee{Name: fmt.Sprintf("p%d", i)}); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	emp, _ := reg.Entity("employee")

	rows, err := sess.Query(ctx, emp, "", 5, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("window rows = %d, want 2", len(rows))
	}
}

func TestMemStore_TransactionCommit(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	m := NewMem(reg)
	sess := openSession(t, m)
	defer sess.Close()

	emp, _ := reg.Entity("employee")
	if err := sess.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := sess.Merge(ctx, &employee{Name: "Staged"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	// Staged rows are not visible until commit.
	if n := m.Count(emp); n != 0 {
		t.Errorf("pre-commit count = %d, want 0", n)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := m.Count(emp); n != 1 {
		t.Errorf("post-commit count = %d, want 1", n)
	}
}

func TestMemStore_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	m := NewMem(reg)
	sess := openSession(t, m)
	defer sess.Close()

	emp, _ := reg.Entity("employee")
	sess.Begin(ctx)
	sess.Merge(ctx, &employee{Name: "Abandoned"})
	if err := sess.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if n := m.Count(emp); n != 0 {
		t.Errorf("post-rollback count = %d, want 0", n)
	}
	// The transaction is gone; a second rollback has nothing to discard.
	if err := sess.Rollback(); err != ErrNoTransaction {
		t.Errorf("second Rollback = %v, want ErrNoTransaction", err)
	}
}

func TestMemStore_FailedCommitLeavesDataAndTxOpen(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	m := NewMem(reg)

	seedSess := openSession(t, m)
	e := &employee{Name: "Guarded"}
	if _, err := seedSess.Merge(ctx, e); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	seedSess.Close()

	m.RemoveGuard = func(*metamodel.Entity, record) error {
		return fmt.Errorf("foreign key constraint failed")
	}
	emp, _ := reg.Entity("employee")

	sess := openSession(t, m)
	defer sess.Close()
	sess.Begin(ctx)
	if err := sess.Remove(ctx, e); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	err := sess.Commit()
	if err == nil {
		t.Fatal("Commit succeeded, want constraint failure")
	}
	// The row survives and exactly one rollback is owed.
	if n := m.Count(emp); n != 1 {
		t.Errorf("count after failed commit = %d, want 1", n)
	}
	if err := sess.Rollback(); err != nil {
		t.Errorf("Rollback after failed commit: %v", err)
	}
	if err := sess.Rollback(); err != ErrNoTransaction {
		t.Errorf("second Rollback = %v, want ErrNoTransaction", err)
	}
}

func TestMemStore_DeleteFlow(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	m := NewMem(reg)
	sess := openSession(t, m)
	defer sess.Close()

	e := &employee{Name: "Doomed"}
	if _, err := sess.Merge(ctx, e); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	emp, _ := reg.Entity("employee")

	sess.Begin(ctx)
	managed, err := sess.Merge(ctx, e)
	if err != nil {
		t.Fatalf("reattach Merge: %v", err)
	}
	if err := sess.Remove(ctx, managed); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := m.Count(emp); n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
}

func TestMemStore_UpsertKeepsOneRowPerIdentity(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	m := NewMem(reg)
	sess := openSession(t, m)
	defer sess.Close()

	e := &employee{Name: "First"}
	sess.Merge(ctx, e)
	e.Name = "Second"
	sess.Merge(ctx, e)

	emp, _ := reg.Entity("employee")
	if n := m.Count(emp); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	rows, _ := sess.Query(ctx, emp, "", 0, 10)
	if rows[0].(*employee).Name != "Second" {
		t.Errorf("row = %+v, want updated name", rows[0])
	}
}

func TestMemStore_SessionCloseSemantics(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	sess := openSession(t, NewMem(reg))

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if _, err := sess.Merge(ctx, &employee{}); err != ErrClosed {
		t.Errorf("Merge after Close = %v, want ErrClosed", err)
	}
	emp, _ := reg.Entity("employee")
	if _, err := sess.Query(ctx, emp, "", 0, 1); err != ErrClosed {
		t.Errorf("Query after Close = %v, want ErrClosed", err)
	}
	if err := sess.Begin(ctx); err != ErrClosed {
		t.Errorf("Begin after Close = %v, want ErrClosed", err)
	}
}

func TestMemStore_SelfReferenceHydratesOneLevel(t *testing.T) {
	ctx := context.Background()
	reg := testCatalog(t)
	sess := openSession(t, NewMem(reg))
	defer sess.Close()

	boss := &employee{Name: "Boss"}
	sess.Merge(ctx, boss)
	boss.Mentor = boss // self-referential relation
	sess.Merge(ctx, boss)

	emp, _ := reg.Entity("employee")
	rows, err := sess.Query(ctx, emp, "", 0, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := rows[0].(*employee)
	if got.Mentor == nil {
		t.Fatal("mentor not hydrated")
	}
	if got.Mentor.Name != "Boss" {
		t.Errorf("mentor = %+v", got.Mentor)
	}
	// One level deep only: the nested instance carries scalars, not
	// further relations.
	if got.Mentor.Mentor != nil {
		t.Error("hydration descended past one level")
	}
}

func TestRollbackNotice(t *testing.T) {
	plain := fmt.Errorf("commit failed")
	if got := RollbackNotice(plain); got != "commit failed" {
		t.Errorf("RollbackNotice = %q", got)
	}
	wrapped := fmt.Errorf("commit failed: %w", fmt.Errorf("FOREIGN KEY constraint failed"))
	got := RollbackNotice(wrapped)
	want := "commit failed: FOREIGN KEY constraint failed:FOREIGN KEY constraint failed"
	if got != want {
		t.Errorf("RollbackNotice = %q, want %q", got, want)
	}
}
