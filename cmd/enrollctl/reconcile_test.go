package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"codelab.org/internal/enrollment"
	"codelab.org/internal/ids"
)

type fakeOrphans struct {
	list      []enrollment.Settlement
	err       error
	olderThan time.Duration
}

func (f *fakeOrphans) Orphans(ctx context.Context, olderThan time.Duration) ([]enrollment.Settlement, error) {
	f.olderThan = olderThan
	return f.list, f.err
}

func TestReconcileReportsOrphans(t *testing.T) {
	f := &fakeOrphans{list: []enrollment.Settlement{{
		ID: "set_1", ClassOfferingID: "c1", StudentEmail: "s@example.com",
		SettledAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}}}
	var out bytes.Buffer
	err := reconcile(context.Background(), &out, f, 10*time.Minute)
	if !errors.Is(err, errOrphansFound) {
		t.Fatalf("expected errOrphansFound, got %v", err)
	}
	if f.olderThan != 10*time.Minute {
		t.Fatalf("grace period not passed through: %v", f.olderThan)
	}
	if !strings.Contains(out.String(), "set_1") || !strings.Contains(out.String(), "2026-05-01T12:00:00Z") || !strings.Contains(out.String(), "AGE") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestOrphanAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 10, 0, 0, time.UTC)

	legacy := enrollment.Settlement{ID: "set_1", SettledAt: now.Add(-7 * time.Minute)}
	if got := orphanAge(legacy, now); got != 7*time.Minute {
		t.Fatalf("fallback age = %v, want 7m", got)
	}

	id := ids.New("set")
	minted, err := ids.Time(id)
	if err != nil {
		t.Fatalf("ids.Time: %v", err)
	}
	o := enrollment.Settlement{ID: id, SettledAt: minted.Add(-time.Hour)}
	if got := orphanAge(o, minted.Add(90*time.Second)); got != 90*time.Second {
		t.Fatalf("minted age = %v, want 1m30s", got)
	}
}

func TestReconcileClean(t *testing.T) {
	var out bytes.Buffer
	if err := reconcile(context.Background(), &out, &fakeOrphans{}, time.Minute); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(out.String(), "no orphaned settlements") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestReconcileWithServiceOverMemory(t *testing.T) {
	store := enrollment.NewInMemory()
	svc := enrollment.NewService(store)
	var out bytes.Buffer
	if err := reconcile(context.Background(), &out, svc, 0); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"migrate", "reconcile"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("missing %s command: %v", name, err)
		}
	}
	root.SetArgs([]string{"--dsn", "", "reconcile"})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "missing DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}
