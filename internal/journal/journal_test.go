package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewfead/vigil/internal/tracker"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "vigil-journal-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	dbPath := filepath.Join(tmpDir, "nested", "journal.db")
	j, err := Open(dbPath, 16)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	return j, dbPath
}

func TestRecordIsFlushedOnClose(t *testing.T) {
	j, dbPath := openTemp(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	j.Record(tracker.Activity{Kind: tracker.ActivityProjectCreated, ProjectID: "-work-app", Path: "/work/app", At: base})
	j.Record(tracker.Activity{Kind: tracker.ActivitySubagentStarted, ProjectID: "-work-app", SubjectID: "t1", Detail: "Explore", At: base.Add(time.Second)})
	j.Record(tracker.Activity{Kind: tracker.ActivityProjectCreated, ProjectID: "-work-api", Path: "/work/api", At: base.Add(2 * time.Second)})

	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	j.Record(tracker.Activity{Kind: "after-close"})

	j, err := Open(dbPath, 16)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	all, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].ProjectID != "-work-api" {
		t.Errorf("expected newest first, got %s", all[0].ProjectID)
	}
	if all[2].ID == "" {
		t.Error("expected generated id")
	}
	if !all[2].At.Equal(base) {
		t.Errorf("expected timestamp %v, got %v", base, all[2].At)
	}

	app, err := j.List(ctx, Filter{ProjectID: "-work-app"})
	if err != nil {
		t.Fatalf("list by project: %v", err)
	}
	if len(app) != 2 {
		t.Errorf("expected 2 entries for -work-app, got %d", len(app))
	}

	started, _ := j.List(ctx, Filter{Kind: tracker.ActivitySubagentStarted})
	if len(started) != 1 || started[0].Detail != "Explore" {
		t.Errorf("expected one subagent entry, got %+v", started)
	}

	limited, _ := j.List(ctx, Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit honored, got %d", len(limited))
	}

	recent, _ := j.List(ctx, Filter{Since: base.Add(time.Second)})
	if len(recent) != 2 {
		t.Errorf("expected 2 entries since cutoff, got %d", len(recent))
	}
}

func TestPrune(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := j.Append(ctx, Entry{Kind: tracker.ActivityStatusChanged, ProjectID: "p", At: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := j.Prune(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
	left, _ := j.List(ctx, Filter{})
	if len(left) != 2 {
		t.Errorf("expected 2 left, got %d", len(left))
	}
}

func TestRecordDropsWhenFull(t *testing.T) {
	j := &Journal{queue: make(chan Entry, 1)}
	j.Record(tracker.Activity{Kind: "a"})
	j.Record(tracker.Activity{Kind: "b"})
	if j.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", j.Dropped())
	}
}
