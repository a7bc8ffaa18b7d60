package buildlog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"omniworker/internal/core/ports"
)

func record(id, path, hash string, at time.Time, d time.Duration) ports.BuildRecord {
	return ports.BuildRecord{
		WorkerID:      id,
		SourcePath:    path,
		ArtifactHash:  hash,
		ArtifactBytes: 100,
		References:    3,
		Classified:    1,
		Launcher:      "embedded",
		Duration:      d,
		BuiltAt:       at,
	}
}

func TestStore_RecordAndRecent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "builds.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, rec := range []ports.BuildRecord{
		record("w-1", "/src/a.ts", "h1", base, 10*time.Millisecond),
		record("w-2", "/src/a.ts", "h2", base.Add(time.Minute), 30*time.Millisecond),
		record("w-3", "/src/b.ts", "h3", base.Add(2*time.Minute), 20*time.Millisecond),
	} {
		if err := store.RecordBuild(ctx, rec); err != nil {
			t.Fatalf("record build %d: %v", i, err)
		}
	}

	got, err := store.Recent(ctx, "/src/a.ts", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 builds for a.ts, got %d", len(got))
	}
	if got[0].WorkerID != "w-2" || got[1].WorkerID != "w-1" {
		t.Fatalf("expected newest first, got %s then %s", got[0].WorkerID, got[1].WorkerID)
	}
	if got[0].Duration != 30*time.Millisecond || got[0].Launcher != "embedded" || got[0].Classified != 1 {
		t.Fatalf("expected fields to roundtrip, got %+v", got[0])
	}

	all, err := store.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 2 || all[0].WorkerID != "w-3" {
		t.Fatalf("expected limit and ordering across modules, got %+v", all)
	}
}

func TestStore_RecordUpsertsByWorkerID(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "builds.db"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := store.RecordBuild(ctx, record("w-1", "/src/a.ts", "old", base, time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordBuild(ctx, record("w-1", "/src/a.ts", "new", base, time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	got, err := store.Recent(ctx, "/src/a.ts", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ArtifactHash != "new" {
		t.Fatalf("expected upserted row, got %+v", got)
	}

	if err := store.RecordBuild(ctx, ports.BuildRecord{SourcePath: "/src/a.ts"}); err == nil {
		t.Fatal("expected error for record without worker id")
	}
}

func TestStore_OpenRejectsDirectoryPath(t *testing.T) {
	_, err := Open(t.TempDir(), 0)
	if err == nil {
		t.Fatal("expected open error for directory path")
	}
	if !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStore_OpenCorruptDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "builds.db")
	if err := os.WriteFile(path, []byte("this is not sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path, 0)
	if err == nil {
		t.Fatal("expected sqlite open error")
	}
	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "not a database") && !strings.Contains(lower, "schema") {
		t.Fatalf("expected schema/open error, got: %v", err)
	}
}

func TestEnsureSchema_DetectsNewerVersionDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "builds.db")
	store, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.db.Exec(`INSERT OR REPLACE INTO schema_migrations(version) VALUES (?)`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open(driverName, "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	err = EnsureSchema(db)
	if err == nil {
		t.Fatal("expected drift error")
	}
	if !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []Entry{
		{BuildRecord: record("w-3", "/a.ts", "h2", base.Add(2*time.Minute), 30*time.Millisecond)},
		{BuildRecord: record("w-2", "/a.ts", "h1", base.Add(time.Minute), 20*time.Millisecond)},
		{BuildRecord: record("w-1", "/a.ts", "h1", base, 10*time.Millisecond)},
	}

	s := Summarize("/a.ts", entries)
	if s.Builds != 3 || s.DistinctArtifacts != 2 || s.ArtifactChanges != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.AvgDuration != 20*time.Millisecond || s.MaxDuration != 30*time.Millisecond {
		t.Fatalf("unexpected durations: %+v", s)
	}
	if len(s.Launchers) != 1 || s.Launchers[0] != "embedded" {
		t.Fatalf("unexpected launchers %v", s.Launchers)
	}
	if !s.LastBuilt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected last built %v", s.LastBuilt)
	}

	if empty := Summarize("/b.ts", nil); empty.Builds != 0 || empty.AvgDuration != 0 {
		t.Fatalf("unexpected empty summary: %+v", empty)
	}
}
