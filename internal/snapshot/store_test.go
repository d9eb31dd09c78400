package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	return NewStore(root, nil, nil), root
}

// seedWorkspace builds a workspace with sources, a dependency dir and a
// build cache.
func seedWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, contents := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func defaultWorkspace(t *testing.T) string {
	return seedWorkspace(t, map[string]string{
		"package.json":           `{"name":"app"}`,
		"src/app/page.tsx":       "page-v1",
		"src/components/Nav.tsx": "nav-v1",
		"node_modules/react/index.js": "react",
		".next/cache/blob":            "cache",
	})
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, p)
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(out)
	return out
}

func TestStore_CreateExcludesDepsAndCaches(t *testing.T) {
	store, _ := newTestStore(t)
	ws := defaultWorkspace(t)
	ctx := context.Background()

	meta, err := store.Create(ctx, "p1", 0, ws)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Iteration != 0 || meta.SizeBytes <= 0 {
		t.Errorf("meta = %+v", meta)
	}
	if !store.Has("p1", 0) {
		t.Error("Has = false after Create")
	}

	dir, err := store.Extract(ctx, "p1", 0)
	if err != nil {
		t.Fatal(err)
	}
	got := listFiles(t, dir)
	want := []string{"package.json", "src/app/page.tsx", "src/components/Nav.tsx"}
	if len(got) != len(want) {
		t.Fatalf("extracted files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extracted[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStore_ExtractIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ws := defaultWorkspace(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "p1", 0, ws); err != nil {
		t.Fatal(err)
	}

	dir1, err := store.Extract(ctx, "p1", 0)
	if err != nil {
		t.Fatal(err)
	}
	// A marker survives the second call only if extract does not rerun.
	marker := filepath.Join(dir1, "marker")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dir2, err := store.Extract(ctx, "p1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if dir1 != dir2 {
		t.Errorf("dirs differ: %q vs %q", dir1, dir2)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("second extract rewrote the runtime directory")
	}
}

func TestStore_ExtractUnknownIterationIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Extract(context.Background(), "p1", 7); err == nil {
		t.Fatal("expected error")
	}
}

func TestStore_RestorePreservesDependencyDir(t *testing.T) {
	store, _ := newTestStore(t)
	ws := defaultWorkspace(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "p1", 0, ws); err != nil {
		t.Fatal(err)
	}

	// Mutate the workspace the way a later iteration would.
	os.WriteFile(filepath.Join(ws, "src", "app", "page.tsx"), []byte("page-v2"), 0o644)
	os.WriteFile(filepath.Join(ws, "src", "extra.tsx"), []byte("extra"), 0o644)
	depsMarker := filepath.Join(ws, DepsDirName, "installed-later")
	os.WriteFile(depsMarker, []byte("keep me"), 0o644)

	if err := store.Restore(ctx, "p1", 0, ws); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(filepath.Join(ws, "src", "app", "page.tsx"))
	if string(data) != "page-v1" {
		t.Errorf("page.tsx = %q, want page-v1", data)
	}
	if _, err := os.Stat(filepath.Join(ws, "src", "extra.tsx")); !os.IsNotExist(err) {
		t.Error("file added after the snapshot survived restore")
	}
	if _, err := os.Stat(depsMarker); err != nil {
		t.Error("restore touched the dependency directory")
	}
	if _, err := os.Stat(filepath.Join(ws, DepsDirName, "react", "index.js")); err != nil {
		t.Error("pre-existing dependency contents were removed")
	}
}

func TestStore_ListSortedAndSkipsCorrupt(t *testing.T) {
	store, _ := newTestStore(t)
	ws := defaultWorkspace(t)
	ctx := context.Background()

	for _, iter := range []int{2, 0, 1} {
		if _, err := store.Create(ctx, "p1", iter, ws); err != nil {
			t.Fatal(err)
		}
	}
	// Corrupt one sidecar.
	if err := os.WriteFile(store.metaPath("p1", 1), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("metas = %d, want 2 (corrupt skipped)", len(metas))
	}
	if metas[0].Iteration != 0 || metas[1].Iteration != 2 {
		t.Errorf("order = %d, %d", metas[0].Iteration, metas[1].Iteration)
	}
}

func TestStore_ListEmptyProject(t *testing.T) {
	store, _ := newTestStore(t)
	metas, err := store.List("nope")
	if err != nil || metas != nil {
		t.Errorf("List = %v, %v", metas, err)
	}
}

func TestStore_Cleanup(t *testing.T) {
	store, _ := newTestStore(t)
	ws := defaultWorkspace(t)
	ctx := context.Background()

	store.Create(ctx, "p1", 0, ws)
	dir, err := store.Extract(ctx, "p1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Cleanup("p1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("runtime directory survived cleanup")
	}
}

func TestStore_Latest(t *testing.T) {
	store, _ := newTestStore(t)
	ws := defaultWorkspace(t)
	ctx := context.Background()

	if got := store.Latest("p1"); got != -1 {
		t.Errorf("Latest on empty project = %d", got)
	}
	store.Create(ctx, "p1", 0, ws)
	store.Create(ctx, "p1", 3, ws)
	if got := store.Latest("p1"); got != 3 {
		t.Errorf("Latest = %d, want 3", got)
	}
}

func TestIterationFromName(t *testing.T) {
	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{"iter-0.tar.gz", 0, true},
		{"iter-12.json", 12, true},
		{"iter-x.json", 0, false},
		{"other.json", 0, false},
	}
	for _, tt := range tests {
		got, ok := iterationFromName(tt.name)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("iterationFromName(%q) = (%d, %v)", tt.name, got, ok)
		}
	}
}
