package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/atelier/pkg/errors"
)

func TestApplier_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	a := &Applier{}

	results, err := a.Apply(context.Background(), dir, []File{
		{RelPath: "src/app/page.tsx", Contents: "page\n"},
		{RelPath: "src/components/Card.tsx", Contents: "card\n"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}

	data, err := os.ReadFile(filepath.Join(dir, "src", "app", "page.tsx"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "page\n" {
		t.Errorf("contents = %q", data)
	}
	if results[0].SizeBytes != 5 {
		t.Errorf("size = %d", results[0].SizeBytes)
	}
}

func TestApplier_ZeroFilesIsProviderError(t *testing.T) {
	a := &Applier{}
	_, err := a.Apply(context.Background(), t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *errors.ProviderError
	if !errors.As(err, &provErr) {
		t.Errorf("err = %v, want ProviderError", err)
	}
}

func TestApplier_ProtectedGlobsSkipped(t *testing.T) {
	dir := t.TempDir()
	a := &Applier{ProtectedGlobs: DefaultProtectedGlobs}

	results, err := a.Apply(context.Background(), dir, []File{
		{RelPath: "package.json", Contents: "{}"},
		{RelPath: "src/app/globals.css", Contents: "* {}"},
		{RelPath: "src/app/page.tsx", Contents: "ok\n"},
	})
	if err != nil {
		t.Fatal(err)
	}

	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); !os.IsNotExist(err) {
		t.Error("protected file was written")
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "app", "page.tsx")); err != nil {
		t.Error("allowed file was not written")
	}
}

func TestApplier_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	a := &Applier{}

	for _, contents := range []string{"v1\n", "v2\n"} {
		if _, err := a.Apply(context.Background(), dir, []File{{RelPath: "src/x.tsx", Contents: contents}}); err != nil {
			t.Fatal(err)
		}
	}

	data, _ := os.ReadFile(filepath.Join(dir, "src", "x.tsx"))
	if string(data) != "v2\n" {
		t.Errorf("contents = %q", data)
	}
}

func TestApplier_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &Applier{}
	_, err := a.Apply(ctx, t.TempDir(), []File{{RelPath: "src/x.tsx", Contents: "x"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644)
	os.WriteFile(filepath.Join(src, "nested", "deep.txt"), []byte("deep"), 0o600)

	if err := CopyDir(src, dst); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "nested", "deep.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "deep" {
		t.Errorf("contents = %q", data)
	}
	info, _ := os.Stat(filepath.Join(dst, "nested", "deep.txt"))
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}
