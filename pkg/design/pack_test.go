package design

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tombee/atelier/pkg/errors"
)

func writePack(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pack-2026-02-01")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(validManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, IRFileName), []byte(validIR), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadPack(t *testing.T) {
	dir := writePack(t)

	pack, err := LoadPack(dir)
	if err != nil {
		t.Fatalf("LoadPack: %v", err)
	}
	if pack.ID != "pack-2026-02-01" {
		t.Errorf("pack ID = %q, want directory base name", pack.ID)
	}
	if pack.Manifest.ProjectName != "storefront" {
		t.Errorf("manifest project = %q", pack.Manifest.ProjectName)
	}
	if len(pack.IR.NodesFor("home")) == 0 {
		t.Error("IR not loaded")
	}
}

func TestLoadPack_MissingFiles(t *testing.T) {
	if _, err := LoadPack(t.TempDir()); err == nil {
		t.Error("empty directory accepted")
	}

	dir := writePack(t)
	if err := os.Remove(filepath.Join(dir, IRFileName)); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPack(dir); err == nil {
		t.Error("pack without IR accepted")
	}
}

func TestPackBaselines(t *testing.T) {
	dir := writePack(t)
	rel := BaselineRelPath("home", "desktop", "default")
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, rel)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, rel), []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	pack, err := LoadPack(dir)
	if err != nil {
		t.Fatal(err)
	}

	if !pack.HasBaseline("home", "desktop", "default") {
		t.Error("existing baseline not found")
	}
	if pack.HasBaseline("home", "mobile", "default") {
		t.Error("missing baseline reported present")
	}

	data, err := pack.Baseline("home", "desktop", "default")
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("baseline content = %q", data)
	}

	_, err = pack.Baseline("home", "mobile", "default")
	var nf *errors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if nf.Resource != "baseline" {
		t.Errorf("resource = %q", nf.Resource)
	}
}

func TestPackWriteMeta(t *testing.T) {
	pack, err := LoadPack(writePack(t))
	if err != nil {
		t.Fatal(err)
	}

	imported := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if err := pack.WriteMeta(PackMeta{PackID: pack.ID, ImportedAt: imported}); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(pack.Dir, PackMetaFileName))
	if err != nil {
		t.Fatal(err)
	}
	var meta PackMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.PackID != pack.ID || !meta.ImportedAt.Equal(imported) {
		t.Errorf("meta = %+v", meta)
	}
}
