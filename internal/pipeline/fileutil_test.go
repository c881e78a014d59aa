package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestWriteAtomicReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	if err := WriteAtomic(path, []byte("old")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if err := WriteAtomic(path, []byte("new")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "new" {
		t.Errorf("content = %q, want %q", data, "new")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestWriteReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "job.json")

	in := Job{ID: "job-1", WebsiteID: "acme", Phase: PhaseCapturing, Percent: 10}
	if err := WriteJSON(path, &in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out Job
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out.ID != "job-1" || out.WebsiteID != "acme" || out.Phase != PhaseCapturing {
		t.Errorf("round-trip mismatch: %+v", out)
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	write("index.html", "<html></html>")
	write("components/Header.jsx", "export default null")
	write("assets/css/site.css", "body{}")

	copied, err := CopyTree(src, dst)
	if err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	sort.Strings(copied)

	want := []string{
		filepath.Join("assets", "css", "site.css"),
		filepath.Join("components", "Header.jsx"),
		"index.html",
	}
	if len(copied) != len(want) {
		t.Fatalf("copied %d files, want %d: %v", len(copied), len(want), copied)
	}
	for i := range want {
		if copied[i] != want[i] {
			t.Errorf("copied[%d] = %q, want %q", i, copied[i], want[i])
		}
	}

	data, err := os.ReadFile(filepath.Join(dst, "components", "Header.jsx"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "export default null" {
		t.Errorf("content = %q, want %q", data, "export default null")
	}
}

func TestCopyTreeSourceMustBeDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := CopyTree(file, t.TempDir()); err == nil {
		t.Error("CopyTree on a file should fail")
	}
}
